// Package cache memoizes risk assessments in Redis. Keys carry the model
// version, so stale entries can never be served for a newly activated
// model; activation additionally flushes the old generation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"veritas/internal/prediction"
	platformredis "veritas/internal/platform/redis"
	id "veritas/pkg/domain"
)

const keyPrefix = "veritas:risk"

var _ prediction.AssessmentCache = (*AssessmentCache)(nil)

// AssessmentCache stores serialized assessments. A nil client disables
// caching; every method degrades to a miss.
type AssessmentCache struct {
	client *platformredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New builds the cache. client may be nil.
func New(client *platformredis.Client, ttl time.Duration, logger *slog.Logger) *AssessmentCache {
	return &AssessmentCache{client: client, ttl: ttl, logger: logger}
}

func key(controlID id.ControlID, version int) string {
	return fmt.Sprintf("%s:v%d:%s", keyPrefix, version, controlID)
}

// Get returns the cached assessment for a control under a model version.
func (c *AssessmentCache) Get(ctx context.Context, controlID id.ControlID, version int) (*prediction.RiskAssessment, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, key(controlID, version)).Bytes()
	if err != nil {
		return nil, false
	}
	var assessment prediction.RiskAssessment
	if err := json.Unmarshal(raw, &assessment); err != nil {
		c.logger.WarnContext(ctx, "discarding unreadable cached assessment", "control_id", controlID, "error", err.Error())
		return nil, false
	}
	return &assessment, true
}

// Set stores an assessment. Failures are logged, never surfaced: the cache
// is an optimization, not a dependency.
func (c *AssessmentCache) Set(ctx context.Context, assessment *prediction.RiskAssessment) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(assessment)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(assessment.ControlID, assessment.ModelVersion), raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "assessment cache write failed", "error", err.Error())
	}
}

// Flush removes every cached assessment. Called on model activation.
func (c *AssessmentCache) Flush(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, keyPrefix+":*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.WarnContext(ctx, "assessment cache scan failed", "error", err.Error())
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.logger.WarnContext(ctx, "assessment cache flush failed", "error", err.Error())
		}
	}
}
