package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veritas/internal/audittrail"
	"veritas/internal/audittrail/store"
	id "veritas/pkg/domain"
)

type capturingProducer struct {
	records [][]byte
	keys    []string
	failAt  int // produce call index to fail at; -1 means never
	calls   int
}

func (p *capturingProducer) Produce(_ context.Context, key, value []byte) error {
	defer func() { p.calls++ }()
	if p.failAt >= 0 && p.calls == p.failAt {
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, string(key))
	p.records = append(p.records, value)
	return nil
}

func seed(t *testing.T, st *store.InMemoryStore, engagementID id.EngagementID, n int) {
	t.Helper()
	svc := audittrail.NewService(st)
	for i := 0; i < n; i++ {
		_, err := svc.Append(context.Background(), audittrail.Record{
			EngagementID: engagementID,
			EntityType:   audittrail.EntityApproval,
			EntityID:     id.NewApprovalID().String(),
			Actor:        id.NewUserID(),
			Action:       "approval.approved",
		})
		require.NoError(t, err)
	}
}

func TestDrainOncePublishesAndMarks(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	engagementID := id.NewEngagementID()
	seed(t, st, engagementID, 3)

	producer := &capturingProducer{failAt: -1}
	r := New(st, producer, slog.Default())

	require.NoError(t, r.DrainOnce(ctx))
	require.Len(t, producer.records, 3)

	// Keyed by engagement so partition ordering holds per engagement.
	for _, key := range producer.keys {
		assert.Equal(t, engagementID.String(), key)
	}

	var entry audittrail.Entry
	require.NoError(t, json.Unmarshal(producer.records[0], &entry))
	assert.Equal(t, int64(1), entry.Seq)
	assert.Equal(t, "approval.approved", entry.Action)

	// Nothing left pending; a second drain is a no-op.
	require.NoError(t, r.DrainOnce(ctx))
	assert.Len(t, producer.records, 3)
}

func TestDrainOnceResumesAfterFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	seed(t, st, id.NewEngagementID(), 3)

	producer := &capturingProducer{failAt: 1}
	r := New(st, producer, slog.Default())

	// First drain publishes entry 1, fails on entry 2.
	err := r.DrainOnce(ctx)
	require.Error(t, err)
	require.Len(t, producer.records, 1)

	// Next drain resumes from the failure point, not the beginning.
	require.NoError(t, r.DrainOnce(ctx))
	require.Len(t, producer.records, 3)

	var first, second audittrail.Entry
	require.NoError(t, json.Unmarshal(producer.records[0], &first))
	require.NoError(t, json.Unmarshal(producer.records[1], &second))
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
}

func TestDrainOnceRespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	seed(t, st, id.NewEngagementID(), 5)

	producer := &capturingProducer{failAt: -1}
	r := New(st, producer, slog.Default(), WithBatchSize(2))

	require.NoError(t, r.DrainOnce(ctx))
	assert.Len(t, producer.records, 2)
	require.NoError(t, r.DrainOnce(ctx))
	assert.Len(t, producer.records, 4)
	require.NoError(t, r.DrainOnce(ctx))
	assert.Len(t, producer.records, 5)
}
