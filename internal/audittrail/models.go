// Package audittrail implements the append-only, hash-chained event store.
// Every audited mutation in the system writes through it; nothing ever
// updates or deletes a written entry.
package audittrail

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	id "veritas/pkg/domain"
)

// EntityType names the domain aggregate an entry describes.
type EntityType string

const (
	EntityEngagement EntityType = "engagement"
	EntityControl    EntityType = "control"
	EntityTestPlan   EntityType = "test_plan"
	EntityTestResult EntityType = "test_result"
	EntityDeviation  EntityType = "deviation"
	EntityApproval   EntityType = "approval"
	EntityEvidence   EntityType = "evidence"
	EntityTask       EntityType = "workflow_task"
	EntityModel      EntityType = "risk_model"
)

// Record is the caller-supplied payload for an append. The service assigns
// identity, sequence, timestamps, and hashes.
type Record struct {
	EngagementID id.EngagementID
	EntityType   EntityType
	EntityID     string
	Actor        id.UserID
	Action       string
	Before       json.RawMessage
	After        json.RawMessage
}

// Entry is one immutable link in an engagement's hash chain.
type Entry struct {
	ID           id.EntryID      `json:"id"`
	EngagementID id.EngagementID `json:"engagement_id"`
	Seq          int64           `json:"seq"`
	EntityType   EntityType      `json:"entity_type"`
	EntityID     string          `json:"entity_id"`
	Actor        id.UserID       `json:"actor"`
	Action       string          `json:"action"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	PrevHash     string          `json:"prev_hash"`
	EventHash    string          `json:"event_hash"`
}

// GenesisHash anchors the first entry of every engagement's chain. A fixed
// non-empty constant so verification never confuses "no predecessor" with an
// empty stored field.
var GenesisHash = func() string {
	sum := sha256.Sum256([]byte("veritas.audit-trail.genesis"))
	return hex.EncodeToString(sum[:])
}()

// ComputeHash derives the entry hash from every stored field and the
// predecessor hash, so no field can be rewritten in place without breaking
// verification. The input layout is fixed; changing it invalidates every
// stored chain.
func ComputeHash(e *Entry) string {
	h := sha256.New()
	for _, field := range []string{
		e.ID.String(),
		string(e.EntityType),
		e.EntityID,
		e.Actor.String(),
		e.Action,
		snapshotDigest(e.Before),
		snapshotDigest(e.After),
		e.PrevHash,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	} {
		h.Write([]byte(field))
		h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// snapshotDigest hashes a before/after snapshot in canonical form, so the
// same snapshot hashes identically regardless of how the driver re-encoded
// it (key order, whitespace). Absent snapshots digest to the empty string.
func snapshotDigest(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		if canonical, err := json.Marshal(v); err == nil {
			raw = canonical
		}
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ChainReport is the result of verifying an engagement's chain. Valid chains
// carry no tamper point; invalid ones identify the earliest tampered entry,
// from which invalidity propagates forward.
type ChainReport struct {
	EngagementID id.EngagementID `json:"engagement_id"`
	Valid        bool            `json:"valid"`
	Entries      int             `json:"entries"`
	TamperedID   *id.EntryID     `json:"tampered_entry_id,omitempty"`
	TamperedSeq  *int64          `json:"tampered_seq,omitempty"`
}
