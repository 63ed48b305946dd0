// Package evidence implements the content-addressed artifact registry:
// ingestion with dedupe, integrity verification, quality scoring, and
// version supersession. Artifacts are immutable once hashed; a new upload
// creates a new version, never an overwrite.
package evidence

import (
	"time"

	id "veritas/pkg/domain"
)

// Metadata is the caller-supplied context for an ingested artifact.
type Metadata struct {
	EngagementID id.EngagementID
	ControlID    id.ControlID // optional link to the control under test
	FileName     string
	ContentType  string
	Source       string
	UploadedBy   id.UserID
}

// Scores are the three independent quality dimensions in [0,1]. A nil
// *Scores on Evidence means the scorer was unavailable and the artifact is
// unscored; scoring failures never block ingestion.
type Scores struct {
	Completeness float64 `json:"completeness"`
	Relevance    float64 `json:"relevance"`
	Quality      float64 `json:"quality"`
}

// Evidence is one artifact version in the ledger.
type Evidence struct {
	ID           id.EvidenceID   `json:"id"`
	EngagementID id.EngagementID `json:"engagement_id"`
	ControlID    id.ControlID    `json:"control_id,omitempty"`
	SHA256Hash   string          `json:"sha256_hash"`
	FileName     string          `json:"file_name"`
	ContentType  string          `json:"content_type"`
	Source       string          `json:"source"`
	SizeBytes    int64           `json:"size_bytes"`
	Scores       *Scores         `json:"scores,omitempty"`
	Version      int             `json:"version"`
	SupersededBy *id.EvidenceID  `json:"superseded_by,omitempty"`
	UploadedBy   id.UserID       `json:"uploaded_by"`
	UploadedAt   time.Time       `json:"uploaded_at"`
}

// IntegrityResult reports a verification pass. Mismatches are surfaced,
// never auto-repaired.
type IntegrityResult struct {
	EvidenceID   id.EvidenceID `json:"evidence_id"`
	Match        bool          `json:"match"`
	StoredHash   string        `json:"stored_hash"`
	ComputedHash string        `json:"computed_hash,omitempty"`
}
