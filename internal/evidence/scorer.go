package evidence

import (
	"context"
	"strings"
)

// Scorer rates an artifact on three independent dimensions in [0,1].
// Implementations may call out to document analysis; the default is a
// deterministic heuristic. A scorer error degrades the artifact to unscored.
type Scorer interface {
	Score(ctx context.Context, contents []byte, meta Metadata) (Scores, error)
}

// HeuristicScorer is the default deterministic scorer. It rewards artifacts
// that are non-trivially sized, carry identifying metadata, and mention
// audit-relevant terms.
type HeuristicScorer struct{}

// relevanceTerms are the context markers auditors expect inside supporting
// evidence for control testing.
var relevanceTerms = []string{
	"control", "policy", "procedure", "review", "approval",
	"access", "change", "backup", "incident", "ticket",
}

// Score rates the artifact. Never returns an error; the interface allows
// failures for scorers backed by external services.
func (HeuristicScorer) Score(_ context.Context, contents []byte, meta Metadata) (Scores, error) {
	var s Scores

	// Completeness: required metadata fields present and content non-empty.
	fields := 0
	for _, v := range []string{meta.FileName, meta.ContentType, meta.Source} {
		if v != "" {
			fields++
		}
	}
	s.Completeness = float64(fields) / 3.0
	if len(contents) == 0 {
		s.Completeness = 0
	}

	// Relevance: fraction of audit terms present, boosted when the artifact
	// is linked to a specific control.
	text := strings.ToLower(string(contents))
	hits := 0
	for _, term := range relevanceTerms {
		if strings.Contains(text, term) {
			hits++
		}
	}
	s.Relevance = float64(hits) / float64(len(relevanceTerms))
	if !meta.ControlID.IsNil() && s.Relevance < 1.0 {
		s.Relevance += (1.0 - s.Relevance) * 0.25
	}

	// Quality composite: completeness and relevance weighted, with a floor
	// penalty for near-empty artifacts.
	s.Quality = 0.6*s.Completeness + 0.4*s.Relevance
	if len(contents) < 64 {
		s.Quality *= 0.5
	}

	return s, nil
}
