package domain_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

func TestParseEngagementID(t *testing.T) {
	t.Run("round-trips a valid uuid", func(t *testing.T) {
		want := uuid.New().String()

		got, err := id.ParseEngagementID(want)

		require.NoError(t, err)
		assert.Equal(t, want, got.String())
	})

	t.Run("accepts uppercase hex", func(t *testing.T) {
		raw := strings.ToUpper(uuid.New().String())

		got, err := id.ParseEngagementID(raw)

		require.NoError(t, err)
		assert.Equal(t, strings.ToLower(raw), got.String())
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		tests := []struct {
			name  string
			input string
		}{
			{"empty string", ""},
			{"not a uuid", "ENG-2026-001"},
			{"truncated uuid", uuid.New().String()[:20]},
			{"sql injection", "'; DROP TABLE engagements; --"},
			{"path traversal", "../../etc/passwd"},
			{"embedded null byte", "a4f\x00b2c1-0000-0000-0000-000000000000"},
			{"nil uuid", uuid.Nil.String()},
			{"extra characters", uuid.New().String() + "x"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := id.ParseEngagementID(tt.input)

				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				assert.True(t, got.IsNil())
			})
		}
	})
}

// The parse functions share one validator, so each type only needs the
// round-trip and nil-rejection checks here.
func TestParseIDTypes(t *testing.T) {
	valid := uuid.New().String()

	tests := []struct {
		name  string
		parse func(string) (interface{ String() string }, error)
	}{
		{"control", wrap(id.ParseControlID)},
		{"user", wrap(id.ParseUserID)},
		{"evidence", wrap(id.ParseEvidenceID)},
		{"task", wrap(id.ParseTaskID)},
		{"approval", wrap(id.ParseApprovalID)},
		{"test plan", wrap(id.ParseTestPlanID)},
		{"test result", wrap(id.ParseTestResultID)},
		{"deviation", wrap(id.ParseDeviationID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.parse(valid)
			require.NoError(t, err)
			assert.Equal(t, valid, got.String())

			_, err = tt.parse(uuid.Nil.String())
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

			_, err = tt.parse("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.name)
		})
	}
}

func wrap[T interface{ String() string }](f func(string) (T, error)) func(string) (interface{ String() string }, error) {
	return func(s string) (interface{ String() string }, error) {
		v, err := f(s)
		return v, err
	}
}

func TestNewIDsAreDistinct(t *testing.T) {
	a := id.NewEngagementID()
	b := id.NewEngagementID()

	assert.NotEqual(t, a, b)
	assert.False(t, a.IsNil())
	assert.False(t, b.IsNil())
}
