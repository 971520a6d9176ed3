package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePatterns(t *testing.T) {
	patterns, err := compilePatterns([]string{`^ssn$`, `phone`, `_dob$`})
	require.NoError(t, err)
	require.Len(t, patterns, 3)
	assert.Equal(t, "phone", patterns[1].Source)

	tests := []struct {
		column string
		want   bool
	}{
		{"ssn", true},
		{"SSN", true},
		{"ssn_last4", false},
		{"Home_Phone__c", true},
		{"patient_DOB", true},
		{"dob_verified", false},
		{"facility", false},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesAny(patterns, tt.column))
		})
	}
}

func TestCompilePatterns_Invalid(t *testing.T) {
	_, err := compilePatterns([]string{`ok`, `(unclosed`})
	require.ErrorIs(t, err, ErrInvalidRule)
	assert.Contains(t, err.Error(), "(unclosed")
}

func TestCompilePatterns_Empty(t *testing.T) {
	patterns, err := compilePatterns(nil)
	require.NoError(t, err)
	assert.Empty(t, patterns)
	assert.False(t, matchesAny(patterns, "anything"))
}
