package config

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Key(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "source field",
			err:  NewValidationError("source", "assessments", "where_in.source", ErrSourceNotFound),
			want: "sources[assessments].where_in.source",
		},
		{
			name: "join without field",
			err:  NewValidationError("join", "patient_report", "", errors.New("bad join")),
			want: "joins[patient_report]",
		},
		{
			name: "unnamed source",
			err:  NewValidationError("source", "", "name", ErrMissingRequiredField),
			want: "sources.name",
		},
		{
			name: "pipeline section",
			err:  NewValidationError("pipeline", "pipeline", "seed", ErrInvalidValue),
			want: "pipeline.seed",
		},
		{
			name: "alias overlap",
			err:  NewValidationError("aliases", "mrn", "MRN__c", errors.New("overlap")),
			want: "column_aliases.yaml[mrn]: MRN__c",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Key())
			assert.Equal(t, fmt.Sprintf("%s: %v", tt.want, tt.err.Err), tt.err.Error())
		})
	}
}

func TestValidationErrorUnwrap(t *testing.T) {
	validationErr := NewValidationError("pipeline", "pipeline", "seed", ErrInvalidValue)
	assert.True(t, errors.Is(validationErr, ErrInvalidValue))
}

func TestLoadError(t *testing.T) {
	baseErr := errors.New("yaml: unmarshal error")
	loadErr := NewLoadError("phimask.yaml", baseErr)

	assert.Equal(t, "failed to load phimask.yaml: yaml: unmarshal error", loadErr.Error())
	assert.True(t, errors.Is(loadErr, baseErr))

	missing := NewLoadError("phimask.yaml", fmt.Errorf("%w: /etc/phimask/phimask.yaml", ErrConfigNotFound))
	assert.Contains(t, missing.Error(), "check --config-dir")
	assert.ErrorIs(t, missing, ErrConfigNotFound)
}
