package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "output_dir: {{.OUT_DIR}}",
			env:   map[string]string{"OUT_DIR": "/tmp/masked"},
			want:  "output_dir: /tmp/masked",
		},
		{
			name:  "masking template is not expanded",
			input: `patient_name: "${first_name} ${last_name}"`,
			env:   map[string]string{"first_name": "Maria"},
			want:  `patient_name: "${first_name} ${last_name}"`,
		},
		{
			name:  "anchored pattern preserved",
			input: `sensitive_patterns: ["^ssn$"]`,
			env:   map[string]string{},
			want:  `sensitive_patterns: ["^ssn$"]`,
		},
		{
			name:  "multiple substitutions in one line",
			input: "table: {{.SCHEMA}}.{{.TABLE}}",
			env:   map[string]string{"SCHEMA": "clinic", "TABLE": "assessments"},
			want:  "table: clinic.assessments",
		},
		{
			name:  "missing variable expands to empty",
			input: "alias_file: {{.MISSING_VAR}}",
			env:   map[string]string{},
			want:  "alias_file: ",
		},
		{
			name:  "value containing equals sign",
			input: "query: {{.SOQL}}",
			env:   map[string]string{"SOQL": "SELECT Id FROM Patient__c WHERE Active__c = true"},
			want:  "query: SELECT Id FROM Patient__c WHERE Active__c = true",
		},
		{
			name:  "malformed template passes through",
			input: "seed: {{.SEED",
			env:   map[string]string{"SEED": "7"},
			want:  "seed: {{.SEED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}

func TestExpandEnvBeforeYAMLParse(t *testing.T) {
	t.Setenv("PHIMASK_SEED", "1234")

	var cfg PhimaskYAMLConfig
	data := ExpandEnv([]byte("pipeline:\n  seed: {{.PHIMASK_SEED}}\n  identifier_column: mrn\n"))
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	require.NotNil(t, cfg.Pipeline)
	require.NotNil(t, cfg.Pipeline.Seed)
	assert.Equal(t, uint64(1234), *cfg.Pipeline.Seed)
	assert.Equal(t, "mrn", cfg.Pipeline.IdentifierColumn)
}

func TestExpandEnvWithEmptyInput(t *testing.T) {
	assert.Equal(t, "", string(ExpandEnv([]byte(""))))
}
