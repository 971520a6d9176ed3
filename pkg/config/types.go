package config

import (
	"time"

	"github.com/phimask/phimask/pkg/masking"
	"github.com/phimask/phimask/pkg/records"
)

// PhimaskYAMLConfig represents the complete phimask.yaml file structure
type PhimaskYAMLConfig struct {
	Pipeline *PipelineConfig `yaml:"pipeline"`
	Identity *IdentityConfig `yaml:"identity"`
	Masking  *MaskingConfig  `yaml:"masking"`
	Sources  []SourceConfig  `yaml:"sources"`
	Joins    []JoinConfig    `yaml:"joins"`
	Ledger   *LedgerConfig   `yaml:"ledger"`
}

// PipelineConfig holds run-wide settings.
type PipelineConfig struct {
	IdentifierColumn    string                `yaml:"identifier_column"`
	Seed                *uint64               `yaml:"seed,omitempty"`
	ReferenceDate       string                `yaml:"reference_date,omitempty"` // 2006-01-02
	Placeholder         string                `yaml:"placeholder,omitempty"`
	AliasFile           string                `yaml:"alias_file,omitempty"` // Relative to the config dir
	Sensitivity         masking.Sensitivity   `yaml:"sensitivity,omitempty"`
	OnMissingIdentifier masking.MissingPolicy `yaml:"on_missing_identifier,omitempty"`
	OutputDir           string                `yaml:"output_dir,omitempty"`
	WriteReal           bool                  `yaml:"write_real"`
}

// IdentityConfig controls synthetic identity generation.
type IdentityConfig struct {
	MinAge *int     `yaml:"min_age,omitempty"` // nil means the built-in default
	MaxAge *int     `yaml:"max_age,omitempty"`
	Extras []string `yaml:"extras,omitempty"`
}

// MaskingConfig holds the masking rules shared by every source.
type MaskingConfig struct {
	Fields            map[string]string `yaml:"fields,omitempty"`
	Preserve          []string          `yaml:"preserve,omitempty"`
	SensitivePatterns []string          `yaml:"sensitive_patterns,omitempty"`
	MaskIdentifier    bool              `yaml:"mask_identifier"`
}

// WhereInConfig restricts a source to rows whose Column value appears in
// SourceColumn of another, earlier source.
type WhereInConfig struct {
	Column       string `yaml:"column"`
	Source       string `yaml:"source"`
	SourceColumn string `yaml:"source_column"`
}

// SourceConfig declares one record set to fetch, mask and export.
type SourceConfig struct {
	Name string     `yaml:"name"`
	Kind SourceKind `yaml:"kind"`

	// crm
	Object string `yaml:"object,omitempty"`
	Query  string `yaml:"query,omitempty"` // Full SOQL; overrides Object/Columns

	// sql
	Table   string         `yaml:"table,omitempty"`
	OrderBy string         `yaml:"order_by,omitempty"`
	Limit   int            `yaml:"limit,omitempty"`
	WhereIn *WhereInConfig `yaml:"where_in,omitempty"`

	// csv
	Path string `yaml:"path,omitempty"`

	Columns          []string             `yaml:"columns,omitempty"`
	IdentifierColumn string               `yaml:"identifier_column,omitempty"` // Defaults to pipeline.identifier_column
	Normalize        bool                 `yaml:"normalize"`
	Preserve         []string             `yaml:"preserve,omitempty"`
	Fields           map[string]string    `yaml:"fields,omitempty"`
	Report           []records.Projection `yaml:"report,omitempty"`
	Export           *bool                `yaml:"export,omitempty"` // Defaults to true
}

// JoinConfig declares an inner join of two source record sets.
type JoinConfig struct {
	Name             string               `yaml:"name"`
	Left             string               `yaml:"left"`
	Right            string               `yaml:"right"`
	On               []records.JoinKey    `yaml:"on"`
	Suffixes         *SuffixConfig        `yaml:"suffixes,omitempty"`
	IdentifierColumn string               `yaml:"identifier_column,omitempty"` // Defaults to pipeline.identifier_column
	MaskIdentifier   bool                 `yaml:"mask_identifier"`
	Report           []records.Projection `yaml:"report,omitempty"`
}

// SuffixConfig names the suffixes applied to clashing join columns.
type SuffixConfig struct {
	Left  string `yaml:"left"`
	Right string `yaml:"right"`
}

// LedgerConfig controls the run ledger.
type LedgerConfig struct {
	Enabled bool `yaml:"enabled"`

	// Retention is the default age for `ledger prune`.
	Retention time.Duration `yaml:"retention,omitempty"`
}

// Exported reports whether the source is written as its own CSV pair.
func (s *SourceConfig) Exported() bool {
	return s.Export == nil || *s.Export
}

// DependsOn returns the name of the source this one is filtered by, if any.
func (s *SourceConfig) DependsOn() string {
	if s.WhereIn == nil {
		return ""
	}
	return s.WhereIn.Source
}
