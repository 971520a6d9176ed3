package config

import (
	"time"

	"github.com/phimask/phimask/pkg/identity"
	"github.com/phimask/phimask/pkg/masking"
	"github.com/phimask/phimask/pkg/normalize"
)

// Config is the umbrella configuration object returned by Initialize.
// Defaults are already merged in; every optional section is non-nil.
type Config struct {
	configDir string

	Pipeline *PipelineConfig
	Identity *IdentityConfig
	Masking  *MaskingConfig
	Sources  []*SourceConfig
	Joins    []*JoinConfig
	Ledger   *LedgerConfig

	// ReferenceDate is Pipeline.ReferenceDate parsed
	ReferenceDate time.Time

	// Aliases is the canonical → alias table from the alias file
	Aliases    map[string][]string
	AliasTable *normalize.AliasTable
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Sources   int
	Joins     int
	Canonical int
}

// Stats returns configuration statistics for logging
func (c *Config) Stats() Stats {
	s := Stats{
		Sources: len(c.Sources),
		Joins:   len(c.Joins),
	}
	if c.AliasTable != nil {
		s.Canonical = len(c.AliasTable.Canonical())
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Seed returns the identity generator seed.
func (c *Config) Seed() uint64 {
	if c.Pipeline.Seed == nil {
		return DefaultSeed
	}
	return *c.Pipeline.Seed
}

// GetSource retrieves a source configuration by name.
func (c *Config) GetSource(name string) (*SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// SourceIdentifier returns the identifier column of a source.
func (c *Config) SourceIdentifier(s *SourceConfig) string {
	if s.IdentifierColumn != "" {
		return s.IdentifierColumn
	}
	return c.Pipeline.IdentifierColumn
}

// JoinIdentifier returns the identifier column of a joined record set.
func (c *Config) JoinIdentifier(j *JoinConfig) string {
	if j.IdentifierColumn != "" {
		return j.IdentifierColumn
	}
	return c.Pipeline.IdentifierColumn
}

// GeneratorOptions builds the identity generator options.
func (c *Config) GeneratorOptions() identity.Options {
	opts := identity.Options{
		MinAge:        identity.DefaultMinAge,
		MaxAge:        identity.DefaultMaxAge,
		ReferenceDate: c.ReferenceDate,
		Extras:        c.Identity.Extras,
	}
	if c.Identity.MinAge != nil {
		opts.MinAge = *c.Identity.MinAge
	}
	if c.Identity.MaxAge != nil {
		opts.MaxAge = *c.Identity.MaxAge
	}
	return opts
}

// Rules builds the masking rules for one source: shared rules with the
// source's own fields and preserved columns layered on top.
func (c *Config) Rules(s *SourceConfig) (masking.Rules, error) {
	fields, err := mergeFields(c.Masking.Fields, s.Fields)
	if err != nil {
		return masking.Rules{}, err
	}
	return masking.Rules{
		Fields:              fields,
		Preserve:            unionStrings(c.Masking.Preserve, s.Preserve),
		Sensitivity:         c.Pipeline.Sensitivity,
		SensitivePatterns:   c.Masking.SensitivePatterns,
		Placeholder:         c.Pipeline.Placeholder,
		OnMissingIdentifier: c.Pipeline.OnMissingIdentifier,
		MaskIdentifier:      c.Masking.MaskIdentifier,
	}, nil
}

// IdentifierRules builds rules that rewrite only the identifier column of a
// joined record set, mapping it to its configured field or patient_id.
func (c *Config) IdentifierRules(j *JoinConfig) masking.Rules {
	col := c.JoinIdentifier(j)
	field := c.Masking.Fields[col]
	if field == "" {
		field = identity.FieldPatientID
	}
	return masking.Rules{
		Fields:              map[string]string{col: field},
		Sensitivity:         masking.SensitivityDeclared,
		Placeholder:         c.Pipeline.Placeholder,
		OnMissingIdentifier: masking.MissingPlaceholder,
		MaskIdentifier:      true,
	}
}

// Phases groups sources into fetch phases: sources without a where_in
// dependency first, then the sources that depend on them. Declaration order is
// kept within a phase.
func (c *Config) Phases() [][]*SourceConfig {
	var first, second []*SourceConfig
	for _, s := range c.Sources {
		if s.DependsOn() == "" {
			first = append(first, s)
		} else {
			second = append(second, s)
		}
	}
	phases := [][]*SourceConfig{first}
	if len(second) > 0 {
		phases = append(phases, second)
	}
	return phases
}
