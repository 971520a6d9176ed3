package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/phimask/phimask/pkg/identity"
	"github.com/phimask/phimask/pkg/masking"
	"github.com/phimask/phimask/pkg/normalize"
	"github.com/phimask/phimask/pkg/records"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validatePipeline(); err != nil {
		return fmt.Errorf("pipeline validation failed: %w", err)
	}

	if err := v.validateIdentity(); err != nil {
		return fmt.Errorf("identity validation failed: %w", err)
	}

	if err := v.validateSources(); err != nil {
		return fmt.Errorf("source validation failed: %w", err)
	}

	if err := v.validateJoins(); err != nil {
		return fmt.Errorf("join validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validatePipeline() error {
	p := v.cfg.Pipeline
	if p.IdentifierColumn == "" {
		return NewValidationError("pipeline", "pipeline", "identifier_column", ErrMissingRequiredField)
	}
	if !p.Sensitivity.IsValid() {
		return NewValidationError("pipeline", "pipeline", "sensitivity",
			fmt.Errorf("%w: %q (want all or declared)", ErrInvalidValue, p.Sensitivity))
	}
	if !p.OnMissingIdentifier.IsValid() {
		return NewValidationError("pipeline", "pipeline", "on_missing_identifier",
			fmt.Errorf("%w: %q (want placeholder or skip)", ErrInvalidValue, p.OnMissingIdentifier))
	}
	if p.OutputDir == "" {
		return NewValidationError("pipeline", "pipeline", "output_dir", ErrMissingRequiredField)
	}
	if v.cfg.Ledger.Retention < 0 {
		return NewValidationError("ledger", "ledger", "retention", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateIdentity() error {
	if m := v.cfg.Identity.MaxAge; m != nil && *m <= 0 {
		return NewValidationError("identity", "identity", "max_age", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if _, err := identity.NewGenerator(v.cfg.Seed(), v.cfg.GeneratorOptions()); err != nil {
		field := "extras"
		if errors.Is(err, identity.ErrInvalidOptions) {
			field = "min_age"
		}
		return NewValidationError("identity", "identity", field, err)
	}
	return nil
}

func (v *ConfigValidator) validateSources() error {
	if len(v.cfg.Sources) == 0 {
		return NewValidationError("pipeline", "pipeline", "sources", fmt.Errorf("%w: at least one source required", ErrMissingRequiredField))
	}

	seen := make(map[string]bool, len(v.cfg.Sources))
	for _, s := range v.cfg.Sources {
		if s.Name == "" {
			return NewValidationError("source", "", "name", ErrMissingRequiredField)
		}
		if seen[s.Name] {
			return NewValidationError("source", s.Name, "name", ErrDuplicateName)
		}
		seen[s.Name] = true

		if err := v.validateSourceKind(s); err != nil {
			return err
		}
		if s.Limit < 0 {
			return NewValidationError("source", s.Name, "limit", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
		}
		if err := v.validateWhereIn(s); err != nil {
			return err
		}
		if err := validateReport("source", s.Name, s.Report); err != nil {
			return err
		}

		rules, err := v.cfg.Rules(s)
		if err != nil {
			return NewValidationError("source", s.Name, "fields", err)
		}
		if _, err := masking.NewApplicator(rules); err != nil {
			return NewValidationError("source", s.Name, "fields", err)
		}
	}
	return nil
}

func (v *ConfigValidator) validateSourceKind(s *SourceConfig) error {
	switch s.Kind {
	case SourceKindCRM:
		if s.Object == "" && s.Query == "" {
			return NewValidationError("source", s.Name, "object", fmt.Errorf("%w: crm source needs object or query", ErrMissingRequiredField))
		}
		// An empty result carries no field names, so the header comes from columns.
		if len(s.Columns) == 0 {
			return NewValidationError("source", s.Name, "columns", fmt.Errorf("%w: crm source needs columns", ErrMissingRequiredField))
		}
	case SourceKindSQL:
		if s.Table == "" {
			return NewValidationError("source", s.Name, "table", ErrMissingRequiredField)
		}
	case SourceKindCSV:
		if s.Path == "" {
			return NewValidationError("source", s.Name, "path", ErrMissingRequiredField)
		}
	default:
		return NewValidationError("source", s.Name, "kind",
			fmt.Errorf("%w: %q (want crm, sql or csv)", ErrInvalidValue, s.Kind))
	}
	return nil
}

func (v *ConfigValidator) validateWhereIn(s *SourceConfig) error {
	w := s.WhereIn
	if w == nil {
		return nil
	}
	if s.Kind != SourceKindSQL {
		return NewValidationError("source", s.Name, "where_in", fmt.Errorf("%w: only sql sources support where_in", ErrInvalidValue))
	}
	if w.Column == "" || w.SourceColumn == "" {
		return NewValidationError("source", s.Name, "where_in", fmt.Errorf("%w: column and source_column required", ErrMissingRequiredField))
	}
	parent, ok := v.cfg.GetSource(w.Source)
	if !ok {
		return NewValidationError("source", s.Name, "where_in.source", fmt.Errorf("%w: %q", ErrSourceNotFound, w.Source))
	}
	if parent.DependsOn() != "" {
		return NewValidationError("source", s.Name, "where_in.source",
			fmt.Errorf("%w: %q is itself filtered by where_in", ErrInvalidReference, w.Source))
	}
	// An empty parent skips the query, leaving only the declared columns.
	if len(s.Columns) == 0 {
		return NewValidationError("source", s.Name, "columns",
			fmt.Errorf("%w: sql source filtered by where_in needs columns", ErrMissingRequiredField))
	}
	return nil
}

func (v *ConfigValidator) validateJoins() error {
	seen := make(map[string]bool, len(v.cfg.Joins))
	for _, s := range v.cfg.Sources {
		seen[s.Name] = true
	}

	for _, j := range v.cfg.Joins {
		if j.Name == "" {
			return NewValidationError("join", "", "name", ErrMissingRequiredField)
		}
		if seen[j.Name] {
			return NewValidationError("join", j.Name, "name", ErrDuplicateName)
		}
		seen[j.Name] = true

		left, ok := v.cfg.GetSource(j.Left)
		if !ok {
			return NewValidationError("join", j.Name, "left", fmt.Errorf("%w: %q", ErrSourceNotFound, j.Left))
		}
		right, ok := v.cfg.GetSource(j.Right)
		if !ok {
			return NewValidationError("join", j.Name, "right", fmt.Errorf("%w: %q", ErrSourceNotFound, j.Right))
		}
		if len(j.On) == 0 {
			return NewValidationError("join", j.Name, "on", fmt.Errorf("%w: at least one key pair required", ErrMissingRequiredField))
		}
		for _, k := range j.On {
			if k.Left == "" || k.Right == "" {
				return NewValidationError("join", j.Name, "on", fmt.Errorf("%w: key pair needs left and right", ErrMissingRequiredField))
			}
			if !v.keepsColumn(left, k.Left) {
				return NewValidationError("join", j.Name, "on",
					fmt.Errorf("%w: %q is rewritten by masking in %q; join keys must be preserved", ErrInvalidReference, k.Left, left.Name))
			}
			if !v.keepsColumn(right, k.Right) {
				return NewValidationError("join", j.Name, "on",
					fmt.Errorf("%w: %q is rewritten by masking in %q; join keys must be preserved", ErrInvalidReference, k.Right, right.Name))
			}
		}
		if sx := j.Suffixes; sx != nil && (sx.Left == "" || sx.Right == "" || sx.Left == sx.Right) {
			return NewValidationError("join", j.Name, "suffixes", fmt.Errorf("%w: need two distinct suffixes", ErrInvalidValue))
		}
		if err := validateReport("join", j.Name, j.Report); err != nil {
			return err
		}
		if j.MaskIdentifier {
			if _, err := masking.NewApplicator(v.cfg.IdentifierRules(j)); err != nil {
				return NewValidationError("join", j.Name, "mask_identifier", err)
			}
		}
	}
	return nil
}

// keepsColumn reports whether masking leaves column of s unchanged, so masked
// and real joins pair the same rows.
func (v *ConfigValidator) keepsColumn(s *SourceConfig, column string) bool {
	if slices.Contains(v.cfg.Masking.Preserve, column) || slices.Contains(s.Preserve, column) {
		return true
	}
	if column != v.cfg.SourceIdentifier(s) {
		return false
	}
	if !v.cfg.Masking.MaskIdentifier {
		return true
	}
	_, mapped := v.cfg.Masking.Fields[column]
	_, mappedHere := s.Fields[column]
	return !mapped && !mappedHere
}

func validateReport(component, id string, report []records.Projection) error {
	names := make(map[string]bool, len(report))
	for _, p := range report {
		if p.Name == "" || p.Column == "" {
			return NewValidationError(component, id, "report", fmt.Errorf("%w: report entries need name and column", ErrMissingRequiredField))
		}
		if names[p.Name] {
			return NewValidationError(component, id, "report", fmt.Errorf("%w: report column %q", ErrDuplicateName, p.Name))
		}
		names[p.Name] = true
	}
	return nil
}

// aliasValidationError converts an alias table error into a ValidationError
// naming the canonical column and alias involved.
func aliasValidationError(err error) error {
	var ae *normalize.AliasError
	if errors.As(err, &ae) {
		return NewValidationError("aliases", ae.Canonical, ae.Alias, err)
	}
	return NewValidationError("aliases", "", "", err)
}
