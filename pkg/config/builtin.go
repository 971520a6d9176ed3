package config

import (
	"sync"
	"time"

	"github.com/phimask/phimask/pkg/identity"
	"github.com/phimask/phimask/pkg/masking"
)

const (
	// DefaultConfigFile is the pipeline configuration file name
	DefaultConfigFile = "phimask.yaml"
	// DefaultAliasFile is the column alias file name
	DefaultAliasFile = "column_aliases.yaml"
	// DefaultSeed seeds the identity generator when none is configured
	DefaultSeed uint64 = 42
	// DefaultOutputDir receives exported CSV files
	DefaultOutputDir = "mocked_output"
	// DefaultIdentifierColumn is the canonical patient identifier
	DefaultIdentifierColumn = "mrn"
	// DefaultLedgerRetention is how long ledger rows are kept by `ledger prune`
	DefaultLedgerRetention = 30 * 24 * time.Hour
)

// BuiltinConfig holds the built-in defaults that user configuration is merged over.
type BuiltinConfig struct {
	Pipeline *PipelineConfig
	Identity *IdentityConfig
	Ledger   *LedgerConfig
	Aliases  map[string][]string
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized).
// Callers must copy before mutating.
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	seed := DefaultSeed
	minAge, maxAge := identity.DefaultMinAge, identity.DefaultMaxAge
	builtinConfig = &BuiltinConfig{
		Pipeline: &PipelineConfig{
			IdentifierColumn:    DefaultIdentifierColumn,
			Seed:                &seed,
			ReferenceDate:       identity.DefaultReferenceDate.Format(time.DateOnly),
			Placeholder:         masking.DefaultPlaceholder,
			AliasFile:           DefaultAliasFile,
			Sensitivity:         masking.SensitivityAll,
			OnMissingIdentifier: masking.MissingPlaceholder,
			OutputDir:           DefaultOutputDir,
		},
		Identity: &IdentityConfig{
			MinAge: &minAge,
			MaxAge: &maxAge,
		},
		Ledger: &LedgerConfig{
			Retention: DefaultLedgerRetention,
		},
		Aliases: initBuiltinAliases(),
	}
}

// initBuiltinAliases is used only when no alias file exists.
func initBuiltinAliases() map[string][]string {
	return map[string][]string{
		"mrn":        {"MRN", "MRN__c", "medical_record_number", "patient_mrn"},
		"first_name": {"FirstName", "First_Name__c", "fname", "given_name"},
		"last_name":  {"LastName", "Last_Name__c", "lname", "surname", "family_name"},
		"dob":        {"DOB__c", "date_of_birth", "birthdate", "birth_date"},
		"gender":     {"Gender__c", "sex"},
		"address":    {"Address__c", "street_address", "home_address"},
	}
}
