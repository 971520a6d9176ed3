package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/phimask/phimask/pkg/normalize"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load phimask.yaml from configDir, expanding {{.VAR}} environment references
//  2. Merge built-in defaults under user values
//  3. Load the column alias file and build the alias table
//  4. Validate all configuration
//
// Nothing here touches the network or a database.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"sources", stats.Sources,
		"joins", stats.Joins,
		"canonical_columns", stats.Canonical)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	var user PhimaskYAMLConfig
	if err := loader.loadYAML(DefaultConfigFile, &user); err != nil {
		return nil, NewLoadError(DefaultConfigFile, err)
	}

	builtin := GetBuiltinConfig()

	pipeline, err := mergePipeline(builtin.Pipeline, user.Pipeline)
	if err != nil {
		return nil, err
	}
	ident, err := mergeIdentity(builtin.Identity, user.Identity)
	if err != nil {
		return nil, err
	}
	ledger, err := mergeLedger(builtin.Ledger, user.Ledger)
	if err != nil {
		return nil, err
	}

	refDate, err := time.Parse(time.DateOnly, pipeline.ReferenceDate)
	if err != nil {
		return nil, NewValidationError("pipeline", "pipeline", "reference_date",
			fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrInvalidValue, pipeline.ReferenceDate))
	}

	maskingCfg := user.Masking
	if maskingCfg == nil {
		maskingCfg = &MaskingConfig{}
	}

	sources := make([]*SourceConfig, len(user.Sources))
	for i := range user.Sources {
		sources[i] = &user.Sources[i]
	}
	joins := make([]*JoinConfig, len(user.Joins))
	for i := range user.Joins {
		joins[i] = &user.Joins[i]
	}

	aliasPath := pipeline.AliasFile
	if !filepath.IsAbs(aliasPath) {
		aliasPath = filepath.Join(configDir, aliasPath)
	}
	aliases, err := loadAliasesOrBuiltin(aliasPath, pipeline.AliasFile == DefaultAliasFile)
	if err != nil {
		return nil, NewLoadError(pipeline.AliasFile, err)
	}
	table, err := normalize.NewAliasTable(aliases)
	if err != nil {
		return nil, aliasValidationError(err)
	}

	return &Config{
		configDir:     configDir,
		Pipeline:      pipeline,
		Identity:      ident,
		Masking:       maskingCfg,
		Sources:       sources,
		Joins:         joins,
		Ledger:        ledger,
		ReferenceDate: refDate,
		Aliases:       aliases,
		AliasTable:    table,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

// LoadAliases reads a column alias file (canonical: [alias, ...]) and builds
// its alias table. Overlapping aliases are reported as a *ValidationError.
func LoadAliases(path string) (*normalize.AliasTable, error) {
	var aliases map[string][]string
	if err := readYAML(path, &aliases); err != nil {
		return nil, NewLoadError(filepath.Base(path), err)
	}
	table, err := normalize.NewAliasTable(aliases)
	if err != nil {
		return nil, aliasValidationError(err)
	}
	return table, nil
}

func loadAliasesOrBuiltin(path string, fallback bool) (map[string][]string, error) {
	var aliases map[string][]string
	err := readYAML(path, &aliases)
	if err == nil {
		return aliases, nil
	}
	if fallback && errors.Is(err, ErrConfigNotFound) {
		slog.Info("No column alias file found, using built-in aliases", "path", path)
		builtin := GetBuiltinConfig().Aliases
		aliases = make(map[string][]string, len(builtin))
		for canonical, list := range builtin {
			aliases[canonical] = append([]string(nil), list...)
		}
		return aliases, nil
	}
	return nil, err
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	return readYAML(filepath.Join(l.configDir, filename), target)
}

func readYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// ExpandEnv passes through original data on template errors,
	// leaving the YAML parser to report them.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}
