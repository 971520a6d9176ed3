package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phimask/phimask/pkg/identity"
	"github.com/phimask/phimask/pkg/masking"
	"github.com/phimask/phimask/pkg/normalize"
	"github.com/phimask/phimask/pkg/records"
)

const testPipelineYAML = `
pipeline:
  identifier_column: mrn
  seed: 7
  output_dir: {{.PHIMASK_OUT}}
  write_real: true
identity:
  extras: [provider_name]
masking:
  fields:
    first_name: first_name
    last_name: last_name
    patient_name: "${first_name} ${last_name}"
  preserve: [Id]
sources:
  - name: patients
    kind: crm
    object: Patient__c
    columns: [Id, MRN__c, First_Name__c, Last_Name__c]
    normalize: true
  - name: assessments
    kind: sql
    table: assessments
    columns: [id, Patient__c, mrn, provider, score]
    where_in:
      column: Patient__c
      source: patients
      source_column: Id
    preserve: [Patient__c]
    fields:
      provider: provider_name
joins:
  - name: patient_assessments
    left: patients
    right: assessments
    on:
      - left: Id
        right: Patient__c
    suffixes: {left: _sf, right: _mysql}
    report:
      - {name: Patient, column: patient_name}
`

const testAliasesYAML = `
mrn: [MRN__c, medical_record_number]
first_name: [First_Name__c]
last_name: [Last_Name__c]
Id: []
`

func writeConfigDir(t *testing.T, pipeline, aliases string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(pipeline), 0o644))
	if aliases != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultAliasFile), []byte(aliases), 0o644))
	}
	return dir
}

func TestInitialize(t *testing.T) {
	t.Setenv("PHIMASK_OUT", "/tmp/phimask-out")
	dir := writeConfigDir(t, testPipelineYAML, testAliasesYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ConfigDir())
	assert.Equal(t, uint64(7), cfg.Seed())
	assert.Equal(t, "/tmp/phimask-out", cfg.Pipeline.OutputDir)
	assert.True(t, cfg.Pipeline.WriteReal)

	// Built-in defaults fill unset values
	assert.Equal(t, masking.DefaultPlaceholder, cfg.Pipeline.Placeholder)
	assert.Equal(t, masking.SensitivityAll, cfg.Pipeline.Sensitivity)
	assert.Equal(t, masking.MissingPlaceholder, cfg.Pipeline.OnMissingIdentifier)
	require.NotNil(t, cfg.Identity.MinAge)
	require.NotNil(t, cfg.Identity.MaxAge)
	assert.Equal(t, identity.DefaultMinAge, *cfg.Identity.MinAge)
	assert.Equal(t, identity.DefaultMaxAge, *cfg.Identity.MaxAge)
	assert.Equal(t, identity.DefaultReferenceDate, cfg.ReferenceDate)
	assert.Equal(t, DefaultLedgerRetention, cfg.Ledger.Retention)
	assert.False(t, cfg.Ledger.Enabled)

	assert.Equal(t, Stats{Sources: 2, Joins: 1, Canonical: 4}, cfg.Stats())

	canonical, ok := cfg.AliasTable.Resolve("MRN__c")
	require.True(t, ok)
	assert.Equal(t, "mrn", canonical)

	src, ok := cfg.GetSource("assessments")
	require.True(t, ok)
	assert.Equal(t, "patients", src.DependsOn())
	assert.True(t, src.Exported())
	assert.Equal(t, "mrn", cfg.SourceIdentifier(src))

	phases := cfg.Phases()
	require.Len(t, phases, 2)
	assert.Equal(t, "patients", phases[0][0].Name)
	assert.Equal(t, "assessments", phases[1][0].Name)

	join := cfg.Joins[0]
	assert.Equal(t, []records.JoinKey{{Left: "Id", Right: "Patient__c"}}, join.On)
	assert.Equal(t, &SuffixConfig{Left: "_sf", Right: "_mysql"}, join.Suffixes)
	assert.Equal(t, []records.Projection{{Name: "Patient", Column: "patient_name"}}, join.Report)
}

func TestInitialize_BuiltinDefaultsDoNotLeakBetweenLoads(t *testing.T) {
	dir := writeConfigDir(t, testPipelineYAML, testAliasesYAML)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	*cfg.Pipeline.Seed = 99
	cfg.Pipeline.Placeholder = "changed"

	assert.Equal(t, DefaultSeed, *GetBuiltinConfig().Pipeline.Seed)
	assert.Equal(t, masking.DefaultPlaceholder, GetBuiltinConfig().Pipeline.Placeholder)
}

func TestInitialize_ExplicitZerosOverrideDefaults(t *testing.T) {
	yaml := strings.Replace(testPipelineYAML, "  seed: 7\n", "  seed: 0\n", 1)
	yaml = strings.Replace(yaml, "identity:\n", "identity:\n  min_age: 0\n  max_age: 30\n", 1)
	dir := writeConfigDir(t, yaml, testAliasesYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), cfg.Seed())
	opts := cfg.GeneratorOptions()
	assert.Equal(t, 0, opts.MinAge)
	assert.Equal(t, 30, opts.MaxAge)

	*cfg.Identity.MinAge = 5
	assert.Equal(t, identity.DefaultMinAge, *GetBuiltinConfig().Identity.MinAge)
}

func TestInitialize_BuiltinAliasesWhenFileAbsent(t *testing.T) {
	dir := writeConfigDir(t, testPipelineYAML, "")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	canonical, ok := cfg.AliasTable.Resolve("Date of Birth")
	require.True(t, ok)
	assert.Equal(t, "dob", canonical)
}

func TestInitialize_ExplicitAliasFileMissing(t *testing.T) {
	yaml := "pipeline:\n  alias_file: custom_aliases.yaml\n" + testPipelineYAML[len("\npipeline:\n"):]
	dir := writeConfigDir(t, yaml, "")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "custom_aliases.yaml", loadErr.File)
}

func TestInitialize_ConfigNotFound(t *testing.T) {
	_, err := Initialize(context.Background(), "/nonexistent/directory")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitialize_InvalidYAML(t *testing.T) {
	dir := writeConfigDir(t, "pipeline: [unclosed", testAliasesYAML)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitialize_InvalidReferenceDate(t *testing.T) {
	dir := writeConfigDir(t, "pipeline:\n  reference_date: 01/01/2025\n", testAliasesYAML)

	_, err := Initialize(context.Background(), dir)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "reference_date", verr.Field)
}

func TestInitialize_AmbiguousAliases(t *testing.T) {
	aliases := "first_name: [fname, name]\nlast_name: [lname, Name]\n"
	dir := writeConfigDir(t, testPipelineYAML, aliases)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, normalize.ErrAmbiguousAlias)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "aliases", verr.Component)
	assert.Contains(t, err.Error(), "first_name")
	assert.Contains(t, err.Error(), "last_name")
}

func TestInitialize_ValidationFailure(t *testing.T) {
	dir := writeConfigDir(t, "pipeline:\n  sensitivity: some\nsources:\n  - name: a\n    kind: csv\n    path: a.csv\n", testAliasesYAML)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "sensitivity")
}

func TestLoadAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testAliasesYAML), 0o644))

	table, err := LoadAliases(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Id", "first_name", "last_name", "mrn"}, table.Canonical())

	_, err = LoadAliases(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLedgerRetentionParsesDuration(t *testing.T) {
	dir := writeConfigDir(t, testPipelineYAML+"ledger:\n  enabled: true\n  retention: 72h\n", testAliasesYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, cfg.Ledger.Enabled)
	assert.Equal(t, 72*time.Hour, cfg.Ledger.Retention)
}
