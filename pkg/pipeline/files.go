package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phimask/phimask/pkg/identity"
	"github.com/phimask/phimask/pkg/masking"
	"github.com/phimask/phimask/pkg/normalize"
	"github.com/phimask/phimask/pkg/records"
	"github.com/phimask/phimask/pkg/source"
	"github.com/phimask/phimask/pkg/source/csvsource"
)

// FileJob masks patient rows read from local CSV exports into one CSV file.
type FileJob struct {
	Inputs           []string // CSV paths, unioned in order
	Output           string
	RealOutput       string // Optional unmasked copy with the same columns
	Aliases          *normalize.AliasTable
	IdentifierColumn string
	Seed             uint64
	Identity         identity.Options
	Placeholder      string
	MaskIdentifier   bool // Replace the identifier with the synthetic patient_id
}

// RunFiles loads every input, normalizes it, unions the rows, keeps the first
// row per identifier, masks the result and writes it. Every canonical column
// that names a synthetic field is masked from that field; any other column
// except the identifier gets the placeholder. The identifier is written as is
// unless MaskIdentifier is set.
func RunFiles(ctx context.Context, job FileJob) (*Summary, error) {
	summary := &Summary{RunID: uuid.NewString(), Seed: job.Seed, StartedAt: time.Now().UTC(), Status: StatusRunning}
	log := slog.With("run_id", summary.RunID)

	if len(job.Inputs) == 0 {
		return summary, errors.New("no input files")
	}
	if job.Aliases == nil {
		return summary, errors.New("no alias table")
	}
	if c, ok := job.Aliases.Resolve(job.IdentifierColumn); !ok || c != job.IdentifierColumn {
		return summary, fmt.Errorf("identifier %q is not a canonical column", job.IdentifierColumn)
	}

	var sets []*records.RecordSet
	for _, path := range job.Inputs {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		var fetcher source.Fetcher = csvsource.NewSource(name, path)
		rs, err := fetcher.Fetch(ctx, nil)
		if err != nil {
			return summary, err
		}
		normalized, report := normalize.Normalize(rs, job.Aliases)
		if len(report.Missing) > 0 {
			log.Warn("Canonical columns missing after normalization", "file", path, "missing", report.Missing)
		}
		if err := normalize.RequireColumns(normalized, job.IdentifierColumn); err != nil {
			return summary, fmt.Errorf("%s: %w", path, err)
		}
		log.Info("Loaded input", "file", path, "rows", rs.Len(), "columns", len(normalized.Columns))
		summary.Sources = append(summary.Sources, SetSummary{Name: name, Fetched: rs.Len()})
		sets = append(sets, normalized)
	}

	all := records.Concat("patients", sets...).DedupeBy(job.IdentifierColumn)
	log.Info("Combined inputs", "rows", all.Len())

	gen, err := identity.NewGenerator(job.Seed, job.Identity)
	if err != nil {
		return summary, err
	}
	masks, err := gen.Generate(all.Distinct(job.IdentifierColumn))
	if err != nil {
		return summary, err
	}
	summary.Identifiers = len(masks)

	fields := canonicalFields(job.Aliases)
	if job.MaskIdentifier {
		fields[job.IdentifierColumn] = identity.FieldPatientID
	}
	app, err := masking.NewApplicator(masking.Rules{
		Fields:         fields,
		Placeholder:    job.Placeholder,
		MaskIdentifier: job.MaskIdentifier,
	})
	if err != nil {
		return summary, err
	}
	masked, res, err := app.Apply(all, job.IdentifierColumn, masks)
	if err != nil {
		return summary, err
	}
	log.Info("Masked records", "rows", res.Masked, "placeholdered", res.Placeholdered)

	outputs := []output{{path: job.Output, rs: masked}}
	if job.RealOutput != "" {
		outputs = append(outputs, output{path: job.RealOutput, rs: all})
	}
	paths, err := writeOutputs(log, outputs)
	if err != nil {
		return summary, err
	}
	summary.Outputs = paths
	summary.Status = StatusSucceeded
	summary.FinishedAt = time.Now().UTC()
	return summary, nil
}

// canonicalFields maps every canonical column named after a synthetic field
// onto that field.
func canonicalFields(t *normalize.AliasTable) map[string]string {
	fields := make(map[string]string)
	for _, c := range t.Canonical() {
		if identity.IsKnownField(c) {
			fields[c] = c
		}
	}
	return fields
}
