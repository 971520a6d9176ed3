// Package pipeline runs a complete masking job: fetch every configured source,
// normalize, generate one identity mask per identifier, apply the masks, join,
// project, and write the masked and real exports.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phimask/phimask/pkg/config"
	"github.com/phimask/phimask/pkg/identity"
	"github.com/phimask/phimask/pkg/masking"
	"github.com/phimask/phimask/pkg/normalize"
	"github.com/phimask/phimask/pkg/records"
	"github.com/phimask/phimask/pkg/source"
)

var (
	// ErrNoFetcher indicates a configured source has no connector
	ErrNoFetcher = errors.New("no fetcher for source")
)

// Status is the final state of a run.
type Status string

const (
	// StatusRunning marks a run that has started but not finished
	StatusRunning Status = "running"
	// StatusSucceeded marks a run that wrote all of its outputs
	StatusSucceeded Status = "succeeded"
	// StatusFailed marks a run that wrote nothing
	StatusFailed Status = "failed"
)

// Summary describes a run without any identifier or cell value, so it can be
// logged and stored.
type Summary struct {
	RunID       string
	Seed        uint64
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      Status
	Identifiers int
	Sources     []SetSummary
	Joins       []SetSummary
	Outputs     []string
	Error       string
}

// SetSummary counts the rows of one source or join.
type SetSummary struct {
	Name          string `json:"name"`
	Fetched       int    `json:"fetched"`
	Exported      int    `json:"exported"`
	Placeholdered int    `json:"placeholdered,omitempty"`
	Skipped       int    `json:"skipped,omitempty"`
}

// Recorder persists run summaries. It never receives identifiers.
type Recorder interface {
	Start(ctx context.Context, s *Summary) error
	Finish(ctx context.Context, s *Summary) error
}

// Pipeline wires a validated configuration to its connectors.
type Pipeline struct {
	cfg      *config.Config
	fetchers map[string]source.Fetcher
	recorder Recorder
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder records every run through r.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// New creates a pipeline. Every configured source needs a fetcher.
func New(cfg *config.Config, fetchers map[string]source.Fetcher, opts ...Option) (*Pipeline, error) {
	for _, s := range cfg.Sources {
		if fetchers[s.Name] == nil {
			return nil, fmt.Errorf("%w %q", ErrNoFetcher, s.Name)
		}
	}
	p := &Pipeline{cfg: cfg, fetchers: fetchers}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// stage holds one record set through the run. real stays unmasked and is
// only ever projected, never rewritten.
type stage struct {
	name       string
	identifier string
	real       *records.RecordSet
	masked     *records.RecordSet
	report     []records.Projection
	export     bool
	summary    SetSummary
}

// Run executes one job. Outputs are written only when every stage succeeds; on
// failure nothing is written and the error is returned.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		RunID:     uuid.NewString(),
		Seed:      p.cfg.Seed(),
		StartedAt: time.Now().UTC(),
		Status:    StatusRunning,
	}
	log := slog.With("run_id", summary.RunID)
	log.Info("Starting masking run", "sources", len(p.cfg.Sources), "joins", len(p.cfg.Joins), "seed", summary.Seed)

	if err := config.NewValidator(p.cfg).ValidateAll(); err != nil {
		return p.fail(ctx, log, summary, fmt.Errorf("configuration validation failed: %w", err))
	}

	if p.recorder != nil {
		if err := p.recorder.Start(ctx, summary); err != nil {
			return p.fail(ctx, log, summary, fmt.Errorf("failed to record run start: %w", err))
		}
	}

	outputs, err := p.execute(ctx, log, summary)
	if err != nil {
		return p.fail(ctx, log, summary, err)
	}

	paths, err := writeOutputs(log, outputs)
	if err != nil {
		return p.fail(ctx, log, summary, err)
	}
	summary.Outputs = paths

	summary.Status = StatusSucceeded
	summary.FinishedAt = time.Now().UTC()
	if p.recorder != nil {
		if err := p.recorder.Finish(ctx, summary); err != nil {
			log.Warn("Failed to record run result", "error", err)
		}
	}
	log.Info("Masking run completed",
		"identifiers", summary.Identifiers,
		"outputs", len(summary.Outputs),
		"duration", summary.FinishedAt.Sub(summary.StartedAt))
	return summary, nil
}

func (p *Pipeline) fail(ctx context.Context, log *slog.Logger, summary *Summary, err error) (*Summary, error) {
	summary.Status = StatusFailed
	summary.FinishedAt = time.Now().UTC()
	summary.Error = err.Error()
	if p.recorder != nil {
		// The run context may be the reason for the failure.
		if rerr := p.recorder.Finish(context.WithoutCancel(ctx), summary); rerr != nil {
			log.Warn("Failed to record run result", "error", rerr)
		}
	}
	log.Error("Masking run failed", "error", err)
	return summary, err
}

// execute runs every stage up to, but not including, writing outputs.
func (p *Pipeline) execute(ctx context.Context, log *slog.Logger, summary *Summary) ([]output, error) {
	raw, err := p.fetchAll(ctx, log)
	if err != nil {
		return nil, err
	}

	stages := make(map[string]*stage, len(p.cfg.Sources))
	var ordered []*stage
	for _, s := range p.cfg.Sources {
		st, err := p.prepare(log, s, raw[s.Name])
		if err != nil {
			return nil, err
		}
		stages[s.Name] = st
		ordered = append(ordered, st)
	}
	if err := p.requireJoinKeys(stages); err != nil {
		return nil, err
	}

	var ids []string
	for _, st := range ordered {
		ids = append(ids, st.real.Distinct(st.identifier)...)
	}
	gen, err := identity.NewGenerator(p.cfg.Seed(), p.cfg.GeneratorOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create identity generator: %w", err)
	}
	masks, err := gen.Generate(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity masks: %w", err)
	}
	summary.Identifiers = len(masks)
	log.Info("Generated identity masks", "identifiers", len(masks))

	for _, s := range p.cfg.Sources {
		if err := p.mask(log, s, stages[s.Name], masks); err != nil {
			return nil, err
		}
	}

	var joined []*stage
	for _, j := range p.cfg.Joins {
		st, err := p.join(log, j, stages[j.Left], stages[j.Right], masks)
		if err != nil {
			return nil, err
		}
		joined = append(joined, st)
	}

	var outputs []output
	for _, st := range ordered {
		if !st.export {
			summary.Sources = append(summary.Sources, st.summary)
			continue
		}
		outs, err := p.outputs(st)
		if err != nil {
			return nil, err
		}
		st.summary.Exported = outs[0].rs.Len()
		summary.Sources = append(summary.Sources, st.summary)
		outputs = append(outputs, outs...)
	}
	for _, st := range joined {
		outs, err := p.outputs(st)
		if err != nil {
			return nil, err
		}
		st.summary.Exported = outs[0].rs.Len()
		summary.Joins = append(summary.Joins, st.summary)
		outputs = append(outputs, outs...)
	}
	return outputs, nil
}

// prepare normalizes a fetched set when asked to and checks that it carries
// its identifier column. An empty result without a header stands for an empty
// set holding the identifier and the join keys.
func (p *Pipeline) prepare(log *slog.Logger, s *config.SourceConfig, rs *records.RecordSet) (*stage, error) {
	st := &stage{
		name:       s.Name,
		identifier: p.cfg.SourceIdentifier(s),
		real:       rs,
		report:     s.Report,
		export:     s.Exported(),
		summary:    SetSummary{Name: s.Name, Fetched: rs.Len()},
	}
	if rs.Len() == 0 && len(rs.Columns) == 0 {
		st.real = records.New(rs.Name, p.keyColumns(s.Name, st.identifier))
		log.Debug("Empty result has no columns", "source", s.Name, "columns", st.real.Columns)
		return st, nil
	}
	if s.Normalize {
		normalized, report := normalize.Normalize(rs, p.cfg.AliasTable)
		if len(report.Missing) > 0 {
			log.Warn("Canonical columns missing after normalization", "source", s.Name, "missing", report.Missing)
		}
		if len(report.Collisions) > 0 {
			log.Warn("Columns collide on a canonical name, keeping the first", "source", s.Name, "columns", report.Collisions)
		}
		if len(report.Dropped) > 0 {
			log.Debug("Dropped unmatched columns", "source", s.Name, "columns", report.Dropped)
		}
		st.real = normalized
	}
	if err := normalize.RequireColumns(st.real, st.identifier); err != nil {
		return nil, fmt.Errorf("source %q: identifier column: %w", s.Name, err)
	}
	return st, nil
}

// keyColumns lists identifier followed by every join key read from source name.
func (p *Pipeline) keyColumns(name, identifier string) []string {
	cols := []string{identifier}
	seen := map[string]bool{identifier: true}
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	for _, j := range p.cfg.Joins {
		for _, k := range j.On {
			if j.Left == name {
				add(k.Left)
			}
			if j.Right == name {
				add(k.Right)
			}
		}
	}
	return cols
}

func (p *Pipeline) requireJoinKeys(stages map[string]*stage) error {
	for _, j := range p.cfg.Joins {
		left, right := stages[j.Left], stages[j.Right]
		for _, k := range j.On {
			if err := normalize.RequireColumns(left.real, k.Left); err != nil {
				return fmt.Errorf("join %q: %w", j.Name, err)
			}
			if err := normalize.RequireColumns(right.real, k.Right); err != nil {
				return fmt.Errorf("join %q: %w", j.Name, err)
			}
		}
	}
	return nil
}

// mask applies the source's rules. Under the skip policy the real set drops
// the same rows so both exports keep one row per surviving record.
func (p *Pipeline) mask(log *slog.Logger, s *config.SourceConfig, st *stage, masks identity.Masks) error {
	rules, err := p.cfg.Rules(s)
	if err != nil {
		return fmt.Errorf("source %q: %w", s.Name, err)
	}
	app, err := masking.NewApplicator(rules)
	if err != nil {
		return fmt.Errorf("source %q: %w", s.Name, err)
	}
	masked, res, err := app.Apply(st.real, st.identifier, masks)
	if err != nil {
		return fmt.Errorf("source %q: %w", s.Name, err)
	}
	if res.Skipped > 0 {
		st.real = keepMasked(st.real, st.identifier, masks)
	}
	st.masked = masked
	st.summary.Placeholdered = res.Placeholdered
	st.summary.Skipped = res.Skipped
	log.Info("Masked source", "source", s.Name, "rows", masked.Len(), "sensitive_columns", len(app.SensitiveColumns(st.real, st.identifier)))
	return nil
}

// keepMasked returns the rows of rs whose identifier has a mask, in order.
func keepMasked(rs *records.RecordSet, identifier string, masks identity.Masks) *records.RecordSet {
	out := records.New(rs.Name, rs.Columns)
	for _, r := range rs.Rows {
		v := r.Get(identifier)
		if v.IsBlank() {
			continue
		}
		if _, ok := masks.Lookup(v.String()); ok {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// join joins the masked sets and the real sets the same way. Join keys are
// never rewritten by masking, so both results pair the same rows.
func (p *Pipeline) join(log *slog.Logger, j *config.JoinConfig, left, right *stage, masks identity.Masks) (*stage, error) {
	opts := records.JoinOptions{}
	if j.Suffixes != nil {
		opts.LeftSuffix, opts.RightSuffix = j.Suffixes.Left, j.Suffixes.Right
	}
	masked, err := records.Join(j.Name, left.masked, right.masked, j.On, opts)
	if err != nil {
		return nil, err
	}
	realSet, err := records.Join(j.Name, left.real, right.real, j.On, opts)
	if err != nil {
		return nil, err
	}

	st := &stage{
		name:       j.Name,
		identifier: p.cfg.JoinIdentifier(j),
		real:       realSet,
		masked:     masked,
		report:     j.Report,
		export:     true,
		summary:    SetSummary{Name: j.Name, Fetched: masked.Len()},
	}
	if j.MaskIdentifier {
		app, err := masking.NewApplicator(p.cfg.IdentifierRules(j))
		if err != nil {
			return nil, fmt.Errorf("join %q: %w", j.Name, err)
		}
		st.masked, _, err = app.Apply(masked, st.identifier, masks)
		if err != nil {
			return nil, fmt.Errorf("join %q: %w", j.Name, err)
		}
	}
	log.Info("Joined record sets", "join", j.Name, "left", left.name, "right", right.name, "rows", masked.Len())
	return st, nil
}
