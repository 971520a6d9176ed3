package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/phimask/phimask/pkg/config"
	"github.com/phimask/phimask/pkg/records"
	"github.com/phimask/phimask/pkg/source"
)

// fetchAll fetches every source. Sources within a phase run concurrently; a
// where_in source waits for the phase holding its parent. The first failure
// cancels the rest and aborts the run.
func (p *Pipeline) fetchAll(ctx context.Context, log *slog.Logger) (map[string]*records.RecordSet, error) {
	raw := make(map[string]*records.RecordSet, len(p.cfg.Sources))
	var mu sync.Mutex

	for i, phase := range p.cfg.Phases() {
		filters := make([]*source.Filter, len(phase))
		for j, s := range phase {
			filter, err := whereIn(s, raw)
			if err != nil {
				return nil, err
			}
			filters[j] = filter
		}

		g, gctx := errgroup.WithContext(ctx)
		for j, s := range phase {
			filter := filters[j]
			g.Go(func() error {
				rs, err := p.fetchers[s.Name].Fetch(gctx, filter)
				if err != nil {
					return fmt.Errorf("failed to fetch source %q: %w", s.Name, err)
				}
				if rs == nil {
					rs = records.New(s.Name, nil)
				}
				// Connectors name sets after the backend object; exports use the source name.
				rs.Name = s.Name
				log.Info("Fetched source", "source", s.Name, "phase", i+1, "rows", rs.Len(), "columns", len(rs.Columns))

				mu.Lock()
				raw[s.Name] = rs
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// whereIn builds the filter of a dependent source from its parent's fetched
// rows. Values come from the set as fetched, before normalization.
func whereIn(s *config.SourceConfig, raw map[string]*records.RecordSet) (*source.Filter, error) {
	w := s.WhereIn
	if w == nil {
		return nil, nil
	}
	parent, ok := raw[w.Source]
	if !ok {
		return nil, fmt.Errorf("source %q: where_in source %q was not fetched", s.Name, w.Source)
	}
	if parent.Len() == 0 {
		return &source.Filter{Column: w.Column}, nil
	}
	if !parent.HasColumn(w.SourceColumn) {
		return nil, fmt.Errorf("source %q: where_in: %w: %s.%s", s.Name, records.ErrUnknownColumn, w.Source, w.SourceColumn)
	}
	return &source.Filter{Column: w.Column, Values: parent.Distinct(w.SourceColumn)}, nil
}
