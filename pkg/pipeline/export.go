package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/phimask/phimask/pkg/records"
	"github.com/phimask/phimask/pkg/tabular"
)

const (
	maskedSuffix = "_mock.csv"
	realSuffix   = "_real.csv"
)

// output is one file to write.
type output struct {
	path string
	rs   *records.RecordSet
}

// outputs projects a stage for export. The real copy goes through the same
// projection as the masked one, so it never carries more columns.
func (p *Pipeline) outputs(st *stage) ([]output, error) {
	masked, err := st.masked.Project(st.report)
	if err != nil {
		return nil, err
	}
	outs := []output{{path: filepath.Join(p.cfg.Pipeline.OutputDir, st.name+maskedSuffix), rs: masked}}
	if p.cfg.Pipeline.WriteReal {
		realSet, err := st.real.Project(st.report)
		if err != nil {
			return nil, err
		}
		outs = append(outs, output{path: filepath.Join(p.cfg.Pipeline.OutputDir, st.name+realSuffix), rs: realSet})
	}
	return outs, nil
}

// writeOutputs writes every file to a temporary sibling first and renames
// them only once all of them were written.
func writeOutputs(log *slog.Logger, outputs []output) ([]string, error) {
	pending := make([]*tabular.Pending, 0, len(outputs))
	for _, o := range outputs {
		pf, err := tabular.Prepare(o.path, o.rs)
		if err != nil {
			for _, done := range pending {
				done.Discard()
			}
			return nil, fmt.Errorf("failed to write %s: %w", o.path, err)
		}
		pending = append(pending, pf)
	}

	paths := make([]string, 0, len(pending))
	for i, pf := range pending {
		if err := pf.Commit(); err != nil {
			for _, rest := range pending[i+1:] {
				rest.Discard()
			}
			return paths, err
		}
		paths = append(paths, pf.Path())
		log.Info("Wrote output", "path", pf.Path(), "rows", outputs[i].rs.Len())
	}
	return paths, nil
}
