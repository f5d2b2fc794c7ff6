package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mensylisir/xmsuite/config"
	"github.com/mensylisir/xmsuite/report"
	"github.com/mensylisir/xmsuite/runner"
)

// Suite is one independent run for RunAll. Suites must not share an
// Environment.
type Suite struct {
	Config *config.Configuration
	Env    runner.Environment
	Body   SuiteBody
	// Orchestrator defaults to NewOrchestrator().
	Orchestrator *Orchestrator
}

// RunAll executes suites concurrently, at most limit at a time (no limit when
// limit <= 0). Reports are returned in the order of suites.
func RunAll(ctx context.Context, suites []Suite, limit int) []*report.SuiteReport {
	reports := make([]*report.SuiteReport, len(suites))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, s := range suites {
		i, s := i, s
		g.Go(func() error {
			o := s.Orchestrator
			if o == nil {
				o = NewOrchestrator()
			}
			reports[i] = o.Execute(ctx, s.Config, s.Env, s.Body)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}
