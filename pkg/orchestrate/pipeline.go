// Package orchestrate runs pipeline stages in order under the output directory's run lock.
package orchestrate

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// StageResult is the outcome of one stage
type StageResult struct {
	Stage    string
	Success  bool
	Error    error
	Duration time.Duration
}

// Pipeline runs a fixed list of stages sequentially, stopping at the first failure
type Pipeline struct {
	env   *Env
	names []string
	funcs []StageFunc
	log   *logrus.Entry
}

// NewPipeline resolves the stage names up front so a typo fails before anything runs.
func NewPipeline(env *Env, names ...string) (*Pipeline, error) {
	funcs := make([]StageFunc, 0, len(names))
	for _, name := range names {
		fn, err := Lookup(name)
		if err != nil {
			return nil, err
		}
		funcs = append(funcs, fn)
	}
	return &Pipeline{env: env, names: names, funcs: funcs, log: stageLogger(env)}, nil
}

// WithStage replaces the implementation of a named stage; tests use it to script stage outcomes.
func (p *Pipeline) WithStage(name string, fn StageFunc) *Pipeline {
	for i, n := range p.names {
		if n == name {
			p.funcs[i] = fn
		}
	}
	return p
}

// Run takes the run lock, then runs each stage in order. The returned error is the first stage
// failure (or the lock failure); results cover every stage that started.
func (p *Pipeline) Run(ctx context.Context) ([]StageResult, error) {
	lock, err := p.env.Layout.AcquireLock()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			p.log.Warnf("Failed to release run lock: %v", err)
		}
	}()

	startTime := time.Now()
	results := make([]StageResult, 0, len(p.funcs))
	var runErr error
	for i, fn := range p.funcs {
		name := p.names[i]
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		p.log.Infof("Starting stage '%s'", name)
		stageStart := time.Now()
		err := fn(ctx, p.env)
		res := StageResult{Stage: name, Success: err == nil, Error: err, Duration: time.Since(stageStart)}
		results = append(results, res)
		if err != nil {
			p.log.Errorf("Stage '%s' failed: %v", name, err)
			runErr = err
			break
		}
		p.log.Infof("Stage '%s' completed in %v", name, res.Duration)
	}

	if len(p.funcs) > 1 {
		p.logSummary(results, time.Since(startTime))
	}
	return results, runErr
}

// logSummary logs one line per stage that ran
func (p *Pipeline) logSummary(results []StageResult, total time.Duration) {
	p.log.Info("============================================")
	p.log.Infof("Pipeline finished in %v", total)
	for _, r := range results {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
		}
		p.log.Infof("  %s: %s in %v", r.Stage, status, r.Duration)
	}
	if skipped := len(p.names) - len(results); skipped > 0 {
		p.log.Infof("  %d stage(s) not run", skipped)
	}
	p.log.Info("============================================")
}
