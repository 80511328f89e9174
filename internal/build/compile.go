// Package build drives the lowering of several programs: it reads the IR,
// consults the artifact cache, runs the code generator with one diagnostic
// engine per job and writes the artifacts atomically.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/wp4c/internal/cli"
	"github.com/orizon-lang/wp4c/internal/codegen"
	"github.com/orizon-lang/wp4c/internal/diagnostic"
	"github.com/orizon-lang/wp4c/internal/errors"
	"github.com/orizon-lang/wp4c/internal/ir"
	"github.com/orizon-lang/wp4c/internal/target"
)

// Job is one program to lower.
type Job struct {
	// Input is the path of the IR document.
	Input string
	// Output is the path of the implementation artifact; the header is
	// written next to it with a .h extension. Empty derives the name from
	// Input inside Compiler.OutDir.
	Output string
}

// Result is the outcome of one job.
type Result struct {
	Job         Job
	SourcePath  string
	HeaderPath  string
	Diagnostics []diagnostic.Diagnostic
	Cached      bool
	Took        time.Duration
	Err         error
}

// Compiler lowers jobs concurrently.
type Compiler struct {
	Target *target.Config
	// Cache may be nil.
	Cache  Cache
	Logger *cli.Logger
	OutDir string
	// Workers bounds the concurrent jobs; <=0 means NumCPU.
	Workers int
	// Timestamp writes the generation time into the artifacts.
	Timestamp   bool
	Diagnostics diagnostic.DiagnosticConfig

	now func() time.Time
}

// NewCompiler returns a compiler for cfg with default settings.
func NewCompiler(cfg *target.Config, logger *cli.Logger) *Compiler {
	if cfg == nil {
		cfg = target.Default()
	}
	if logger == nil {
		logger = cli.NewLogger(false, false)
	}
	return &Compiler{
		Target:      cfg,
		Logger:      logger,
		OutDir:      ".",
		Diagnostics: diagnostic.DefaultConfig(),
		now:         time.Now,
	}
}

// CompileAll runs every job and returns the results in job order. A job
// that fails does not stop the others; the returned error summarises the
// failures. Cancelling ctx stops jobs that have not started.
func (c *Compiler) CompileAll(ctx context.Context, jobs []Job) ([]Result, error) {
	workers := c.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{Job: job, Err: err}
				return err
			}
			results[i] = c.compile(job)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return results, errors.NewStandardError(errors.CategoryProgram, "BUILD_FAILED",
			fmt.Sprintf("%d of %d programs failed", failed, len(jobs)),
			map[string]interface{}{"failed": failed, "total": len(jobs)})
	}
	return results, nil
}

// Paths returns the implementation and header paths of a job.
func (c *Compiler) Paths(job Job) (source, header string) {
	source = job.Output
	if source == "" {
		base := strings.TrimSuffix(filepath.Base(job.Input), filepath.Ext(job.Input))
		source = filepath.Join(c.OutDir, base+".c")
	}
	header = strings.TrimSuffix(source, filepath.Ext(source)) + ".h"
	return source, header
}

func (c *Compiler) compile(job Job) Result {
	start := c.now()
	res := Result{Job: job}
	res.SourcePath, res.HeaderPath = c.Paths(job)
	res.Err = c.lower(job, &res)
	res.Took = c.now().Sub(start)

	if res.Err != nil {
		c.Logger.Error("%s: %v", job.Input, res.Err)
	} else {
		c.Logger.Info("%s -> %s (%s)", job.Input, res.SourcePath, res.Took.Round(time.Millisecond))
	}
	return res
}

func (c *Compiler) lower(job Job, res *Result) error {
	data, err := os.ReadFile(job.Input)
	if err != nil {
		return errors.NewStandardError(errors.CategoryIO, "READ_FAILED",
			fmt.Sprintf("failed to read %s: %v", job.Input, err), map[string]interface{}{"path": job.Input})
	}

	headerName := filepath.Base(res.HeaderPath)
	key := KeyOf(data, headerName, c.Target)

	art := c.cached(key)
	res.Cached = art != nil
	if art == nil {
		prog, err := ir.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%s: %w", job.Input, err)
		}
		c.Logger.Debug("%s: %d types, %d expressions, key %s", job.Input, len(prog.Types), len(prog.Exprs), key[:12])

		engine := diagnostic.NewDiagnosticEngine(c.Diagnostics)
		opts := codegen.Options{Target: c.Target, Reporter: engine, HeaderName: headerName}
		if c.Timestamp {
			opts.Timestamp = c.now()
		}
		art, err = codegen.Compile(prog, opts)
		engine.SortDiagnostics()
		res.Diagnostics = engine.GetDiagnostics()
		if err != nil {
			return err
		}
		if c.Cache != nil {
			if err := c.Cache.Put(key, art); err != nil {
				c.Logger.Warn("cache store for %s failed: %v", job.Input, err)
			}
		}
	}

	if err := prepareDir(filepath.Dir(res.SourcePath)); err != nil {
		return errors.NewStandardError(errors.CategoryIO, "WRITE_FAILED", err.Error(), map[string]interface{}{"path": res.SourcePath})
	}
	if filepath.Dir(res.HeaderPath) != filepath.Dir(res.SourcePath) {
		if err := prepareDir(filepath.Dir(res.HeaderPath)); err != nil {
			return errors.NewStandardError(errors.CategoryIO, "WRITE_FAILED", err.Error(), map[string]interface{}{"path": res.HeaderPath})
		}
	}
	if err := writeAtomic(res.HeaderPath, []byte(art.Header)); err != nil {
		return errors.NewStandardError(errors.CategoryIO, "WRITE_FAILED", err.Error(), map[string]interface{}{"path": res.HeaderPath})
	}
	if err := writeAtomic(res.SourcePath, []byte(art.Source)); err != nil {
		return errors.NewStandardError(errors.CategoryIO, "WRITE_FAILED", err.Error(), map[string]interface{}{"path": res.SourcePath})
	}
	return nil
}

func (c *Compiler) cached(key Key) *codegen.Artifacts {
	if c.Cache == nil {
		return nil
	}
	art, ok, err := c.Cache.Get(key)
	if err != nil {
		c.Logger.Warn("cache lookup failed: %v", err)
		return nil
	}
	if !ok {
		return nil
	}
	c.Logger.Debug("cache hit %s", key[:12])
	return art
}
