// Command wp4c lowers P4 programs, exported as IR documents, to the C
// header and implementation of a packet-processing kernel module.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/orizon-lang/wp4c/internal/build"
	"github.com/orizon-lang/wp4c/internal/cli"
	"github.com/orizon-lang/wp4c/internal/diagnostic"
	"github.com/orizon-lang/wp4c/internal/target"
	"github.com/orizon-lang/wp4c/internal/watch"
)

const usage = "wp4c [-config file] [-target cfg.json] [-o out.c | -outdir dir] [-j N] [-watch] [-cache dir] [-v] [-debug] [-no-timestamp] [-write-config file] prog.json..."

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	cli.Config
	output      string
	watch       bool
	version     bool
	writeConfig string
}

// parseArgs merges the flags over the driver config file. Only flags given
// on the command line override the file.
func parseArgs(args []string, stderr io.Writer) (*options, []string, error) {
	fs := flag.NewFlagSet("wp4c", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s\n", usage)
		fs.PrintDefaults()
	}

	var (
		configPath  = fs.String("config", "", "driver config file (JSON)")
		targetPath  = fs.String("target", "", "target record (JSON); defaults to the built-in kernel target")
		output      = fs.String("o", "", "implementation file for a single input; the header is written next to it")
		outDir      = fs.String("outdir", "", "directory for the artifacts of every input")
		jobs        = fs.Int("j", 0, "concurrent compilations (0 = number of CPUs)")
		watchMode   = fs.Bool("watch", false, "recompile when an input or the target record changes")
		cacheDir    = fs.String("cache", "", "persistent artifact cache directory")
		verbose     = fs.Bool("v", false, "verbose output")
		debugMode   = fs.Bool("debug", false, "debug output")
		noTimestamp = fs.Bool("no-timestamp", false, "omit the generation time from the artifacts")
		version     = fs.Bool("version", false, "show version information")
		writeConfig = fs.String("write-config", "", "save the effective driver settings to file and exit")
	)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg, err := cli.LoadConfig(*configPath)
	if err != nil {
		return nil, nil, err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["target"] {
		cfg.Target = *targetPath
	}
	if set["outdir"] {
		cfg.OutDir = *outDir
	}
	if set["j"] {
		cfg.Jobs = *jobs
	}
	if set["cache"] {
		cfg.CacheDir = *cacheDir
	}
	if set["v"] {
		cfg.Verbose = *verbose
	}
	if set["debug"] {
		cfg.Debug = *debugMode
	}
	if set["no-timestamp"] {
		cfg.NoTimestamp = *noTimestamp
	}
	if cfg.Jobs < 0 {
		return nil, nil, fmt.Errorf("-j must not be negative")
	}

	opts := &options{Config: *cfg, output: *output, watch: *watchMode, version: *version, writeConfig: *writeConfig}
	return opts, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, inputs, err := parseArgs(args, stderr)
	if err == flag.ErrHelp {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if opts.version {
		cli.PrintVersion(stdout, "wp4c", false)
		return 0
	}
	if opts.writeConfig != "" {
		if err := opts.Config.SaveConfig(opts.writeConfig); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
	if err := cli.ValidateArgs(inputs, 1, usage); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if opts.output != "" && len(inputs) > 1 {
		fmt.Fprintln(stderr, "Error: -o accepts a single input; use -outdir for several")
		return 2
	}

	logger := cli.NewLoggerTo(stdout, opts.Verbose || opts.watch, opts.Debug)
	tcfg, err := target.Load(opts.Target)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	c := build.NewCompiler(tcfg, logger)
	c.OutDir = opts.OutDir
	c.Workers = opts.Jobs
	c.Timestamp = !opts.NoTimestamp
	switch {
	case opts.CacheDir != "":
		dc, err := build.NewDiskCache(opts.CacheDir)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		c.Cache = dc
	case opts.watch:
		c.Cache = build.NewArtifactCache(0)
	}

	jobs := make([]build.Job, len(inputs))
	for i, in := range inputs {
		jobs[i] = build.Job{Input: in, Output: opts.output}
	}

	ok := compileAndReport(ctx, c, jobs, stderr)
	if !opts.watch {
		if !ok {
			return 1
		}
		return 0
	}

	if err := watchAndRebuild(ctx, c, opts.Target, jobs, stderr); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// compileAndReport runs the jobs and prints their diagnostics. It reports
// whether every job succeeded.
func compileAndReport(ctx context.Context, c *build.Compiler, jobs []build.Job, stderr io.Writer) bool {
	results, err := c.CompileAll(ctx, jobs)
	for _, r := range results {
		if len(r.Diagnostics) == 0 {
			continue
		}
		engine := diagnostic.NewDiagnosticEngine(c.Diagnostics)
		for i := range r.Diagnostics {
			engine.AddDiagnostic(&r.Diagnostics[i])
		}
		fmt.Fprintf(stderr, "%s:\n%s\n", r.Job.Input, engine.FormatDiagnostics())
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return false
	}
	return true
}

// watchAndRebuild recompiles changed inputs until ctx is done. A change to
// the target record reloads it and recompiles every input.
func watchAndRebuild(ctx context.Context, c *build.Compiler, targetPath string, jobs []build.Job, stderr io.Writer) error {
	fw, err := watch.NewFSWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	byInput := make(map[string]build.Job, len(jobs))
	var paths []string
	for _, j := range jobs {
		byInput[j.Input] = j
		paths = append(paths, j.Input)
	}
	if targetPath != "" {
		paths = append(paths, targetPath)
	}

	loop := &watch.Loop{
		Watcher: fw,
		Inputs:  paths,
		Rebuild: func(ctx context.Context, changed []string) {
			var dirty []build.Job
			for _, p := range changed {
				if p == targetPath {
					cfg, err := target.Load(targetPath)
					if err != nil {
						c.Logger.Error("%v", err)
						return
					}
					c.Target = cfg
					c.Logger.Info("target %s changed, recompiling everything", targetPath)
					dirty = jobs
					break
				}
				dirty = append(dirty, byInput[p])
			}
			c.Logger.Info("%d input(s) changed", len(dirty))
			compileAndReport(ctx, c, dirty, stderr)
		},
		OnError: func(err error) { c.Logger.Warn("watch: %v", err) },
	}
	c.Logger.Info("watching %d file(s)", len(paths))
	return loop.Run(ctx)
}
