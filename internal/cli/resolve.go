package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/wheelhouse/pkg/artifactcache"
	"github.com/matzehuels/wheelhouse/pkg/cache"
	"github.com/matzehuels/wheelhouse/pkg/environment"
	wherrors "github.com/matzehuels/wheelhouse/pkg/errors"
	"github.com/matzehuels/wheelhouse/pkg/manifest"
	"github.com/matzehuels/wheelhouse/pkg/metadata"
	"github.com/matzehuels/wheelhouse/pkg/observability"
	"github.com/matzehuels/wheelhouse/pkg/pep508"
	"github.com/matzehuels/wheelhouse/pkg/pypi"
	"github.com/matzehuels/wheelhouse/pkg/report"
	"github.com/matzehuels/wheelhouse/pkg/resolver"
)

// resolveOpts holds the command-line flags for the resolve command.
type resolveOpts struct {
	requirementFiles []string // requirements.txt / pyproject.toml inputs
	pythonVersion    string   // target interpreter version
	operatingSystem  string   // target OS: linux, macos, windows
	indexURLs        []string // index URLs, overriding the config file
	useJSONAPI       bool     // warehouse JSON API instead of the simple index
	output           string   // output file path (stdout if empty)
	tree             bool     // nested tree instead of the flat graph
	preferSource     bool     // sdist over wheel
	allowPrereleases bool     // admit pre-release versions everywhere
	ignoreErrors     bool     // skip candidates with unobtainable metadata
	insecureSdist    bool     // evaluate sdist setup files (constrained)
	lowest           bool     // pick lowest acceptable versions
	maxRounds        int      // resolution round bound
	cacheDir         string   // artifact cache root
	concurrency      int      // parallel fetch cap
	configPath       string   // wheelhouse.toml location
	progress         bool     // live progress view
}

// newResolveCmd creates the resolve command.
//
// Default options:
//   - python 3.10 on linux against pypi.org
//   - flat adjacency output on stdout
func newResolveCmd() *cobra.Command {
	opts := resolveOpts{}

	cmd := &cobra.Command{
		Use:   "resolve [requirement...]",
		Short: "Resolve Python requirements to a pinned dependency set",
		Long: `Resolve the transitive dependency closure of the given requirements
against one or more package indexes, without building or installing
anything.

Requirements are given as PEP 508 specifiers, requirement files, or a
pyproject.toml:

  wheelhouse resolve "flask==2.1.2"
  wheelhouse resolve -r requirements.txt --python-version 3.9
  wheelhouse resolve -r pyproject.toml --operating-system macos --tree`,
		Args: cobra.ArbitraryArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return runResolve(c.Context(), &opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&opts.requirementFiles, "requirement", "r", nil, "requirements.txt or pyproject.toml file (repeatable)")
	flags.StringVar(&opts.pythonVersion, "python-version", "3.10", "target Python version (major.minor[.micro])")
	flags.StringVar(&opts.operatingSystem, "operating-system", "linux", "target operating system (linux|macos|windows)")
	flags.StringArrayVar(&opts.indexURLs, "index-url", nil, "package index URL (repeatable, tried in order)")
	flags.BoolVar(&opts.useJSONAPI, "use-pypi-json-api", false, "query the warehouse JSON API instead of the simple index")
	flags.StringVarP(&opts.output, "output", "o", "", "output file (stdout if empty)")
	flags.BoolVar(&opts.tree, "tree", false, "emit the nested resolution tree instead of the flat graph")
	flags.BoolVar(&opts.preferSource, "prefer-source", false, "prefer source distributions over wheels")
	flags.BoolVar(&opts.allowPrereleases, "allow-prereleases", false, "admit pre-release versions everywhere")
	flags.BoolVar(&opts.ignoreErrors, "ignore-errors", false, "skip candidates whose metadata cannot be fetched")
	flags.BoolVar(&opts.insecureSdist, "analyze-setup-py-insecurely", false, "statically evaluate sdist setup files for dependencies")
	flags.BoolVar(&opts.lowest, "lowest", false, "pick the lowest acceptable version of every package")
	flags.IntVar(&opts.maxRounds, "max-rounds", resolver.DefaultMaxRounds, "maximum resolution rounds")
	flags.StringVar(&opts.cacheDir, "cache-dir", "", "artifact cache directory (default: per-user cache)")
	flags.IntVar(&opts.concurrency, "network-concurrency", 0, "parallel fetch cap (default from config, 10)")
	flags.StringVar(&opts.configPath, "config", "", "config file (default: ./wheelhouse.toml if present)")
	flags.BoolVar(&opts.progress, "progress", false, "show a live progress view during resolution")

	return cmd
}

func runResolve(ctx context.Context, opts *resolveOpts, args []string) error {
	logger := loggerFromContext(ctx)

	roots, err := collectRoots(opts, args)
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		return wherrors.New(wherrors.ErrCodeInvalidInput, "no requirements given: pass specifiers or --requirement files")
	}
	if err := wherrors.ValidateOutputPath(opts.output); err != nil {
		return err
	}

	stack, err := buildStack(ctx, opts)
	if err != nil {
		return err
	}
	defer stack.close()

	logger.Infof("Resolving %d requirements for python %s on %s",
		len(roots), opts.pythonVersion, opts.operatingSystem)
	prog := newProgress(logger)

	var result *resolver.Result
	if opts.progress {
		result, err = runWithProgress(func() (*resolver.Result, error) {
			return stack.resolver.Resolve(ctx, roots)
		})
	} else {
		spinner := newSpinner(ctx, "resolving dependencies")
		spinner.Start()
		observability.SetResolverHooks(&spinnerHooks{spinner: spinner})
		result, err = stack.resolver.Resolve(ctx, roots)
		observability.SetResolverHooks(observability.NoopResolverHooks{})
		spinner.Stop()
	}
	if err != nil {
		return wherrors.FromResolver(err)
	}
	prog.done(fmt.Sprintf("Resolved %d packages", len(result.Pins)))

	doc := report.New(result, optionLines(opts, args), opts.tree)
	if err := writeDocument(doc, opts.output); err != nil {
		return err
	}

	printSummary(result, opts.output)
	return nil
}

// spinnerHooks feeds resolver events into the plain spinner.
type spinnerHooks struct {
	spinner *Spinner
}

func (h *spinnerHooks) OnPin(name, version string, pinned int) {
	h.spinner.SetMessage(fmt.Sprintf("pinned %s %s (%d)", name, version, pinned))
}

func (h *spinnerHooks) OnBacktrack(name string, depth int) {
	h.spinner.SetMessage(fmt.Sprintf("backtracking on %s", name))
}

// collectRoots merges command-line specifiers and requirement files
// into the root requirement list.
func collectRoots(opts *resolveOpts, args []string) ([]pep508.Requirement, error) {
	roots, err := manifest.Specifiers(args)
	if err != nil {
		return nil, wherrors.Wrap(wherrors.ErrCodeInvalidRequirement, err, "invalid requirement")
	}
	for _, path := range opts.requirementFiles {
		if err := wherrors.ValidateInputFile(path); err != nil {
			return nil, err
		}
		reqs, err := manifest.Detect(path)(path)
		if err != nil {
			return nil, wherrors.Wrap(wherrors.ErrCodeInvalidRequirement, err, "parse %s", path)
		}
		roots = append(roots, reqs...)
	}
	return roots, nil
}

// resolveStack bundles the wired components of one resolution run.
type resolveStack struct {
	env      *environment.Environment
	backend  cache.Cache
	store    *artifactcache.Cache
	resolver *resolver.Resolver
}

func (s *resolveStack) close() {
	_ = s.backend.Close()
}

// buildStack wires configuration, cache backend, repositories, the
// metadata provider, and the resolver together.
func buildStack(ctx context.Context, opts *resolveOpts) (*resolveStack, error) {
	logger := loggerFromContext(ctx)

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, wherrors.Wrap(wherrors.ErrCodeInvalidInput, err, "load config")
	}
	if len(opts.indexURLs) > 0 {
		cfg.Index.URLs = opts.indexURLs
	}
	if opts.useJSONAPI {
		cfg.Index.UseJSONAPI = true
	}
	if opts.cacheDir != "" {
		cfg.Cache.Dir = opts.cacheDir
	}
	if opts.concurrency > 0 {
		cfg.Network.Concurrency = opts.concurrency
	}

	env, err := wherrors.ValidateEnvironment(opts.pythonVersion, opts.operatingSystem)
	if err != nil {
		return nil, err
	}

	backend, err := newCacheBackend(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	repos := make([]pypi.Repository, 0, len(cfg.Index.URLs))
	for _, url := range cfg.Index.URLs {
		if cfg.Index.UseJSONAPI {
			if url == pypi.PyPISimpleURL {
				url = pypi.PyPIWarehouseURL
			}
			repos = append(repos, pypi.NewWarehouseRepository(url, backend, cfg.Cache.TTL()))
		} else {
			repos = append(repos, pypi.NewSimpleRepository(url, backend, cfg.Cache.TTL()))
		}
	}

	store, err := artifactcache.New(cfg.Cache.Dir)
	if err != nil {
		_ = backend.Close()
		return nil, wherrors.Wrap(wherrors.ErrCodeInvalidPath, err, "artifact cache")
	}

	provider := metadata.NewProvider(pypi.NewIndex(repos...), env, store, metadata.Options{
		PreferSource:      opts.preferSource,
		InsecureSdistEval: opts.insecureSdist,
		Concurrency:       cfg.Network.Concurrency,
		Logger:            func(msg string, args ...any) { logger.Warnf(msg, args...) },
	})

	res := resolver.New(provider, env, resolver.Options{
		AllowPrereleases: opts.allowPrereleases,
		IgnoreErrors:     opts.ignoreErrors,
		MaxRounds:        opts.maxRounds,
		Lowest:           opts.lowest,
		Logger:           func(msg string, args ...any) { logger.Debugf(msg, args...) },
	})

	return &resolveStack{env: env, backend: backend, store: store, resolver: res}, nil
}

// newCacheBackend selects the HTTP response cache from config.
func newCacheBackend(ctx context.Context, cfg CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case "", "file":
		dir, err := httpCacheDir()
		if err != nil {
			return nil, wherrors.Wrap(wherrors.ErrCodeInternal, err, "cache dir")
		}
		return cache.NewFileCache(dir)
	case "redis":
		return cache.NewRedisCache(ctx, cfg.RedisURL, "wheelhouse:")
	case "mongo":
		return cache.NewMongoCache(ctx, cfg.MongoURI, "wheelhouse", "responses")
	case "none":
		return cache.NewNullCache(), nil
	default:
		return nil, wherrors.New(wherrors.ErrCodeInvalidInput, "unknown cache backend %q", cfg.Backend)
	}
}

// optionLines echoes the effective options into the document headers.
func optionLines(opts *resolveOpts, args []string) []string {
	var lines []string
	for _, spec := range args {
		lines = append(lines, "--specifier "+spec)
	}
	for _, f := range opts.requirementFiles {
		lines = append(lines, "--requirement "+f)
	}
	for _, u := range opts.indexURLs {
		lines = append(lines, "--index-url "+u)
	}
	lines = append(lines,
		"--python-version "+opts.pythonVersion,
		"--operating-system "+opts.operatingSystem,
	)
	if opts.preferSource {
		lines = append(lines, "--prefer-source")
	}
	if opts.allowPrereleases {
		lines = append(lines, "--allow-prereleases")
	}
	if opts.tree {
		lines = append(lines, "--tree")
	}
	return lines
}

// writeDocument serializes the document as indented JSON to path or
// stdout.
func writeDocument(doc *report.Document, path string) error {
	out, err := openOutput(path)
	if err != nil {
		return err
	}
	defer out.Close()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// printSummary shows the pinned set and warnings on the terminal.
func printSummary(result *resolver.Result, output string) {
	printSuccess("Resolved %d packages", len(result.Pins))
	for _, p := range result.Pins {
		printPin(p.Name, p.Version.String())
	}
	for _, w := range result.Warnings {
		printWarning("%s", w)
	}
	if output != "" && output != "-" {
		printFile(output)
	}
}

// nopCloser wraps an io.Writer with a no-op Close method.
// It is used to make os.Stdout compatible with io.WriteCloser.
type nopCloser struct{ io.Writer }

// Close implements io.Closer with a no-op.
func (nopCloser) Close() error { return nil }

// openOutput returns a WriteCloser for the given path.
// If path is empty or "-", it returns os.Stdout wrapped in nopCloser.
// Otherwise, it creates the file at path, overwriting if it exists.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}
