// Package metadata answers the two questions the resolver asks about
// the outside world: which versions of a package exist for the target
// environment, and what a given {name, version} requires.
//
// Answers come from a [pypi.Index] by inspecting the preferred artifact
// of each distribution: for wheels the METADATA member is read straight
// out of the archive, for source distributions the PKG-INFO file (and,
// only with the insecure opt-in, the literal parts of setup.py and
// setup.cfg). Artifacts are downloaded at most once through the shared
// [artifactcache.Cache]; parsed packages are memoized for the life of
// the provider. No package code is ever executed.
package metadata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/wheelhouse/pkg/artifactcache"
	"github.com/matzehuels/wheelhouse/pkg/environment"
	"github.com/matzehuels/wheelhouse/pkg/httputil"
	"github.com/matzehuels/wheelhouse/pkg/markers"
	"github.com/matzehuels/wheelhouse/pkg/pep440"
	"github.com/matzehuels/wheelhouse/pkg/pep508"
	"github.com/matzehuels/wheelhouse/pkg/pypi"
)

// DefaultConcurrency caps parallel index and artifact fetches during
// warm-up.
const DefaultConcurrency = 10

var (
	// ErrNoVersions is returned when a package has no version usable
	// under the environment.
	ErrNoVersions = errors.New("no versions found")

	// ErrUnavailable is returned when the metadata of a candidate
	// cannot be obtained: fetch retries exhausted, no readable metadata
	// member, or dynamic sdist metadata without the insecure opt-in.
	ErrUnavailable = errors.New("metadata unavailable")
)

// Candidate is one selectable version of a package.
type Candidate struct {
	Version      pep440.Version
	Yanked       bool
	YankedReason string
}

// Package is the derived metadata of one {name, version}, immutable
// once built.
type Package struct {
	Name           string
	Version        pep440.Version
	RequiresPython pep440.Specifier
	// Requires is the full declared requirement list with origin
	// attached, before any marker or extras filtering.
	Requires       []pep508.Requirement
	ProvidedExtras []string
}

// Options configures a Provider.
type Options struct {
	// PreferSource flips artifact preference to sdist-first.
	PreferSource bool
	// InsecureSdistEval enables the constrained setup.py/setup.cfg
	// evaluator for sdists whose PKG-INFO carries no requirement list.
	InsecureSdistEval bool
	// Concurrency caps parallel fetches in Warm; 0 means
	// [DefaultConcurrency].
	Concurrency int
	// Logger receives skipped-requirement warnings; nil discards them.
	Logger func(format string, args ...any)
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Logger == nil {
		o.Logger = func(string, ...any) {}
	}
	return o
}

// Provider resolves package versions and requirements against an index
// for one target environment. Safe for concurrent use; the memo is
// per-provider, the artifact store is shared.
type Provider struct {
	index *pypi.Index
	env   *environment.Environment
	store *artifactcache.Cache
	opts  Options

	mu   sync.Mutex
	memo map[string]*memoEntry
}

// memoEntry serializes metadata extraction per {name, version} so
// concurrent callers share one download and one parse.
type memoEntry struct {
	once sync.Once
	pkg  Package
	err  error
}

// NewProvider creates a Provider over index for env, caching artifacts
// in store.
func NewProvider(index *pypi.Index, env *environment.Environment, store *artifactcache.Cache, opts Options) *Provider {
	return &Provider{
		index: index,
		env:   env,
		store: store,
		opts:  opts.withDefaults(),
		memo:  make(map[string]*memoEntry),
	}
}

// Environment returns the target environment the provider serves.
func (p *Provider) Environment() *environment.Environment { return p.env }

// Versions returns the candidates of name in descending version order,
// restricted to distributions with at least one artifact usable under
// the environment. The result is empty, with a nil error, when the
// index does not carry the package; errors are network-level only.
func (p *Provider) Versions(ctx context.Context, name string) ([]Candidate, error) {
	dists, err := p.index.ListVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(dists))
	for _, d := range dists {
		if !pypi.Usable(d, p.env) {
			continue
		}
		c := Candidate{Version: d.Version, Yanked: d.Yanked}
		if d.Yanked {
			c.YankedReason = yankedReason(d)
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func yankedReason(d pypi.Distribution) string {
	for _, a := range d.Artifacts {
		if a.YankedReason != "" {
			return a.YankedReason
		}
	}
	return ""
}

// Warm fetches the version lists of names concurrently ahead of the
// resolver's first use, bounded by Options.Concurrency. Failures are
// deliberately ignored; the resolver surfaces them when it actually
// needs the package.
func (p *Provider) Warm(ctx context.Context, names []string) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, name := range names {
		g.Go(func() error {
			_, _ = p.index.ListVersions(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
}

// RequirementsFor returns the Python constraint of {name, version} and
// its direct requirements under the environment: requirements whose
// marker holds with no active extra, plus, for each requested extra,
// those whose marker holds with that extra active. Implements the
// provider half of the resolver contract.
func (p *Provider) RequirementsFor(ctx context.Context, name string, version pep440.Version, extras []string) (pep440.Specifier, []pep508.Requirement, error) {
	pkg, err := p.Package(ctx, name, version)
	if err != nil {
		return pep440.Specifier{}, nil, err
	}

	seen := make(map[string]bool)
	var out []pep508.Requirement
	add := func(r pep508.Requirement) {
		key := r.Name + "\x00" + r.String()
		if !seen[key] {
			seen[key] = true
			out = append(out, r)
		}
	}
	for _, r := range pkg.Requires {
		if r.Marker == nil || r.Marker.Eval(p.env, markers.NoExtra) {
			add(r)
		}
	}
	sorted := append([]string(nil), extras...)
	sort.Strings(sorted)
	for _, e := range sorted {
		e = pep508.NormalizeName(e)
		for _, r := range pkg.Requires {
			if r.Marker != nil && r.Marker.Eval(p.env, e) {
				add(r)
			}
		}
	}
	return pkg.RequiresPython, out, nil
}

// Package returns the memoized metadata of {name, version}, deriving
// it on first use. Unavailable metadata is memoized as such so a
// failing candidate is not re-fetched on backtrack.
func (p *Provider) Package(ctx context.Context, name string, version pep440.Version) (Package, error) {
	name = pep508.NormalizeName(name)
	key := name + "@" + version.String()

	p.mu.Lock()
	entry, ok := p.memo[key]
	if !ok {
		entry = &memoEntry{}
		p.memo[key] = entry
	}
	p.mu.Unlock()

	entry.once.Do(func() {
		entry.pkg, entry.err = p.derive(ctx, name, version)
		if entry.err != nil && ctx.Err() != nil {
			// A cancellation is not a verdict on the candidate; let a
			// later call retry.
			p.mu.Lock()
			delete(p.memo, key)
			p.mu.Unlock()
		}
	})
	return entry.pkg, entry.err
}

// derive inspects the preferred artifact of {name, version} and builds
// its Package.
func (p *Provider) derive(ctx context.Context, name string, version pep440.Version) (Package, error) {
	dist, ok, err := p.distribution(ctx, name, version)
	if err != nil {
		return Package{}, err
	}
	if !ok {
		return Package{}, fmt.Errorf("%w: %s has no version %s", ErrNoVersions, name, version)
	}
	artifact, ok := pypi.PreferredArtifact(dist, p.env, p.opts.PreferSource)
	if !ok {
		return Package{}, fmt.Errorf("%w: %s %s has no usable artifact", ErrUnavailable, name, version)
	}

	// Downloads retry with backoff on transient failures; the cache
	// leaves no partial file behind between attempts.
	var local string
	err = httputil.RetryWithBackoff(ctx, func() error {
		var err error
		local, err = p.store.Get(ctx, artifact, p.index.FetchArtifact)
		return err
	})
	if err != nil {
		return Package{}, fmt.Errorf("%w: fetch %s: %v", ErrUnavailable, artifact.Filename, err)
	}

	var meta coreMetadata
	switch artifact.Kind {
	case pypi.KindWheel:
		meta, err = readWheelMetadata(local)
		if err != nil {
			return Package{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, artifact.Filename, err)
		}
	case pypi.KindSdist:
		meta, err = p.sdistMetadata(local, artifact)
		if err != nil {
			return Package{}, err
		}
	}

	origin := pep508.Origin{Name: name, Version: version}
	return Package{
		Name:           name,
		Version:        version,
		RequiresPython: parseRequiresPython(meta.RequiresPython, artifact, p.opts.Logger),
		Requires:       meta.requirements(origin, p.opts.Logger),
		ProvidedExtras: meta.extras(),
	}, nil
}

// sdistMetadata reads metadata out of an sdist without executing its
// setup script. PKG-INFO is authoritative when it is reliable; the
// constrained setup evaluator covers the rest only under the insecure
// opt-in.
func (p *Provider) sdistMetadata(local string, a pypi.Artifact) (coreMetadata, error) {
	files, err := readSdistMetadata(local, a)
	if err != nil {
		return coreMetadata{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, a.Filename, err)
	}

	var meta coreMetadata
	if len(files.pkgInfo) > 0 {
		meta, err = parseCoreMetadata(bytes.NewReader(files.pkgInfo))
		if err != nil {
			return coreMetadata{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, a.Filename, err)
		}
		if meta.reliableDependencies() {
			return meta, nil
		}
	}

	if !p.opts.InsecureSdistEval {
		return coreMetadata{}, fmt.Errorf("%w: %s declares its dependencies dynamically (pass the insecure sdist option to evaluate setup files)", ErrUnavailable, a.Filename)
	}
	requires, extras, ok := setupRequirements(files)
	if !ok {
		return coreMetadata{}, fmt.Errorf("%w: %s has no statically readable dependencies", ErrUnavailable, a.Filename)
	}
	meta.RequiresDist = meta.RequiresDist[:0]
	meta.RequiresDist = append(meta.RequiresDist, requires...)
	var names []string
	for e := range extras {
		names = append(names, e)
	}
	sort.Strings(names)
	for _, e := range names {
		meta.ProvidesExtra = append(meta.ProvidesExtra, e)
		for _, req := range extras[e] {
			meta.RequiresDist = append(meta.RequiresDist, fmt.Sprintf("%s; extra == %q", req, e))
		}
	}
	return meta, nil
}

// distribution finds the distribution of an exact version in the index
// listing.
func (p *Provider) distribution(ctx context.Context, name string, version pep440.Version) (pypi.Distribution, bool, error) {
	dists, err := p.index.ListVersions(ctx, name)
	if err != nil {
		return pypi.Distribution{}, false, err
	}
	for _, d := range dists {
		if d.Version.Equal(version) {
			return d, true, nil
		}
	}
	return pypi.Distribution{}, false, nil
}

// parseRequiresPython parses the Requires-Python header, falling back
// to the index-level value carried on the artifact. An unparsable
// constraint is treated as absent rather than excluding the candidate.
func parseRequiresPython(header string, a pypi.Artifact, warn func(string, ...any)) pep440.Specifier {
	for _, s := range []string{header, a.RequiresPython} {
		if s == "" {
			continue
		}
		spec, err := pep440.ParseSpecifier(s)
		if err != nil {
			warn("%s: ignoring requires-python %q: %v", a.Filename, s, err)
			continue
		}
		return spec
	}
	return pep440.Specifier{}
}
