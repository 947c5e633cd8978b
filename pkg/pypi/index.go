package pypi

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/matzehuels/wheelhouse/pkg/environment"
	"github.com/matzehuels/wheelhouse/pkg/pep440"
	"github.com/matzehuels/wheelhouse/pkg/pep508"
)

// Index queries one or more repositories in declared priority order. A
// package found in an earlier repository is not re-queried in later
// ones; per-name results are memoized for the life of the Index.
type Index struct {
	repos []Repository

	mu   sync.Mutex
	memo map[string]indexEntry
}

type indexEntry struct {
	dists []Distribution
	repo  Repository // repository the package was found in
}

// NewIndex creates an Index over repos, earlier entries taking
// priority.
func NewIndex(repos ...Repository) *Index {
	return &Index{repos: repos, memo: make(map[string]indexEntry)}
}

// ListVersions lists the distributions of name from the first
// repository that carries it, sorted by version descending. An error is
// returned when no repository carries the package and at least one of
// them failed; an empty result means every repository answered and none
// carries the package.
func (ix *Index) ListVersions(ctx context.Context, name string) ([]Distribution, error) {
	name = pep508.NormalizeName(name)

	ix.mu.Lock()
	entry, ok := ix.memo[name]
	ix.mu.Unlock()
	if ok {
		return entry.dists, nil
	}

	var lastErr error
	for _, repo := range ix.repos {
		dists, err := repo.ListVersions(ctx, name)
		if err != nil {
			lastErr = err
			continue
		}
		if len(dists) == 0 {
			continue
		}
		ix.store(name, dists, repo)
		return dists, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	ix.store(name, nil, nil)
	return nil, nil
}

func (ix *Index) store(name string, dists []Distribution, repo Repository) {
	ix.mu.Lock()
	ix.memo[name] = indexEntry{dists: dists, repo: repo}
	ix.mu.Unlock()
}

// FetchArtifact streams an artifact through the repository its package
// was listed from, falling back to the first repository for artifacts
// of packages never listed.
func (ix *Index) FetchArtifact(ctx context.Context, a Artifact, w io.Writer) error {
	ix.mu.Lock()
	entry := ix.memo[a.Name]
	ix.mu.Unlock()
	repo := entry.repo
	if repo == nil {
		if len(ix.repos) == 0 {
			return fmt.Errorf("no repositories configured")
		}
		repo = ix.repos[0]
	}
	return repo.FetchArtifact(ctx, a, w)
}

// groupArtifacts buckets artifacts into per-version distributions,
// unioning duplicate filenames first-wins, sorted by version
// descending. A distribution is yanked when all of its artifacts are.
func groupArtifacts(name string, artifacts []Artifact) []Distribution {
	byVersion := make(map[string]*Distribution)
	var order []string
	seen := make(map[string]bool)
	for _, a := range artifacts {
		// Stray files for other packages occasionally appear on index
		// pages; keep only the package being listed.
		if a.Name != name || seen[a.Filename] {
			continue
		}
		seen[a.Filename] = true
		key := a.Version.String()
		d, ok := byVersion[key]
		if !ok {
			d = &Distribution{Name: name, Version: a.Version}
			byVersion[key] = d
			order = append(order, key)
		}
		d.Artifacts = append(d.Artifacts, a)
	}

	dists := make([]Distribution, 0, len(order))
	for _, key := range order {
		d := byVersion[key]
		d.Yanked = true
		for _, a := range d.Artifacts {
			if !a.Yanked {
				d.Yanked = false
				break
			}
		}
		dists = append(dists, *d)
	}
	sort.SliceStable(dists, func(i, j int) bool {
		return pep440.Compare(dists[i].Version, dists[j].Version) > 0
	})
	return dists
}

// MergeDistributions unions distribution lists from several sources:
// versions are unioned, artifacts of the same version are unioned, and
// on duplicate filenames the earlier source wins.
func MergeDistributions(name string, lists ...[]Distribution) []Distribution {
	var artifacts []Artifact
	for _, dists := range lists {
		for _, d := range dists {
			artifacts = append(artifacts, d.Artifacts...)
		}
	}
	return groupArtifacts(name, artifacts)
}

// PreferredArtifact picks the artifact of a distribution to read
// metadata from: the most specifically tagged compatible wheel, with
// the sdist as fallback, or the other way around when preferSource is
// set. Ties between equally specific wheels break by filename. The
// boolean is false when the distribution has no usable artifact.
func PreferredArtifact(d Distribution, env *environment.Environment, preferSource bool) (Artifact, bool) {
	var bestWheel *Artifact
	bestScore := 0
	var sdist *Artifact
	for i := range d.Artifacts {
		a := &d.Artifacts[i]
		switch a.Kind {
		case KindSdist:
			if sdist == nil {
				sdist = a
			}
		case KindWheel:
			if !CompatibleArtifact(*a, env) {
				continue
			}
			s := Score(*a, env)
			if bestWheel == nil || s > bestScore || (s == bestScore && a.Filename < bestWheel.Filename) {
				bestWheel, bestScore = a, s
			}
		}
	}

	first, second := bestWheel, sdist
	if preferSource {
		first, second = sdist, bestWheel
	}
	if first != nil {
		return *first, true
	}
	if second != nil {
		return *second, true
	}
	return Artifact{}, false
}

// Usable reports whether a distribution has at least one artifact
// usable under env.
func Usable(d Distribution, env *environment.Environment) bool {
	_, ok := PreferredArtifact(d, env, false)
	return ok
}
