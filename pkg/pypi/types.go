// Package pypi enumerates the distributions a Python package index
// offers for a package: which versions exist, which artifacts (wheels
// and source distributions) each version has, and which artifact best
// fits a target environment.
//
// Two repository client implementations are provided: [SimpleRepository]
// for PEP 503 "simple" HTML indexes and [WarehouseRepository] for the
// JSON API served by warehouse (pypi.org). [Index] merges several
// repositories in declared priority order.
package pypi

import (
	"context"
	"io"

	"github.com/matzehuels/wheelhouse/pkg/pep440"
)

// Kind discriminates artifact types.
type Kind string

// Artifact kinds. A {name, version} has zero or more wheels and at most
// one sdist.
const (
	KindWheel Kind = "wheel"
	KindSdist Kind = "sdist"
)

// Artifact is one downloadable file of a distribution.
type Artifact struct {
	Kind     Kind
	Name     string // normalized package name
	Version  pep440.Version
	Filename string
	URL      string
	// Digests maps algorithm name ("sha256") to hex digest.
	Digests map[string]string
	// RequiresPython is the artifact's declared interpreter constraint,
	// empty when unknown.
	RequiresPython string
	Yanked         bool
	YankedReason   string

	// Tags are the expanded PEP 425 compatibility tags of a wheel; nil
	// for sdists.
	Tags []Tag
}

// Distribution is everything an index offers for one {name, version}.
type Distribution struct {
	Name      string
	Version   pep440.Version
	Artifacts []Artifact
	// Yanked is true when every artifact of the version is yanked.
	Yanked bool
}

// Repository lists the distributions of a package and fetches artifact
// payloads. Implementations must be safe for concurrent use; listing is
// a pure function of the repository snapshot and should be memoized by
// the implementation.
type Repository interface {
	// ListVersions returns all distributions of the named package, or
	// an empty slice when the repository does not carry it.
	ListVersions(ctx context.Context, name string) ([]Distribution, error)

	// FetchArtifact streams the artifact's bytes into w.
	FetchArtifact(ctx context.Context, a Artifact, w io.Writer) error
}
