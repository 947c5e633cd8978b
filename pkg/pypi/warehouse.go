package pypi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/matzehuels/wheelhouse/pkg/cache"
	"github.com/matzehuels/wheelhouse/pkg/httputil"
	"github.com/matzehuels/wheelhouse/pkg/pep440"
	"github.com/matzehuels/wheelhouse/pkg/pep508"
)

// PyPIWarehouseURL is the JSON API root of pypi.org.
const PyPIWarehouseURL = "https://pypi.org/pypi"

// WarehouseRepository serves package listings from a warehouse-style
// JSON API (GET {base}/{name}/json). Safe for concurrent use.
type WarehouseRepository struct {
	client  *httputil.Client
	baseURL string
	memo    *lru.Cache[string, []Distribution]
}

// NewWarehouseRepository creates a repository client for the JSON API
// rooted at baseURL (e.g. [PyPIWarehouseURL]).
func NewWarehouseRepository(baseURL string, backend cache.Cache, ttl time.Duration) *WarehouseRepository {
	memo, _ := lru.New[string, []Distribution](memoSize)
	return &WarehouseRepository{
		client:  httputil.NewClient(backend, "warehouse:", ttl, nil),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		memo:    memo,
	}
}

// URL returns the API base URL.
func (r *WarehouseRepository) URL() string { return r.baseURL }

type warehouseProject struct {
	Releases map[string][]warehouseFile `json:"releases"`
}

type warehouseFile struct {
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	Digests        map[string]string `json:"digests"`
	RequiresPython string            `json:"requires_python"`
	Yanked         bool              `json:"yanked"`
	YankedReason   string            `json:"yanked_reason"`
}

// ListVersions returns every distribution the API reports for name.
func (r *WarehouseRepository) ListVersions(ctx context.Context, name string) ([]Distribution, error) {
	name = pep508.NormalizeName(name)
	if dists, ok := r.memo.Get(name); ok {
		return dists, nil
	}

	var project warehouseProject
	err := r.client.Cached(ctx, name, false, &project, func() error {
		return r.client.GetJSON(ctx, fmt.Sprintf("%s/%s/json", r.baseURL, name), nil, &project)
	})
	if err != nil {
		if errors.Is(err, httputil.ErrNotFound) {
			r.memo.Add(name, nil)
			return nil, nil
		}
		return nil, err
	}

	var artifacts []Artifact
	for release, files := range project.Releases {
		version, err := pep440.Parse(release)
		if err != nil {
			continue
		}
		for _, f := range files {
			a, err := ParseFilename(f.Filename)
			if err != nil {
				continue
			}
			// Trust the release key over the filename parse.
			a.Version = version
			a.URL = f.URL
			a.Digests = f.Digests
			a.RequiresPython = f.RequiresPython
			a.Yanked = f.Yanked
			a.YankedReason = f.YankedReason
			artifacts = append(artifacts, a)
		}
	}
	dists := groupArtifacts(name, artifacts)
	r.memo.Add(name, dists)
	return dists, nil
}

// FetchArtifact streams the artifact into w.
func (r *WarehouseRepository) FetchArtifact(ctx context.Context, a Artifact, w io.Writer) error {
	return r.client.Download(ctx, a.URL, w)
}
