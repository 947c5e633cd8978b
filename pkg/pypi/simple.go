package pypi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/html"

	"github.com/matzehuels/wheelhouse/pkg/cache"
	"github.com/matzehuels/wheelhouse/pkg/httputil"
	"github.com/matzehuels/wheelhouse/pkg/pep508"
)

// PyPISimpleURL is the default package index.
const PyPISimpleURL = "https://pypi.org/simple"

// memoSize bounds the per-run in-memory index page memo. Pages are a
// few hundred KB for large packages, so keep this modest.
const memoSize = 512

// SimpleRepository serves package listings from a PEP 503 "simple"
// index: one HTML page per package whose anchors carry the artifact
// URL, hash fragment, requires-python, and yanked attributes.
//
// Responses are cached in the configured backend and parsed pages are
// memoized in-process. Safe for concurrent use.
type SimpleRepository struct {
	client  *httputil.Client
	baseURL string
	memo    *lru.Cache[string, []Distribution]
}

// NewSimpleRepository creates a repository client for the index rooted
// at baseURL (e.g. [PyPISimpleURL]). Responses are cached in backend
// with the given TTL.
func NewSimpleRepository(baseURL string, backend cache.Cache, ttl time.Duration) *SimpleRepository {
	memo, _ := lru.New[string, []Distribution](memoSize)
	return &SimpleRepository{
		client: httputil.NewClient(backend, "simple:", ttl, map[string]string{
			"Accept": "text/html",
		}),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		memo:    memo,
	}
}

// URL returns the index base URL.
func (r *SimpleRepository) URL() string { return r.baseURL }

// ListVersions returns every distribution the index carries for name.
// A package absent from the index yields an empty slice, not an error.
func (r *SimpleRepository) ListVersions(ctx context.Context, name string) ([]Distribution, error) {
	name = pep508.NormalizeName(name)
	if dists, ok := r.memo.Get(name); ok {
		return dists, nil
	}

	var page struct {
		HTML string `json:"html"`
	}
	pageURL := fmt.Sprintf("%s/%s/", r.baseURL, name)
	err := r.client.Cached(ctx, name, false, &page, func() error {
		body, err := r.client.GetBytes(ctx, pageURL, nil)
		if err != nil {
			return err
		}
		page.HTML = string(body)
		return nil
	})
	if err != nil {
		if errors.Is(err, httputil.ErrNotFound) {
			r.memo.Add(name, nil)
			return nil, nil
		}
		return nil, err
	}

	artifacts, err := parseSimplePage(page.HTML, pageURL)
	if err != nil {
		return nil, fmt.Errorf("index page for %s: %w", name, err)
	}
	dists := groupArtifacts(name, artifacts)
	r.memo.Add(name, dists)
	return dists, nil
}

// FetchArtifact streams the artifact into w.
func (r *SimpleRepository) FetchArtifact(ctx context.Context, a Artifact, w io.Writer) error {
	return r.client.Download(ctx, a.URL, w)
}

// parseSimplePage extracts artifacts from a simple-index package page.
// Anchors that do not look like distribution files are skipped.
func parseSimplePage(page, base string) ([]Artifact, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, err
	}

	var artifacts []Artifact
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if a, ok := anchorArtifact(n, baseURL); ok {
				artifacts = append(artifacts, a)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return artifacts, nil
}

func anchorArtifact(n *html.Node, base *url.URL) (Artifact, bool) {
	var href, requiresPython, yankedReason string
	yanked := false
	for _, attr := range n.Attr {
		switch attr.Key {
		case "href":
			href = attr.Val
		case "data-requires-python":
			requiresPython = attr.Val
		case "data-yanked":
			yanked = true
			yankedReason = attr.Val
		}
	}
	if href == "" {
		return Artifact{}, false
	}
	u, err := base.Parse(href)
	if err != nil {
		return Artifact{}, false
	}

	filename := anchorText(n)
	if filename == "" {
		filename = lastPathSegment(u.Path)
	}
	a, err := ParseFilename(filename)
	if err != nil {
		return Artifact{}, false
	}

	// The digest travels in the URL fragment as "alg=hex".
	if alg, hex, ok := strings.Cut(u.Fragment, "="); ok && hex != "" {
		a.Digests = map[string]string{alg: hex}
	}
	u.Fragment = ""
	a.URL = u.String()
	a.RequiresPython = requiresPython
	a.Yanked = yanked
	a.YankedReason = yankedReason
	return a, true
}

func anchorText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String())
}

func lastPathSegment(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
