package pypi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matzehuels/wheelhouse/pkg/cache"
	"github.com/matzehuels/wheelhouse/pkg/environment"
)

const flaskPage = `<!DOCTYPE html>
<html><head><title>Links for flask</title></head><body>
<h1>Links for flask</h1>
<a href="../../packages/flask-2.0.0-py3-none-any.whl#sha256=aaaa" data-requires-python="&gt;=3.6">flask-2.0.0-py3-none-any.whl</a><br/>
<a href="../../packages/flask-2.0.0.tar.gz#sha256=bbbb" data-requires-python="&gt;=3.6">flask-2.0.0.tar.gz</a><br/>
<a href="../../packages/flask-2.1.2-py3-none-any.whl#sha256=cccc" data-requires-python="&gt;=3.7">flask-2.1.2-py3-none-any.whl</a><br/>
<a href="../../packages/flask-2.1.2.tar.gz#sha256=dddd" data-requires-python="&gt;=3.7">flask-2.1.2.tar.gz</a><br/>
<a href="../../packages/flask-1.9.0-py3-none-any.whl#sha256=eeee" data-yanked="broken release">flask-1.9.0-py3-none-any.whl</a><br/>
</body></html>`

func simpleTestServer(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for name, page := range pages {
		mux.HandleFunc("/simple/"+name+"/", func(page string) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, page)
			}
		}(page))
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSimpleRepositoryListVersions(t *testing.T) {
	srv := simpleTestServer(t, map[string]string{"flask": flaskPage})
	repo := NewSimpleRepository(srv.URL+"/simple", cache.NewNullCache(), time.Hour)

	dists, err := repo.ListVersions(context.Background(), "Flask")
	if err != nil {
		t.Fatal(err)
	}
	if len(dists) != 3 {
		t.Fatalf("got %d distributions, want 3", len(dists))
	}
	// Sorted descending.
	want := []string{"2.1.2", "2.0.0", "1.9.0"}
	for i, w := range want {
		if dists[i].Version.String() != w {
			t.Errorf("dists[%d] = %s, want %s", i, dists[i].Version, w)
		}
	}
	if len(dists[0].Artifacts) != 2 {
		t.Errorf("2.1.2 has %d artifacts, want 2", len(dists[0].Artifacts))
	}
	if !dists[2].Yanked {
		t.Error("1.9.0 should be yanked")
	}
	for _, a := range dists[0].Artifacts {
		if a.URL == "" || a.Digests["sha256"] == "" {
			t.Errorf("artifact %s missing URL or digest", a.Filename)
		}
		if a.RequiresPython != ">=3.7" {
			t.Errorf("artifact %s requires-python = %q", a.Filename, a.RequiresPython)
		}
	}
}

func TestSimpleRepositoryNotFound(t *testing.T) {
	srv := simpleTestServer(t, nil)
	repo := NewSimpleRepository(srv.URL+"/simple", cache.NewNullCache(), time.Hour)
	dists, err := repo.ListVersions(context.Background(), "no-such-package")
	if err != nil {
		t.Fatalf("missing package should not error, got %v", err)
	}
	if len(dists) != 0 {
		t.Errorf("got %d distributions, want 0", len(dists))
	}
}

func TestWarehouseRepositoryListVersions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pypi/click/json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"releases": {
			"8.2.1": [
				{"filename": "click-8.2.1-py3-none-any.whl", "url": "https://files.example/click-8.2.1-py3-none-any.whl",
				 "digests": {"sha256": "abc"}, "requires_python": ">=3.10", "yanked": false}
			],
			"8.0.0": [
				{"filename": "click-8.0.0.tar.gz", "url": "https://files.example/click-8.0.0.tar.gz",
				 "digests": {"sha256": "def"}, "requires_python": ">=3.6", "yanked": false}
			],
			"not-a-version": []
		}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	repo := NewWarehouseRepository(srv.URL+"/pypi", cache.NewNullCache(), time.Hour)
	dists, err := repo.ListVersions(context.Background(), "click")
	if err != nil {
		t.Fatal(err)
	}
	if len(dists) != 2 {
		t.Fatalf("got %d distributions, want 2", len(dists))
	}
	if dists[0].Version.String() != "8.2.1" {
		t.Errorf("first distribution = %s, want 8.2.1", dists[0].Version)
	}
}

func TestIndexPriority(t *testing.T) {
	primary := simpleTestServer(t, map[string]string{"flask": flaskPage})
	fallbackPage := `<a href="flask-9.9.9-py3-none-any.whl">flask-9.9.9-py3-none-any.whl</a>
<a href="only-here-1.0.tar.gz">only-here-1.0.tar.gz</a>`
	fallback := simpleTestServer(t, map[string]string{"flask": fallbackPage, "only-here": fallbackPage})

	ix := NewIndex(
		NewSimpleRepository(primary.URL+"/simple", cache.NewNullCache(), time.Hour),
		NewSimpleRepository(fallback.URL+"/simple", cache.NewNullCache(), time.Hour),
	)
	ctx := context.Background()

	// flask resolves from the primary index only; 9.9.9 must not leak in.
	dists, err := ix.ListVersions(ctx, "flask")
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range dists {
		if d.Version.String() == "9.9.9" {
			t.Error("version from lower-priority index leaked into result")
		}
	}

	// A package absent from the primary falls through.
	dists, err = ix.ListVersions(ctx, "only-here")
	if err != nil {
		t.Fatal(err)
	}
	if len(dists) != 1 {
		t.Fatalf("got %d distributions for only-here, want 1", len(dists))
	}
}

func TestMergeDistributions(t *testing.T) {
	a1, _ := ParseFilename("x-1.0-py3-none-any.whl")
	a1.URL = "https://first.example/x-1.0-py3-none-any.whl"
	a2, _ := ParseFilename("x-1.0-py3-none-any.whl")
	a2.URL = "https://second.example/x-1.0-py3-none-any.whl"
	a3, _ := ParseFilename("x-2.0.tar.gz")

	merged := MergeDistributions("x",
		[]Distribution{{Name: "x", Version: a1.Version, Artifacts: []Artifact{a1}}},
		[]Distribution{{Name: "x", Version: a2.Version, Artifacts: []Artifact{a2}},
			{Name: "x", Version: a3.Version, Artifacts: []Artifact{a3}}},
	)
	if len(merged) != 2 {
		t.Fatalf("got %d distributions, want 2", len(merged))
	}
	// Duplicate filename: first source wins.
	if got := merged[1].Artifacts[0].URL; got != a1.URL {
		t.Errorf("duplicate filename URL = %q, want first source %q", got, a1.URL)
	}
}

func TestPreferredArtifact(t *testing.T) {
	env, err := environment.New("3.10", environment.Linux)
	if err != nil {
		t.Fatal(err)
	}
	wheel, _ := ParseFilename("x-1.0-cp310-cp310-manylinux2014_x86_64.whl")
	pure, _ := ParseFilename("x-1.0-py3-none-any.whl")
	incompatible, _ := ParseFilename("x-1.0-cp310-cp310-win_amd64.whl")
	sdist, _ := ParseFilename("x-1.0.tar.gz")

	d := Distribution{Name: "x", Version: wheel.Version,
		Artifacts: []Artifact{sdist, incompatible, pure, wheel}}

	got, ok := PreferredArtifact(d, env, false)
	if !ok || got.Filename != wheel.Filename {
		t.Errorf("preferred = %v %q, want platform wheel", ok, got.Filename)
	}

	got, ok = PreferredArtifact(d, env, true)
	if !ok || got.Kind != KindSdist {
		t.Errorf("preferred with prefer_source = %v %q, want sdist", ok, got.Filename)
	}

	onlyIncompatible := Distribution{Name: "x", Version: wheel.Version, Artifacts: []Artifact{incompatible}}
	if _, ok := PreferredArtifact(onlyIncompatible, env, false); ok {
		t.Error("incompatible-only distribution should be unusable")
	}
}

func TestSimpleRepositoryFetchArtifact(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/simple/x/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<a href="/files/x-1.0.tar.gz">x-1.0.tar.gz</a>`)
	})
	mux.HandleFunc("/files/x-1.0.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tarball-bytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	repo := NewSimpleRepository(srv.URL+"/simple", cache.NewNullCache(), time.Hour)
	dists, err := repo.ListVersions(context.Background(), "x")
	if err != nil || len(dists) != 1 {
		t.Fatalf("ListVersions = %v, %v", dists, err)
	}
	var buf writerBuffer
	if err := repo.FetchArtifact(context.Background(), dists[0].Artifacts[0], &buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "tarball-bytes" {
		t.Errorf("fetched %q", buf.String())
	}
}

type writerBuffer struct{ data []byte }

func (b *writerBuffer) Write(p []byte) (int, error) { b.data = append(b.data, p...); return len(p), nil }
func (b *writerBuffer) String() string              { return string(b.data) }
