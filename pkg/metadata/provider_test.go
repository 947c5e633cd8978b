package metadata

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/matzehuels/wheelhouse/pkg/artifactcache"
	"github.com/matzehuels/wheelhouse/pkg/environment"
	"github.com/matzehuels/wheelhouse/pkg/pep440"
	"github.com/matzehuels/wheelhouse/pkg/pypi"
)

// fakeRepo serves artifact listings and payloads from memory.
type fakeRepo struct {
	dists   map[string][]pypi.Distribution
	files   map[string][]byte
	fetches atomic.Int64
}

func (f *fakeRepo) ListVersions(ctx context.Context, name string) ([]pypi.Distribution, error) {
	return f.dists[name], nil
}

func (f *fakeRepo) FetchArtifact(ctx context.Context, a pypi.Artifact, w io.Writer) error {
	f.fetches.Add(1)
	data, ok := f.files[a.Filename]
	if !ok {
		return fmt.Errorf("no payload for %s", a.Filename)
	}
	_, err := w.Write(data)
	return err
}

// wheelBytes builds a minimal wheel archive holding only a METADATA
// member.
func wheelBytes(t *testing.T, name, version, metadata string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(fmt.Sprintf("%s-%s.dist-info/METADATA", name, version))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, metadata); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// sdistBytes builds a .tar.gz sdist with the given top-level members.
func sdistBytes(t *testing.T, root string, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range members {
		hdr := &tar.Header{Name: root + "/" + name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(tw, content); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testEnv(t *testing.T) *environment.Environment {
	t.Helper()
	env, err := environment.New("3.10", environment.Linux)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func wheelArtifact(t *testing.T, filename string) pypi.Artifact {
	t.Helper()
	a, err := pypi.ParseFilename(filename)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func newTestProvider(t *testing.T, repo *fakeRepo, opts Options) *Provider {
	t.Helper()
	store, err := artifactcache.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewProvider(pypi.NewIndex(repo), testEnv(t), store, opts)
}

func TestProviderVersionsUsableOnly(t *testing.T) {
	repo := &fakeRepo{
		dists: map[string][]pypi.Distribution{
			"pkg": {
				{Name: "pkg", Version: pep440.MustParse("2.0"), Artifacts: []pypi.Artifact{
					wheelArtifact(t, "pkg-2.0-py3-none-any.whl"),
				}},
				{Name: "pkg", Version: pep440.MustParse("1.5"), Artifacts: []pypi.Artifact{
					// Wrong platform only: unusable on linux.
					wheelArtifact(t, "pkg-1.5-cp310-cp310-win_amd64.whl"),
				}},
				{Name: "pkg", Version: pep440.MustParse("1.0"), Artifacts: []pypi.Artifact{
					wheelArtifact(t, "pkg-1.0.tar.gz"),
				}},
			},
		},
	}
	p := newTestProvider(t, repo, Options{})

	got, err := p.Versions(context.Background(), "pkg")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2.0", "1.0"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Version.String() != w {
			t.Errorf("candidate %d = %s, want %s", i, got[i].Version, w)
		}
	}
}

func TestRequirementsForMarkersAndExtras(t *testing.T) {
	meta := strings.Join([]string{
		"Metadata-Version: 2.1",
		"Name: web",
		"Version: 1.0",
		"Requires-Python: >=3.8",
		"Requires-Dist: click>=8.0",
		`Requires-Dist: olddep; python_version < "3.9"`,
		`Requires-Dist: tomli; python_version < "3.11"`,
		`Requires-Dist: fancy>=2; extra == "extra1"`,
		"Provides-Extra: extra1",
		"", "",
	}, "\n")

	wheel := wheelArtifact(t, "web-1.0-py3-none-any.whl")
	repo := &fakeRepo{
		dists: map[string][]pypi.Distribution{
			"web": {{Name: "web", Version: pep440.MustParse("1.0"), Artifacts: []pypi.Artifact{wheel}}},
		},
		files: map[string][]byte{wheel.Filename: wheelBytes(t, "web", "1.0", meta)},
	}
	p := newTestProvider(t, repo, Options{})

	tests := []struct {
		name   string
		extras []string
		want   []string
	}{
		{name: "base", want: []string{"click", "tomli"}},
		{name: "with extra", extras: []string{"extra1"}, want: []string{"click", "tomli", "fancy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rp, reqs, err := p.RequirementsFor(context.Background(), "web", pep440.MustParse("1.0"), tt.extras)
			if err != nil {
				t.Fatal(err)
			}
			if !rp.Contains(pep440.MustParse("3.10")) {
				t.Errorf("requires-python %s does not contain 3.10", rp)
			}
			var names []string
			for _, r := range reqs {
				names = append(names, r.Name)
				if !r.Origin.Root && r.Origin.Name != "web" {
					t.Errorf("origin = %s, want web", r.Origin)
				}
			}
			if fmt.Sprint(names) != fmt.Sprint(tt.want) {
				t.Errorf("requirements = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestPackageMemoizesFetch(t *testing.T) {
	meta := "Metadata-Version: 2.1\nName: one\nVersion: 1.0\n\n"
	wheel := wheelArtifact(t, "one-1.0-py3-none-any.whl")
	repo := &fakeRepo{
		dists: map[string][]pypi.Distribution{
			"one": {{Name: "one", Version: pep440.MustParse("1.0"), Artifacts: []pypi.Artifact{wheel}}},
		},
		files: map[string][]byte{wheel.Filename: wheelBytes(t, "one", "1.0", meta)},
	}
	p := newTestProvider(t, repo, Options{})

	for range 3 {
		if _, err := p.Package(context.Background(), "one", pep440.MustParse("1.0")); err != nil {
			t.Fatal(err)
		}
	}
	if n := repo.fetches.Load(); n != 1 {
		t.Errorf("artifact fetched %d times, want 1", n)
	}
}

func TestSdistPkgInfoReliable(t *testing.T) {
	pkgInfo := strings.Join([]string{
		"Metadata-Version: 2.2",
		"Name: src-only",
		"Version: 0.3",
		"Requires-Dist: attrs>=20",
		"", "",
	}, "\n")
	sdist := wheelArtifact(t, "src_only-0.3.tar.gz")
	repo := &fakeRepo{
		dists: map[string][]pypi.Distribution{
			"src-only": {{Name: "src-only", Version: pep440.MustParse("0.3"), Artifacts: []pypi.Artifact{sdist}}},
		},
		files: map[string][]byte{sdist.Filename: sdistBytes(t, "src_only-0.3", map[string]string{"PKG-INFO": pkgInfo})},
	}
	p := newTestProvider(t, repo, Options{})

	pkg, err := p.Package(context.Background(), "src-only", pep440.MustParse("0.3"))
	if err != nil {
		t.Fatal(err)
	}
	if len(pkg.Requires) != 1 || pkg.Requires[0].Name != "attrs" {
		t.Fatalf("requires = %v, want [attrs]", pkg.Requires)
	}
}

func TestSdistDynamicMetadata(t *testing.T) {
	members := map[string]string{
		"PKG-INFO": "Metadata-Version: 2.1\nName: legacy\nVersion: 1.0\n\n",
		"setup.py": `from setuptools import setup
setup(
    name="legacy",
    install_requires=[
        "six>=1.0",
        'chardet',
    ],
    extras_require={"socks": ["pysocks>=1.5"]},
)
`,
	}
	sdist := wheelArtifact(t, "legacy-1.0.tar.gz")
	newRepo := func() *fakeRepo {
		return &fakeRepo{
			dists: map[string][]pypi.Distribution{
				"legacy": {{Name: "legacy", Version: pep440.MustParse("1.0"), Artifacts: []pypi.Artifact{sdist}}},
			},
			files: map[string][]byte{sdist.Filename: sdistBytes(t, "legacy-1.0", members)},
		}
	}

	t.Run("fails without opt-in", func(t *testing.T) {
		p := newTestProvider(t, newRepo(), Options{})
		_, err := p.Package(context.Background(), "legacy", pep440.MustParse("1.0"))
		if err == nil || !strings.Contains(err.Error(), "metadata unavailable") {
			t.Fatalf("err = %v, want metadata unavailable", err)
		}
	})

	t.Run("literal eval with opt-in", func(t *testing.T) {
		p := newTestProvider(t, newRepo(), Options{InsecureSdistEval: true})
		pkg, err := p.Package(context.Background(), "legacy", pep440.MustParse("1.0"))
		if err != nil {
			t.Fatal(err)
		}
		var names []string
		for _, r := range pkg.Requires {
			names = append(names, r.Name)
		}
		want := "[six chardet pysocks]"
		if fmt.Sprint(names) != want {
			t.Errorf("requires = %v, want %s", names, want)
		}
		if len(pkg.ProvidedExtras) != 1 || pkg.ProvidedExtras[0] != "socks" {
			t.Errorf("extras = %v, want [socks]", pkg.ProvidedExtras)
		}
		_, reqs, err := p.RequirementsFor(context.Background(), "legacy", pep440.MustParse("1.0"), nil)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range reqs {
			if r.Name == "pysocks" {
				t.Error("extra requirement active without the extra")
			}
		}
	})
}

func TestSetupCfgRequires(t *testing.T) {
	cfg := []byte(`[metadata]
name = cfgpkg

[options]
install_requires =
    requests>=2.0
    idna
[options.extras_require]
tls =
    pyopenssl
`)
	reqs := setupCfgRequires(cfg)
	if fmt.Sprint(reqs) != "[requests>=2.0 idna]" {
		t.Errorf("install_requires = %v", reqs)
	}
	extras := setupCfgExtras(cfg)
	if fmt.Sprint(extras["tls"]) != "[pyopenssl]" {
		t.Errorf("extras = %v", extras)
	}
}
