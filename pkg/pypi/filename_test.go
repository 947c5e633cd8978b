package pypi

import (
	"testing"

	"github.com/matzehuels/wheelhouse/pkg/environment"
)

func TestParseFilename(t *testing.T) {
	tests := []struct {
		in      string
		kind    Kind
		name    string
		version string
		tags    int
	}{
		{"flask-2.1.2-py3-none-any.whl", KindWheel, "flask", "2.1.2", 1},
		{"MarkupSafe-3.0.2-cp310-cp310-manylinux_2_17_x86_64.manylinux2014_x86_64.whl", KindWheel, "markupsafe", "3.0.2", 2},
		{"numpy-1.24.0-0-cp310-cp310-win_amd64.whl", KindWheel, "numpy", "1.24.0", 1},
		{"cffi-1.15.1-cp310-cp310.cp311-manylinux1_x86_64.whl", KindWheel, "cffi", "1.15.1", 2},
		{"flask-2.1.2.tar.gz", KindSdist, "flask", "2.1.2", 0},
		{"zope.interface-5.4.0.tar.gz", KindSdist, "zope-interface", "5.4.0", 0},
		{"python-dateutil-2.8.2.tar.gz", KindSdist, "python-dateutil", "2.8.2", 0},
		{"crontab-1.0.4.zip", KindSdist, "crontab", "1.0.4", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, err := ParseFilename(tt.in)
			if err != nil {
				t.Fatalf("ParseFilename failed: %v", err)
			}
			if a.Kind != tt.kind || a.Name != tt.name || a.Version.String() != tt.version {
				t.Errorf("got %s %s %s, want %s %s %s", a.Kind, a.Name, a.Version, tt.kind, tt.name, tt.version)
			}
			if len(a.Tags) != tt.tags {
				t.Errorf("got %d tags, want %d", len(a.Tags), tt.tags)
			}
		})
	}
}

func TestParseFilenameInvalid(t *testing.T) {
	for _, in := range []string{
		"README.txt",
		"flask.whl",
		"flask-2.1.2-extra-bits-py3-none-any-x.whl",
		"noversion.tar.gz",
	} {
		if _, err := ParseFilename(in); err == nil {
			t.Errorf("ParseFilename(%q) succeeded, want error", in)
		}
	}
}

func TestCompatible(t *testing.T) {
	linux310, err := environment.New("3.10", environment.Linux)
	if err != nil {
		t.Fatal(err)
	}
	win310, err := environment.New("3.10", environment.Windows)
	if err != nil {
		t.Fatal(err)
	}
	mac310, err := environment.New("3.10", environment.MacOS)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		tag  Tag
		env  *environment.Environment
		want bool
	}{
		{Tag{"py3", "none", "any"}, linux310, true},
		{Tag{"py310", "none", "any"}, linux310, true},
		{Tag{"py311", "none", "any"}, linux310, false},
		{Tag{"cp310", "cp310", "manylinux_2_17_x86_64"}, linux310, true},
		{Tag{"cp310", "cp310", "manylinux2014_x86_64"}, linux310, true},
		{Tag{"cp39", "cp39", "manylinux2014_x86_64"}, linux310, false},
		{Tag{"cp38", "abi3", "manylinux2014_x86_64"}, linux310, true},
		{Tag{"cp311", "abi3", "manylinux2014_x86_64"}, linux310, false},
		{Tag{"cp310", "cp310", "win_amd64"}, linux310, false},
		{Tag{"cp310", "cp310", "win_amd64"}, win310, true},
		{Tag{"cp310", "cp310", "macosx_10_9_x86_64"}, mac310, true},
		{Tag{"cp310", "cp310", "macosx_11_0_universal2"}, mac310, true},
		{Tag{"cp310", "cp310", "macosx_11_0_arm64"}, mac310, false},
		{Tag{"py2", "none", "any"}, linux310, false},
	}
	for _, tt := range tests {
		t.Run(tt.tag.String(), func(t *testing.T) {
			if got := Compatible(tt.tag, tt.env); got != tt.want {
				t.Errorf("Compatible(%s, %s/%s) = %v, want %v", tt.tag, tt.env.OS, tt.env.PythonVersion, got, tt.want)
			}
		})
	}
}

func TestScoreOrdering(t *testing.T) {
	env, err := environment.New("3.10", environment.Linux)
	if err != nil {
		t.Fatal(err)
	}
	platformWheel, _ := ParseFilename("x-1.0-cp310-cp310-manylinux2014_x86_64.whl")
	pureWheel, _ := ParseFilename("x-1.0-py3-none-any.whl")
	sdist, _ := ParseFilename("x-1.0.tar.gz")

	if Score(platformWheel, env) <= Score(pureWheel, env) {
		t.Error("platform wheel should outscore pure wheel")
	}
	if Score(pureWheel, env) <= Score(sdist, env) {
		t.Error("pure wheel should outscore sdist")
	}
}
