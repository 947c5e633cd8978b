package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/matzehuels/wheelhouse/pkg/environment"
	"github.com/matzehuels/wheelhouse/pkg/markers"
	"github.com/matzehuels/wheelhouse/pkg/metadata"
	"github.com/matzehuels/wheelhouse/pkg/pep440"
	"github.com/matzehuels/wheelhouse/pkg/pep508"
)

// stubPackage describes one {name, version} of the stub provider.
type stubPackage struct {
	requiresPython string
	requires       []string // Requires-Dist style lines
	yanked         bool
	unavailable    bool
}

// stubProvider serves canned version lists and requirements, applying
// the same marker and extras filtering the real provider does.
type stubProvider struct {
	env  *environment.Environment
	pkgs map[string]map[string]stubPackage // name -> version -> package
}

func (s *stubProvider) Versions(ctx context.Context, name string) ([]metadata.Candidate, error) {
	byVersion := s.pkgs[name]
	out := make([]metadata.Candidate, 0, len(byVersion))
	for v, p := range byVersion {
		out = append(out, metadata.Candidate{Version: pep440.MustParse(v), Yanked: p.yanked})
	}
	sort.Slice(out, func(i, j int) bool {
		return pep440.Compare(out[i].Version, out[j].Version) > 0
	})
	return out, nil
}

func (s *stubProvider) RequirementsFor(ctx context.Context, name string, version pep440.Version, extras []string) (pep440.Specifier, []pep508.Requirement, error) {
	p, ok := s.pkgs[name][version.String()]
	if !ok {
		return pep440.Specifier{}, nil, fmt.Errorf("%w: %s %s", metadata.ErrNoVersions, name, version)
	}
	if p.unavailable {
		return pep440.Specifier{}, nil, fmt.Errorf("%w: %s %s", metadata.ErrUnavailable, name, version)
	}
	origin := pep508.Origin{Name: name, Version: version}
	var all []pep508.Requirement
	for _, line := range p.requires {
		r, err := pep508.Parse(line, origin)
		if err != nil {
			return pep440.Specifier{}, nil, err
		}
		all = append(all, r)
	}
	var out []pep508.Requirement
	for _, r := range all {
		if r.Marker == nil || r.Marker.Eval(s.env, markers.NoExtra) {
			out = append(out, r)
		}
	}
	for _, e := range extras {
		for _, r := range all {
			if r.Marker != nil && r.Marker.Eval(s.env, e) {
				out = append(out, r)
			}
		}
	}
	return pep440.MustParseSpecifier(p.requiresPython), out, nil
}

func env310(t *testing.T) *environment.Environment {
	t.Helper()
	env, err := environment.New("3.10", environment.Linux)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func mustResolve(t *testing.T, env *environment.Environment, pkgs map[string]map[string]stubPackage, opts Options, roots ...string) *Result {
	t.Helper()
	res, err := resolveWith(env, pkgs, opts, roots...)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func resolveWith(env *environment.Environment, pkgs map[string]map[string]stubPackage, opts Options, roots ...string) (*Result, error) {
	provider := &stubProvider{env: env, pkgs: pkgs}
	reqs := make([]pep508.Requirement, len(roots))
	for i, line := range roots {
		reqs[i] = pep508.MustParse(line)
	}
	return New(provider, env, opts).Resolve(context.Background(), reqs)
}

// flat returns "name version" pairs sorted by name.
func flat(res *Result) []string {
	out := make([]string, len(res.Pins))
	for i, p := range res.Pins {
		out[i] = p.Name + " " + p.Version.String()
	}
	sort.Strings(out)
	return out
}

func TestResolveSimpleClosure(t *testing.T) {
	pkgs := map[string]map[string]stubPackage{
		"flask": {
			"2.1.2": {requires: []string{"click>=8.0", "jinja2>=3.0"}},
			"2.0.0": {requires: []string{"click>=7.0"}},
		},
		"click":      {"8.2.1": {}, "8.0.0": {}},
		"jinja2":     {"3.1.6": {requires: []string{"markupsafe>=2.0"}}},
		"markupsafe": {"3.0.2": {}, "2.0.0": {}},
	}
	res := mustResolve(t, env310(t), pkgs, Options{}, "flask==2.1.2")

	want := []string{"click 8.2.1", "flask 2.1.2", "jinja2 3.1.6", "markupsafe 3.0.2"}
	if got := flat(res); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("pins = %v, want %v", got, want)
	}
	// Every pin satisfies every requirement on its name (soundness).
	for _, p := range res.Pins {
		for _, q := range res.Pins {
			for _, r := range q.Requirements {
				if r.Name == p.Name && !r.Specifier.Contains(p.Version) {
					t.Errorf("pin %s %s violates %s from %s", p.Name, p.Version, r, r.Origin)
				}
			}
		}
	}
}

func TestResolveLeafOnly(t *testing.T) {
	pkgs := map[string]map[string]stubPackage{
		"crontab": {"1.0.4": {}, "1.0.1": {}},
	}
	res := mustResolve(t, env310(t), pkgs, Options{}, "crontab==1.0.4")
	if got := flat(res); fmt.Sprint(got) != "[crontab 1.0.4]" {
		t.Errorf("pins = %v", got)
	}
	if len(res.Pins[0].Requirements) != 0 {
		t.Errorf("leaf has requirements: %v", res.Pins[0].Requirements)
	}
}

func TestResolveBacktracks(t *testing.T) {
	// foo 1.0 needs a bar that does not exist; foo 0.9 is satisfiable.
	pkgs := map[string]map[string]stubPackage{
		"foo": {
			"1.0": {requires: []string{"bar>=2"}},
			"0.9": {requires: []string{"bar>=1"}},
		},
		"bar": {"1.5": {}},
	}
	res := mustResolve(t, env310(t), pkgs, Options{}, "foo")
	want := "[bar 1.5 foo 0.9]"
	if got := flat(res); fmt.Sprint(got) != want {
		t.Errorf("pins = %v, want %s", got, want)
	}
}

func TestResolveConflictReportsBothSides(t *testing.T) {
	pkgs := map[string]map[string]stubPackage{
		"a": {"1.0": {requires: []string{"c<2"}}},
		"b": {"1.0": {requires: []string{"c>=2"}}},
		"c": {"1.0": {}, "2.0": {}},
	}
	_, err := resolveWith(env310(t), pkgs, Options{}, "a", "b")
	var impossible *ResolutionImpossibleError
	if !errors.As(err, &impossible) {
		t.Fatalf("err = %v, want ResolutionImpossibleError", err)
	}
	if impossible.Name != "c" {
		t.Errorf("conflict name = %s, want c", impossible.Name)
	}
	var sides []string
	for _, r := range impossible.Conflicts {
		sides = append(sides, r.String())
	}
	sort.Strings(sides)
	if fmt.Sprint(sides) != "[c<2 c>=2]" {
		t.Errorf("conflict set = %v, want both constraints", sides)
	}
}

func TestResolveMarkerExcludesDependency(t *testing.T) {
	pkgs := map[string]map[string]stubPackage{
		"pkg": {"3.0": {requires: []string{`dep; python_version < "3.9"`}}},
		"dep": {"1.0": {}},
	}
	res := mustResolve(t, env310(t), pkgs, Options{}, "pkg")
	if got := flat(res); fmt.Sprint(got) != "[pkg 3.0]" {
		t.Errorf("pins = %v, want only pkg", got)
	}
}

func TestResolveExtras(t *testing.T) {
	pkgs := map[string]map[string]stubPackage{
		"x": {"1.0": {requires: []string{`y>=1; extra == "extra1"`}}},
		"y": {"2.3": {}, "1.0": {}},
	}
	res := mustResolve(t, env310(t), pkgs, Options{}, "x[extra1]==1.0")

	if got := flat(res); fmt.Sprint(got) != "[x 1.0 y 2.3]" {
		t.Errorf("pins = %v, want x and highest y", got)
	}
	// The extra adds requirements to the same pin, never a second node.
	x, _ := res.Pin("x")
	if fmt.Sprint(x.Extras) != "[extra1]" {
		t.Errorf("extras = %v, want [extra1]", x.Extras)
	}
	if len(x.Requirements) != 1 || x.Requirements[0].Name != "y" {
		t.Errorf("x requirements = %v, want [y]", x.Requirements)
	}
}

func TestResolveExtrasReexpandPinned(t *testing.T) {
	// x is pinned plain first; w then asks for x[sock], which must
	// re-expand x's children in place.
	pkgs := map[string]map[string]stubPackage{
		"root": {"1.0": {requires: []string{"x", "w"}}},
		"w":    {"1.0": {requires: []string{"x[sock]"}}},
		"x":    {"1.0": {requires: []string{`socks>=1; extra == "sock"`}}},
		"socks": {"1.5": {}},
	}
	res := mustResolve(t, env310(t), pkgs, Options{}, "root")
	if got := flat(res); fmt.Sprint(got) != "[root 1.0 socks 1.5 w 1.0 x 1.0]" {
		t.Errorf("pins = %v", got)
	}
	x, _ := res.Pin("x")
	if fmt.Sprint(x.Extras) != "[sock]" {
		t.Errorf("x extras = %v, want [sock]", x.Extras)
	}
}

func TestResolveRequiresPythonSkipsCandidate(t *testing.T) {
	pkgs := map[string]map[string]stubPackage{
		"tool": {
			"2.0": {requiresPython: ">=3.12"},
			"1.0": {requiresPython: ">=3.8"},
		},
	}
	res := mustResolve(t, env310(t), pkgs, Options{}, "tool")
	if got := flat(res); fmt.Sprint(got) != "[tool 1.0]" {
		t.Errorf("pins = %v, want tool 1.0", got)
	}
}

func TestResolveUnsupportedPython(t *testing.T) {
	pkgs := map[string]map[string]stubPackage{
		"tool": {
			"2.0": {requiresPython: ">=3.12"},
			"1.0": {requiresPython: ">=3.11"},
		},
	}
	_, err := resolveWith(env310(t), pkgs, Options{}, "tool")
	var unsupported *UnsupportedPythonError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want UnsupportedPythonError", err)
	}
}

func TestResolveNoVersionsFound(t *testing.T) {
	_, err := resolveWith(env310(t), map[string]map[string]stubPackage{}, Options{}, "ghost")
	var notFound *NoVersionsFoundError
	if !errors.As(err, &notFound) || notFound.Name != "ghost" {
		t.Fatalf("err = %v, want NoVersionsFoundError for ghost", err)
	}
}

func TestResolvePrereleaseAdmission(t *testing.T) {
	pkgs := map[string]map[string]stubPackage{
		"lib":     {"2.0b1": {}, "1.0": {}},
		"preonly": {"1.0rc1": {}},
	}
	tests := []struct {
		name string
		opts Options
		root string
		want string
	}{
		{name: "stable preferred", root: "lib", want: "[lib 1.0]"},
		{name: "opt-in flag", opts: Options{AllowPrereleases: true}, root: "lib", want: "[lib 1.0]"},
		{name: "specifier mentions pre", root: "lib>=2.0b1", want: "[lib 2.0b1]"},
		{name: "nothing but prereleases", root: "preonly", want: "[preonly 1.0rc1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustResolve(t, env310(t), pkgs, tt.opts, tt.root)
			if got := flat(res); fmt.Sprint(got) != tt.want {
				t.Errorf("pins = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveYanked(t *testing.T) {
	pkgs := map[string]map[string]stubPackage{
		"lib": {
			"2.0": {yanked: true},
			"1.0": {},
		},
	}

	t.Run("skipped by range", func(t *testing.T) {
		res := mustResolve(t, env310(t), pkgs, Options{}, "lib>=1.0")
		if got := flat(res); fmt.Sprint(got) != "[lib 1.0]" {
			t.Errorf("pins = %v, want yanked 2.0 skipped", got)
		}
	})

	t.Run("selected by exact pin with warning", func(t *testing.T) {
		res := mustResolve(t, env310(t), pkgs, Options{}, "lib==2.0")
		if got := flat(res); fmt.Sprint(got) != "[lib 2.0]" {
			t.Errorf("pins = %v, want lib 2.0", got)
		}
		if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "yanked") {
			t.Errorf("warnings = %v, want yanked warning", res.Warnings)
		}
	})
}

func TestResolveCycle(t *testing.T) {
	pkgs := map[string]map[string]stubPackage{
		"a": {"1.0": {requires: []string{"b"}}},
		"b": {"1.0": {requires: []string{"a"}}},
	}
	res := mustResolve(t, env310(t), pkgs, Options{}, "a")
	if got := flat(res); fmt.Sprint(got) != "[a 1.0 b 1.0]" {
		t.Errorf("pins = %v", got)
	}
}

func TestResolveStableUnderPermutation(t *testing.T) {
	pkgs := map[string]map[string]stubPackage{
		"a": {"1.0": {requires: []string{"c>=1,<2"}}},
		"b": {"1.0": {requires: []string{"c"}}},
		"c": {"1.5": {}, "2.0": {}},
	}
	first := mustResolve(t, env310(t), pkgs, Options{}, "a", "b")
	second := mustResolve(t, env310(t), pkgs, Options{}, "b", "a")
	if fmt.Sprint(flat(first)) != fmt.Sprint(flat(second)) {
		t.Errorf("assignments differ: %v vs %v", flat(first), flat(second))
	}
}

func TestResolveLowestStrategy(t *testing.T) {
	pkgs := map[string]map[string]stubPackage{
		"lib": {"1.0": {}, "1.5": {}, "2.0": {}},
	}
	res := mustResolve(t, env310(t), pkgs, Options{Lowest: true}, "lib>=1.0")
	if got := flat(res); fmt.Sprint(got) != "[lib 1.0]" {
		t.Errorf("pins = %v, want lowest", got)
	}
}

func TestResolveUnavailableMetadata(t *testing.T) {
	pkgs := map[string]map[string]stubPackage{
		"flaky": {
			"2.0": {unavailable: true},
			"1.0": {},
		},
	}

	t.Run("fails by default", func(t *testing.T) {
		_, err := resolveWith(env310(t), pkgs, Options{}, "flaky")
		if !errors.Is(err, metadata.ErrUnavailable) {
			t.Fatalf("err = %v, want ErrUnavailable", err)
		}
	})

	t.Run("skipped with ignore-errors", func(t *testing.T) {
		res := mustResolve(t, env310(t), pkgs, Options{IgnoreErrors: true}, "flaky")
		if got := flat(res); fmt.Sprint(got) != "[flaky 1.0]" {
			t.Errorf("pins = %v, want flaky 1.0", got)
		}
	})
}

func TestResolveMaxRounds(t *testing.T) {
	pkgs := map[string]map[string]stubPackage{
		"a": {"1.0": {requires: []string{"b"}}},
		"b": {"1.0": {}},
	}
	_, err := resolveWith(env310(t), pkgs, Options{MaxRounds: 1}, "a")
	var rounds *MaxRoundsError
	if !errors.As(err, &rounds) {
		t.Fatalf("err = %v, want MaxRoundsError", err)
	}
}

func TestResolveDiamondSharedDependency(t *testing.T) {
	// jinja2 and werkzeug both depend on markupsafe; one pin serves
	// both parents.
	pkgs := map[string]map[string]stubPackage{
		"app":        {"1.0": {requires: []string{"jinja2", "werkzeug"}}},
		"jinja2":     {"3.1.6": {requires: []string{"markupsafe>=2.0"}}},
		"werkzeug":   {"3.1.3": {requires: []string{"markupsafe>=2.1.1"}}},
		"markupsafe": {"3.0.2": {}, "2.0.0": {}},
	}
	res := mustResolve(t, env310(t), pkgs, Options{}, "app")
	want := "[app 1.0 jinja2 3.1.6 markupsafe 3.0.2 werkzeug 3.1.3]"
	if got := flat(res); fmt.Sprint(got) != want {
		t.Errorf("pins = %v, want %s", got, want)
	}
	count := 0
	for _, p := range res.Pins {
		if p.Name == "markupsafe" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("markupsafe pinned %d times, want 1", count)
	}
}
