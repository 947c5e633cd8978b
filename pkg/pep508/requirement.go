// Package pep508 implements parsing of Python dependency specifications
// ("requirements") as defined by PEP 508: a package name, an optional
// extras list, an optional version specifier, and an optional environment
// marker, e.g.
//
//	requests[socks,security]>=2.20,<3; python_version >= "3.6"
//
// Requirements are immutable after creation and carry the origin they
// were declared by, either a parent package pin or the resolution root.
package pep508

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/matzehuels/wheelhouse/pkg/markers"
	"github.com/matzehuels/wheelhouse/pkg/pep440"
)

// Origin identifies where a requirement was declared.
type Origin struct {
	// Name and Version identify the parent pin; both are zero for a
	// root requirement supplied by the caller.
	Name    string
	Version pep440.Version
	Root    bool
}

// RootOrigin is the origin of user-supplied requirements.
var RootOrigin = Origin{Root: true}

func (o Origin) String() string {
	if o.Root {
		return "root"
	}
	return o.Name + " " + o.Version.String()
}

// Requirement is a single parsed dependency specification. The zero
// value is not valid; use [Parse].
type Requirement struct {
	// Name is the PEP 503 normalized package name.
	Name string
	// Extras are the requested extras, normalized and sorted.
	Extras []string
	// Specifier is the version constraint; empty matches everything.
	Specifier pep440.Specifier
	// Marker gates the requirement on the environment; nil when absent.
	Marker markers.Marker
	// Origin is the declaring parent, or [RootOrigin].
	Origin Origin

	raw string
}

var nameRE = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?$`)

// NormalizeName case-folds a package name per PEP 503: lowercase with
// runs of ".", "-", and "_" collapsed to a single "-".
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	run := false
	for _, r := range name {
		if r == '-' || r == '_' || r == '.' {
			run = true
			continue
		}
		if run && b.Len() > 0 {
			b.WriteByte('-')
		}
		run = false
		b.WriteRune(r)
	}
	return b.String()
}

// Parse parses a PEP 508 requirement line with the given origin. URL
// requirements ("name @ https://...") are not supported and return an
// error.
func Parse(line string, origin Origin) (Requirement, error) {
	raw := strings.TrimSpace(line)
	rest := raw

	// Split off the marker first; specifiers never contain ";".
	var marker markers.Marker
	if i := strings.IndexByte(rest, ';'); i >= 0 {
		m, err := markers.Parse(strings.TrimSpace(rest[i+1:]))
		if err != nil {
			return Requirement{}, invalidf(raw, "%v", err)
		}
		marker = m
		rest = strings.TrimSpace(rest[:i])
	}

	if strings.Contains(rest, "@") {
		return Requirement{}, invalidf(raw, "URL requirements are not supported")
	}

	// Name runs up to the first "[", specifier operator, or space.
	nameEnd := len(rest)
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case '[', '<', '>', '=', '!', '~', '(', ' ', '\t':
			nameEnd = i
		}
		if nameEnd == i {
			break
		}
	}
	name := rest[:nameEnd]
	if name == "" || !nameRE.MatchString(name) {
		return Requirement{}, invalidf(raw, "invalid package name %q", name)
	}
	rest = strings.TrimSpace(rest[nameEnd:])

	var extras []string
	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return Requirement{}, invalidf(raw, "unterminated extras list")
		}
		for _, e := range strings.Split(rest[1:end], ",") {
			e = NormalizeName(e)
			if e == "" {
				continue
			}
			extras = append(extras, e)
		}
		sort.Strings(extras)
		extras = dedup(extras)
		rest = strings.TrimSpace(rest[end+1:])
	}

	// Parenthesized specifiers are legacy but still seen in the wild.
	if strings.HasPrefix(rest, "(") && strings.HasSuffix(rest, ")") {
		rest = strings.TrimSpace(rest[1 : len(rest)-1])
	}
	spec, err := pep440.ParseSpecifier(rest)
	if err != nil {
		return Requirement{}, invalidf(raw, "%v", err)
	}

	return Requirement{
		Name:      NormalizeName(name),
		Extras:    extras,
		Specifier: spec,
		Marker:    marker,
		Origin:    origin,
		raw:       raw,
	}, nil
}

// MustParse is like [Parse] with [RootOrigin], panicking on error.
// Intended for tests.
func MustParse(line string) Requirement {
	r, err := Parse(line, RootOrigin)
	if err != nil {
		panic(err)
	}
	return r
}

// ErrInvalid tags malformed requirement syntax. Use errors.Is to detect
// it.
var ErrInvalid = fmt.Errorf("invalid requirement")

func invalidf(raw, format string, args ...any) error {
	return fmt.Errorf("%w %q: %s", ErrInvalid, raw, fmt.Sprintf(format, args...))
}

// String returns the requirement as originally written, or a canonical
// rendering for requirements built programmatically.
func (r Requirement) String() string {
	if r.raw != "" {
		return r.raw
	}
	var b strings.Builder
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		b.WriteString("[" + strings.Join(r.Extras, ",") + "]")
	}
	b.WriteString(r.Specifier.String())
	return b.String()
}

func dedup(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}
