// Package manifest reads root requirements from the two input formats
// the CLI accepts: requirements.txt files and pyproject.toml project
// tables. Both produce [pep508.Requirement] values with the root
// origin; resolving them is the caller's business.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/wheelhouse/pkg/pep508"
)

// maxIncludeDepth bounds nested "-r" includes in requirements files.
const maxIncludeDepth = 16

// Detect picks a parser for path by filename convention: pyproject.toml
// parses as a project table, everything else as a requirements file.
func Detect(path string) func(string) ([]pep508.Requirement, error) {
	if filepath.Base(path) == "pyproject.toml" {
		return PyProject
	}
	return RequirementsFile
}

// RequirementsFile parses a pip requirements file: one requirement per
// line, "#" comments, backslash line continuations, and nested
// "-r other.txt" includes resolved relative to the including file.
// Option lines other than -r/--requirement are skipped, as are URL and
// editable requirements, which the resolver does not support.
func RequirementsFile(path string) ([]pep508.Requirement, error) {
	return parseRequirements(path, 0)
}

func parseRequirements(path string, depth int) ([]pep508.Requirement, error) {
	if depth > maxIncludeDepth {
		return nil, fmt.Errorf("%s: requirement includes nested deeper than %d", path, maxIncludeDepth)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reqs []pep508.Requirement
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		// Continuation lines end in a backslash.
		for strings.HasSuffix(strings.TrimRight(line, " \t"), "\\") && scanner.Scan() {
			line = strings.TrimRight(strings.TrimRight(line, " \t"), "\\") + " " + scanner.Text()
		}
		line = stripComment(line)
		if line == "" {
			continue
		}

		if included, ok := includePath(line); ok {
			nested, err := parseRequirements(filepath.Join(filepath.Dir(path), included), depth+1)
			if err != nil {
				return nil, err
			}
			reqs = append(reqs, nested...)
			continue
		}
		if strings.HasPrefix(line, "-") {
			continue // pip option, not a requirement
		}
		if strings.Contains(line, "://") || strings.HasPrefix(line, "git+") {
			continue
		}

		r, err := pep508.Parse(line, pep508.RootOrigin)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		reqs = append(reqs, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return reqs, nil
}

// stripComment removes a "#" comment and surrounding whitespace. A "#"
// must start the line or follow whitespace to count as a comment, so
// URL fragments survive (they are filtered later anyway).
func stripComment(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] == '#' && (i == 0 || line[i-1] == ' ' || line[i-1] == '\t') {
			line = line[:i]
			break
		}
	}
	return strings.TrimSpace(line)
}

func includePath(line string) (string, bool) {
	for _, prefix := range []string{"-r ", "--requirement "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
		}
	}
	if rest, ok := strings.CutPrefix(line, "--requirement="); ok {
		return strings.TrimSpace(rest), true
	}
	return "", false
}

// PyProject parses the [project] dependencies of a pyproject.toml.
// Optional-dependencies groups are not included ([PyProjectExtras]
// adds them).
func PyProject(path string) ([]pep508.Requirement, error) {
	return PyProjectExtras(path, nil)
}

// PyProjectExtras is [PyProject] with optional-dependencies groups
// included for each named extra.
func PyProjectExtras(path string, extras []string) ([]pep508.Requirement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var project struct {
		Project struct {
			Name                 string              `toml:"name"`
			Dependencies         []string            `toml:"dependencies"`
			OptionalDependencies map[string][]string `toml:"optional-dependencies"`
		} `toml:"project"`
	}
	if err := toml.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	lines := append([]string(nil), project.Project.Dependencies...)
	for _, extra := range extras {
		group, ok := project.Project.OptionalDependencies[extra]
		if !ok {
			return nil, fmt.Errorf("%s: no optional-dependencies group %q", path, extra)
		}
		lines = append(lines, group...)
	}

	reqs := make([]pep508.Requirement, 0, len(lines))
	for _, line := range lines {
		r, err := pep508.Parse(line, pep508.RootOrigin)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// Specifiers parses command-line requirement strings into root
// requirements.
func Specifiers(specs []string) ([]pep508.Requirement, error) {
	reqs := make([]pep508.Requirement, 0, len(specs))
	for _, s := range specs {
		r, err := pep508.Parse(s, pep508.RootOrigin)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}
