package resolver

import (
	"fmt"
	"strings"

	"github.com/matzehuels/wheelhouse/pkg/pep440"
	"github.com/matzehuels/wheelhouse/pkg/pep508"
)

// NoVersionsFoundError reports that a required package has no version
// usable under the target environment at all.
type NoVersionsFoundError struct {
	Name string
	// Requirement is the requirement that first asked for the package.
	Requirement pep508.Requirement
}

func (e *NoVersionsFoundError) Error() string {
	return fmt.Sprintf("no versions found for %s (required by %s)", e.Name, e.Requirement.Origin)
}

// UnsupportedPythonError reports that every otherwise-acceptable
// version of a package declares a requires-python excluding the target
// interpreter.
type UnsupportedPythonError struct {
	Name          string
	PythonVersion pep440.Version
}

func (e *UnsupportedPythonError) Error() string {
	return fmt.Sprintf("every candidate of %s excludes python %s via requires-python", e.Name, e.PythonVersion)
}

// ResolutionImpossibleError reports a constraint conflict. Conflicts
// holds a minimal set of active requirements that cannot be satisfied
// together.
type ResolutionImpossibleError struct {
	Name      string
	Conflicts []pep508.Requirement
}

func (e *ResolutionImpossibleError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, r := range e.Conflicts {
		parts[i] = fmt.Sprintf("%s (from %s)", r, r.Origin)
	}
	return fmt.Sprintf("resolution impossible for %s: conflicting requirements: %s", e.Name, strings.Join(parts, "; "))
}

// MaxRoundsError reports that the search exceeded Options.MaxRounds
// candidate trials without converging.
type MaxRoundsError struct {
	Rounds int
}

func (e *MaxRoundsError) Error() string {
	return fmt.Sprintf("resolution not complete after %d rounds", e.Rounds)
}
