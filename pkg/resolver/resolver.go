// Package resolver turns a set of root requirements into a pinned,
// mutually consistent assignment of package versions by backtracking
// search.
//
// The search keeps one criterion per package name: the active
// requirements on that name and the descending list of versions that
// satisfy all of them. Each round pins the criterion with the smallest
// candidate set to its preferred version, expands that version's
// requirements into the other criteria, and backtracks when a criterion
// runs out of candidates. The resolver itself is single-threaded and
// deterministic; all I/O happens behind the [Provider] contract.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/matzehuels/wheelhouse/pkg/environment"
	"github.com/matzehuels/wheelhouse/pkg/markers"
	"github.com/matzehuels/wheelhouse/pkg/metadata"
	"github.com/matzehuels/wheelhouse/pkg/observability"
	"github.com/matzehuels/wheelhouse/pkg/pep440"
	"github.com/matzehuels/wheelhouse/pkg/pep508"
)

// DefaultMaxRounds bounds the number of candidate trials before the
// search gives up.
const DefaultMaxRounds = 200000

// Provider supplies the resolver's view of the package world. The
// canonical implementation is [metadata.Provider].
type Provider interface {
	// Versions lists the candidates of a package in descending version
	// order, restricted to versions usable under the environment.
	Versions(ctx context.Context, name string) ([]metadata.Candidate, error)

	// RequirementsFor returns the Python constraint and the direct
	// requirements of {name, version} with the given extras active.
	RequirementsFor(ctx context.Context, name string, version pep440.Version, extras []string) (pep440.Specifier, []pep508.Requirement, error)
}

// Options configures a resolution run.
type Options struct {
	// AllowPrereleases admits pre-release versions everywhere, not just
	// where a specifier opts in.
	AllowPrereleases bool
	// IgnoreErrors skips candidates whose metadata cannot be obtained
	// instead of failing the resolution.
	IgnoreErrors bool
	// MaxRounds bounds candidate trials; 0 means [DefaultMaxRounds].
	MaxRounds int
	// Lowest picks the lowest acceptable version instead of the
	// highest.
	Lowest bool
	// Logger receives progress and skip warnings; nil discards them.
	Logger func(format string, args ...any)
}

func (o Options) withDefaults() Options {
	if o.MaxRounds <= 0 {
		o.MaxRounds = DefaultMaxRounds
	}
	if o.Logger == nil {
		o.Logger = func(string, ...any) {}
	}
	return o
}

// Pin is one resolved {name, version} binding.
type Pin struct {
	Name    string
	Version pep440.Version
	// Extras are the extras active on the pin, sorted.
	Extras []string
	// Requirements are the direct requirements the pinned version
	// declares under the environment, including extras-activated ones.
	// Their origin is this pin.
	Requirements []pep508.Requirement
	Yanked       bool
	YankedReason string
}

// Result is a complete assignment.
type Result struct {
	// Roots are the input requirements whose markers held under the
	// environment, in input order.
	Roots []pep508.Requirement
	// Pins lists the assignment in pin order.
	Pins []Pin
	// Warnings carries non-fatal notes such as a yanked version
	// selected by exact pin.
	Warnings []string
}

// Pin returns the pin of a normalized package name.
func (r *Result) Pin(name string) (Pin, bool) {
	for _, p := range r.Pins {
		if p.Name == name {
			return p, true
		}
	}
	return Pin{}, false
}

// Resolver drives the search. Construct with [New]; one Resolver may
// run any number of sequential resolutions.
type Resolver struct {
	provider Provider
	env      *environment.Environment
	opts     Options
}

// New creates a Resolver over provider for the target environment.
func New(provider Provider, env *environment.Environment, opts Options) *Resolver {
	return &Resolver{provider: provider, env: env, opts: opts.withDefaults()}
}

// Resolve computes an assignment satisfying roots, or an error
// describing why none exists: [*NoVersionsFoundError],
// [*UnsupportedPythonError], [*ResolutionImpossibleError],
// [*MaxRoundsError], or a metadata error when a candidate's metadata
// cannot be obtained and Options.IgnoreErrors is unset.
func (r *Resolver) Resolve(ctx context.Context, roots []pep508.Requirement) (*Result, error) {
	s := &solver{
		ctx:      ctx,
		r:        r,
		criteria: make(map[string]*criterion),
		pinned:   make(map[string]*Pin),
		versions: make(map[string][]metadata.Candidate),
	}

	var active []pep508.Requirement
	for _, req := range roots {
		if req.Marker != nil && !req.Marker.Eval(r.env, markers.NoExtra) {
			continue
		}
		active = append(active, req)
	}

	// Version lists for the roots are needed immediately; let a
	// prefetch-capable provider fill them concurrently.
	if w, ok := r.provider.(interface{ Warm(context.Context, []string) }); ok {
		names := make([]string, len(active))
		for i, req := range active {
			names[i] = req.Name
		}
		w.Warm(ctx, names)
	}

	for _, req := range active {
		if err := s.addRequirement(req); err != nil {
			return nil, err
		}
	}

	if err := s.run(); err != nil {
		return nil, err
	}

	result := &Result{Roots: active, Warnings: s.warnings}
	result.Pins = make([]Pin, len(s.pins))
	for i, p := range s.pins {
		result.Pins[i] = *p
	}
	return result, nil
}

// run is the main search loop.
func (s *solver) run() error {
	for {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		c := s.selectCriterion()
		if c == nil {
			return nil // every active criterion is pinned
		}
		if len(c.candidates) == 0 {
			if !s.backtrack(c.name) {
				return s.terminalError(c)
			}
			continue
		}
		if err := s.attempt(c); err != nil {
			return err
		}
	}
}

// selectCriterion picks the unpinned criterion with active requirements
// and the smallest candidate set, ties broken by insertion order. An
// empty candidate set sorts first so failures surface immediately.
func (s *solver) selectCriterion() *criterion {
	var best *criterion
	for _, c := range s.criteria {
		if len(c.requirements) == 0 || s.pinned[c.name] != nil {
			continue
		}
		if best == nil || len(c.candidates) < len(best.candidates) ||
			(len(c.candidates) == len(best.candidates) && c.order < best.order) {
			best = c
		}
	}
	return best
}

// attempt tries to pin the best candidate of c, expanding its
// requirements. A candidate-local failure marks the version bad and
// returns nil so the loop retries; only unrecoverable errors propagate.
func (s *solver) attempt(c *criterion) error {
	s.rounds++
	if s.rounds > s.r.opts.MaxRounds {
		return &MaxRoundsError{Rounds: s.r.opts.MaxRounds}
	}

	version := c.candidates[0]
	extras := sortedKeys(c.extras)

	requiresPython, children, err := s.r.provider.RequirementsFor(s.ctx, c.name, version, extras)
	if err != nil {
		if s.ctx.Err() != nil {
			return err
		}
		if errors.Is(err, metadata.ErrUnavailable) || errors.Is(err, metadata.ErrNoVersions) {
			if !s.r.opts.IgnoreErrors {
				return err
			}
			s.r.opts.Logger("skipping %s %s: %v", c.name, version, err)
			s.markBad(c.name, version, permanentMark)
			s.recompute(c)
			return nil
		}
		return err
	}

	if !requiresPython.Empty() && !requiresPython.Contains(s.r.env.PythonVersion) {
		s.r.opts.Logger("skipping %s %s: requires-python %s excludes %s",
			c.name, version, requiresPython, s.r.env.PythonVersion)
		s.markPythonBad(c.name, version)
		s.recompute(c)
		return nil
	}

	pin := &Pin{Name: c.name, Version: version, Extras: extras}
	if cand, ok := s.candidate(c.name, version); ok && cand.Yanked {
		pin.Yanked = true
		pin.YankedReason = cand.YankedReason
		s.warnings = append(s.warnings, yankedWarning(c.name, version, cand.YankedReason))
	}

	d := &decision{pin: pin, saved: make(map[string]*criterion), savedPins: make(map[string]pinSnapshot)}
	s.pins = append(s.pins, pin)
	s.pinned[c.name] = pin
	s.trail = append(s.trail, d)

	if ok, err := s.expand(d, pin, children); err != nil {
		return err
	} else if !ok {
		// A child criterion emptied: undo the pin and try the next
		// version of the same criterion. The undo may have swapped the
		// criterion for its snapshot, so re-fetch it.
		s.undo()
		s.markBad(c.name, version, len(s.trail))
		s.recompute(s.criteria[c.name])
		return nil
	}

	observability.Resolver().OnPin(c.name, version.String(), len(s.pins))
	return nil
}

// expand folds child requirements into the criteria, recursively
// re-expanding pinned packages whose extras grew. Returns ok=false when
// a criterion empties or an existing pin is contradicted.
func (s *solver) expand(d *decision, pin *Pin, children []pep508.Requirement) (bool, error) {
	queue := children
	for len(queue) > 0 {
		req := queue[0]
		queue = queue[1:]

		parent := s.pinned[req.Origin.Name]
		if parent != nil {
			d.snapshotPin(parent)
			parent.Requirements = append(parent.Requirements, req)
		}

		d.snapshotCriterion(s, req.Name)
		if existing := s.pinned[req.Name]; existing != nil {
			ok, grown, err := s.absorb(d, existing, req)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
			queue = append(queue, grown...)
			continue
		}
		if err := s.addRequirement(req); err != nil {
			return false, err
		}
		if c := s.criteria[req.Name]; len(c.candidates) == 0 {
			if len(s.computeFor(c.name, c.requirements)) == 0 {
				s.recordConflict(c)
			}
			return false, nil
		}
	}
	return true, nil
}

// absorb records a requirement on an already pinned package: the pin
// must satisfy it, and extras it introduces trigger a re-expansion of
// the pin's children. grown returns the additional requirements.
func (s *solver) absorb(d *decision, pin *Pin, req pep508.Requirement) (ok bool, grown []pep508.Requirement, err error) {
	c := s.criteria[req.Name]
	c.requirements = append(c.requirements, req)
	s.recompute(c)
	if !versionIn(c.candidates, pin.Version) {
		if len(s.computeFor(c.name, c.requirements)) == 0 {
			s.recordConflict(c)
		}
		return false, nil, nil
	}

	var fresh []string
	for _, e := range req.Extras {
		if !c.extras[e] {
			c.extras[e] = true
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return true, nil, nil
	}

	d.snapshotPin(pin)
	union := sortedKeys(c.extras)
	_, all, err := s.r.provider.RequirementsFor(s.ctx, pin.Name, pin.Version, union)
	if err != nil {
		if s.ctx.Err() != nil || !s.r.opts.IgnoreErrors {
			return false, nil, err
		}
		s.r.opts.Logger("re-expanding %s %s: %v", pin.Name, pin.Version, err)
		return true, nil, nil
	}
	known := make(map[string]bool, len(pin.Requirements))
	for _, r := range pin.Requirements {
		known[r.Name+"\x00"+r.String()] = true
	}
	for _, r := range all {
		if !known[r.Name+"\x00"+r.String()] {
			grown = append(grown, r)
		}
	}
	pin.Extras = union
	return true, grown, nil
}

// backtrack unwinds decisions newest-first until removing one restores
// a candidate for failing (or removes its requirements entirely). Each
// removed pin's version is marked bad under the restored criteria.
// Returns false when the trail is exhausted.
func (s *solver) backtrack(failing string) bool {
	observability.Resolver().OnBacktrack(failing, len(s.trail))
	for len(s.trail) > 0 {
		d := s.undo()
		s.markBad(d.pin.Name, d.pin.Version, len(s.trail))
		if c := s.criteria[d.pin.Name]; c != nil {
			s.recompute(c)
		}
		fc := s.criteria[failing]
		if fc == nil || len(fc.requirements) == 0 {
			return true
		}
		s.recompute(fc)
		if len(fc.candidates) > 0 {
			return true
		}
	}
	return false
}

// undo reverses the newest decision: restores criterion and pin
// snapshots, unpins, and drops marks made below the restored depth.
func (s *solver) undo() *decision {
	d := s.trail[len(s.trail)-1]
	s.trail = s.trail[:len(s.trail)-1]

	for name, snap := range d.saved {
		if snap == nil {
			delete(s.criteria, name)
		} else {
			s.criteria[name] = snap
		}
	}
	for name, snap := range d.savedPins {
		p := s.pinned[name]
		p.Extras = snap.extras
		p.Requirements = p.Requirements[:snap.requirements]
	}
	s.pins = s.pins[:len(s.pins)-1]
	delete(s.pinned, d.pin.Name)
	s.dropMarks(len(s.trail))
	return d
}

// terminalError classifies an empty criterion once no backtracking
// remains.
func (s *solver) terminalError(c *criterion) error {
	if len(s.versions[c.name]) == 0 {
		return &NoVersionsFoundError{Name: c.name, Requirement: c.requirements[0]}
	}
	if s.onlyPythonRejected(c) {
		return &UnsupportedPythonError{Name: c.name, PythonVersion: s.r.env.PythonVersion}
	}
	// When the terminal criterion's own constraints are satisfiable,
	// the real contradiction was observed deeper in the search.
	if len(s.computeFor(c.name, c.requirements)) == 0 {
		return &ResolutionImpossibleError{Name: c.name, Conflicts: s.conflictSet(c.name, c.requirements)}
	}
	if s.lastConflict != nil {
		return &ResolutionImpossibleError{
			Name:      s.lastConflict.name,
			Conflicts: s.conflictSet(s.lastConflict.name, s.lastConflict.requirements),
		}
	}
	return &ResolutionImpossibleError{Name: c.name, Conflicts: append([]pep508.Requirement(nil), c.requirements...)}
}

// conflictSet minimizes a set of requirements to a subset that still
// yields an empty candidate set.
func (s *solver) conflictSet(name string, reqs []pep508.Requirement) []pep508.Requirement {
	minimal := append([]pep508.Requirement(nil), reqs...)
	for i := len(minimal) - 1; i >= 0 && len(minimal) > 1; i-- {
		trial := append(append([]pep508.Requirement(nil), minimal[:i]...), minimal[i+1:]...)
		if len(s.computeFor(name, trial)) == 0 {
			minimal = trial
		}
	}
	return minimal
}

func yankedWarning(name string, v pep440.Version, reason string) string {
	w := fmt.Sprintf("%s %s was yanked but is selected by an exact pin", name, v)
	if reason != "" {
		w += ": " + reason
	}
	return w
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
