package resolver

import (
	"context"

	"github.com/matzehuels/wheelhouse/pkg/metadata"
	"github.com/matzehuels/wheelhouse/pkg/pep440"
	"github.com/matzehuels/wheelhouse/pkg/pep508"
)

// criterion is the per-name search state: every active requirement on
// the name and the ordered versions that satisfy all of them.
type criterion struct {
	name  string
	order int // insertion order, the selection tie-break
	// requirements grows by append on expansion and shrinks only by
	// snapshot restore on backtrack.
	requirements []pep508.Requirement
	extras       map[string]bool
	// candidates is kept in preference order and consistent with
	// requirements, the admission rules, and the current bad marks.
	candidates []pep440.Version
}

func (c *criterion) clone() *criterion {
	dup := &criterion{
		name:         c.name,
		order:        c.order,
		requirements: append([]pep508.Requirement(nil), c.requirements...),
		candidates:   append([]pep440.Version(nil), c.candidates...),
		extras:       make(map[string]bool, len(c.extras)),
	}
	for e := range c.extras {
		dup.extras[e] = true
	}
	return dup
}

// decision is one trail entry: the pin it made and the state needed to
// take it back in a single step.
type decision struct {
	pin *Pin
	// saved holds each touched criterion as it was before this
	// decision; a nil value records that the criterion did not exist.
	saved map[string]*criterion
	// savedPins records extras and requirement count of pins that were
	// re-expanded under this decision.
	savedPins map[string]pinSnapshot
}

type pinSnapshot struct {
	extras       []string
	requirements int
}

func (d *decision) snapshotPin(p *Pin) {
	if _, ok := d.savedPins[p.Name]; !ok {
		d.savedPins[p.Name] = pinSnapshot{extras: p.Extras, requirements: len(p.Requirements)}
	}
}

func (d *decision) snapshotCriterion(s *solver, name string) {
	if _, ok := d.saved[name]; ok {
		return
	}
	if c := s.criteria[name]; c != nil {
		d.saved[name] = c.clone()
	} else {
		d.saved[name] = nil
	}
}

// permanentMark flags a version as bad for the rest of the run
// (unobtainable metadata; requires-python mismatches are kept in
// solver.pythonBad instead). Conflict-driven
// marks instead carry the trail depth they were made at and dissolve
// when the search unwinds past it.
const permanentMark = -1

type badMark struct {
	level   int
	name    string
	version string
}

// solver is the mutable state of one Resolve call.
type solver struct {
	ctx context.Context
	r   *Resolver

	criteria map[string]*criterion
	orderSeq int

	pins   []*Pin
	pinned map[string]*Pin
	trail  []*decision

	marks     []badMark
	pythonBad map[string]map[string]bool

	// versions caches the provider's candidate list per name for the
	// run; iteration order over versions is always version order.
	versions map[string][]metadata.Candidate

	// lastConflict remembers the deepest criterion whose constraint
	// set alone became unsatisfiable, for the terminal error report.
	lastConflict *conflictRecord

	warnings []string
	rounds   int
}

type conflictRecord struct {
	name         string
	requirements []pep508.Requirement
}

// recordConflict notes that the constraints on c, by themselves, admit
// no version.
func (s *solver) recordConflict(c *criterion) {
	s.lastConflict = &conflictRecord{
		name:         c.name,
		requirements: append([]pep508.Requirement(nil), c.requirements...),
	}
}

// addRequirement folds req into its criterion, creating it (and
// loading the version list) on first sight.
func (s *solver) addRequirement(req pep508.Requirement) error {
	c := s.criteria[req.Name]
	if c == nil {
		if err := s.loadVersions(req.Name); err != nil {
			return err
		}
		c = &criterion{name: req.Name, order: s.orderSeq, extras: make(map[string]bool)}
		s.orderSeq++
		s.criteria[req.Name] = c
	}
	c.requirements = append(c.requirements, req)
	for _, e := range req.Extras {
		c.extras[e] = true
	}
	s.recompute(c)
	return nil
}

func (s *solver) loadVersions(name string) error {
	if _, ok := s.versions[name]; ok {
		return nil
	}
	vs, err := s.r.provider.Versions(s.ctx, name)
	if err != nil {
		if s.ctx.Err() == nil && s.r.opts.IgnoreErrors {
			s.r.opts.Logger("listing %s: %v", name, err)
			vs = nil
		} else {
			return err
		}
	}
	s.versions[name] = vs
	return nil
}

// candidate returns the provider candidate entry of an exact version.
func (s *solver) candidate(name string, v pep440.Version) (metadata.Candidate, bool) {
	for _, c := range s.versions[name] {
		if c.Version.Equal(v) {
			return c, true
		}
	}
	return metadata.Candidate{}, false
}

// computeFor applies the pure admission rules, specifier conjunction,
// pre-release policy, and yank policy, to the provider's version list.
// Bad marks are deliberately not applied; recompute layers them on.
func (s *solver) computeFor(name string, reqs []pep508.Requirement) []pep440.Version {
	all := s.versions[name]
	allowPre := s.r.opts.AllowPrereleases
	for _, r := range reqs {
		if r.Specifier.HasPrerelease() {
			allowPre = true
		}
	}
	exactlyPinned := func(v pep440.Version) bool {
		for _, r := range reqs {
			if r.Specifier.PinsExactly(v) {
				return true
			}
		}
		return false
	}

	var finals, pres []pep440.Version
	for _, c := range all {
		ok := true
		for _, r := range reqs {
			if !r.Specifier.Contains(c.Version) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if c.Yanked && !exactlyPinned(c.Version) {
			continue
		}
		if c.Version.IsPrerelease() {
			pres = append(pres, c.Version)
		} else {
			finals = append(finals, c.Version)
		}
	}

	// Stable versions are preferred; pre-releases are admitted when a
	// specifier opts in, the run allows them, or nothing else exists.
	switch {
	case allowPre || len(finals) == 0:
		return append(finals, pres...)
	default:
		return finals
	}
}

// recompute rebuilds a criterion's candidate list from the invariant:
// provider versions, satisfying every requirement, passing admission,
// minus marked-bad versions, in preference order.
func (s *solver) recompute(c *criterion) {
	pure := s.computeFor(c.name, c.requirements)
	candidates := pure[:0:0]
	for _, v := range pure {
		if s.isBad(c.name, v) {
			continue
		}
		candidates = append(candidates, v)
	}
	if s.r.opts.Lowest {
		for i, j := 0, len(candidates)-1; i < j; i, j = i+1, j-1 {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		}
	}
	c.candidates = candidates
}

func (s *solver) isBad(name string, v pep440.Version) bool {
	key := v.String()
	if s.pythonBad[name][key] {
		return true
	}
	for _, m := range s.marks {
		if m.name == name && m.version == key {
			return true
		}
	}
	return false
}

func (s *solver) markBad(name string, v pep440.Version, level int) {
	s.marks = append(s.marks, badMark{level: level, name: name, version: v.String()})
}

func (s *solver) markPythonBad(name string, v pep440.Version) {
	if s.pythonBad == nil {
		s.pythonBad = make(map[string]map[string]bool)
	}
	if s.pythonBad[name] == nil {
		s.pythonBad[name] = make(map[string]bool)
	}
	s.pythonBad[name][v.String()] = true
}

// dropMarks discards conflict marks made deeper than depth; permanent
// marks survive every unwind.
func (s *solver) dropMarks(depth int) {
	kept := s.marks[:0]
	for _, m := range s.marks {
		if m.level == permanentMark || m.level <= depth {
			kept = append(kept, m)
		}
	}
	s.marks = kept
}

// onlyPythonRejected reports whether every version that satisfies the
// criterion's constraints was rejected by its requires-python.
func (s *solver) onlyPythonRejected(c *criterion) bool {
	pure := s.computeFor(c.name, c.requirements)
	if len(pure) == 0 {
		return false
	}
	for _, v := range pure {
		if !s.pythonBad[c.name][v.String()] {
			return false
		}
	}
	return true
}

func versionIn(list []pep440.Version, v pep440.Version) bool {
	for _, x := range list {
		if x.Equal(v) {
			return true
		}
	}
	return false
}
