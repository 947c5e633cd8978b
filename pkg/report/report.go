// Package report shapes a resolver assignment into its output forms: a
// flat list of pinned packages, a nested dependency tree following the
// requirement origin edges, and the JSON document combining either with
// run headers. Packages are identified by Package-URL strings of the
// form "pkg:pypi/<name>@<version>".
package report

import (
	"fmt"
	"sort"

	"github.com/matzehuels/wheelhouse/pkg/buildinfo"
	"github.com/matzehuels/wheelhouse/pkg/pep440"
	"github.com/matzehuels/wheelhouse/pkg/resolver"
)

// Homepage is the project URL recorded in document headers.
const Homepage = "https://github.com/matzehuels/wheelhouse"

// notice accompanies every generated document.
const notice = "Dependency tree generated with wheelhouse.\n" +
	"wheelhouse resolves Python package dependencies without installing them.\n" +
	"Visit " + Homepage + " for support."

// PURL renders the Package-URL of a pinned package.
func PURL(name string, v pep440.Version) string {
	return fmt.Sprintf("pkg:pypi/%s@%s", name, v)
}

// Headers records how a document was produced.
type Headers struct {
	ToolName    string   `json:"tool_name"`
	ToolHomeURL string   `json:"tool_homepageurl"`
	ToolVersion string   `json:"tool_version"`
	Options     []string `json:"options"`
	Notice      string   `json:"notice"`
	Warnings    []string `json:"warnings"`
	Errors      []string `json:"errors"`
}

// Package is one resolved package in the flat "packages" list.
type Package struct {
	PURL    string `json:"package"`
	Name    string `json:"name"`
	Version string `json:"version"`
	// Dependencies are the purls of the package's direct dependencies,
	// sorted.
	Dependencies []string `json:"dependencies"`
}

// TreeNode is one site in the nested resolution tree. A package
// reachable through several parents appears once under each of them.
type TreeNode struct {
	Package      string      `json:"package"`
	Dependencies []*TreeNode `json:"dependencies"`
}

// Document is the JSON output shape. Exactly one of Resolution and
// Graph is populated, depending on the requested form.
type Document struct {
	Headers  Headers   `json:"headers"`
	Packages []Package `json:"packages"`
	// Resolution is the nested tree form.
	Resolution []*TreeNode `json:"resolution,omitempty"`
	// Graph is the flat parent/children adjacency form, topologically
	// ordered with parents before children, ties alphabetical.
	Graph []Package `json:"resolved_dependencies_graph,omitempty"`
}

// New assembles a document from a resolution result. options echoes the
// caller's effective settings into the headers; asTree selects the
// nested form over the flat graph.
func New(res *resolver.Result, options []string, asTree bool) *Document {
	doc := &Document{
		Headers: Headers{
			ToolName:    "wheelhouse",
			ToolHomeURL: Homepage,
			ToolVersion: buildinfo.Version,
			Options:     options,
			Notice:      notice,
			Warnings:    warnings(res),
			Errors:      []string{},
		},
		Packages: Flat(res),
	}
	if asTree {
		doc.Resolution = Tree(res)
	} else {
		doc.Graph = Graph(res)
	}
	return doc
}

func warnings(res *resolver.Result) []string {
	if len(res.Warnings) == 0 {
		return []string{}
	}
	return append([]string(nil), res.Warnings...)
}

// Flat lists the distinct pinned packages in pin order, each with its
// sorted direct-dependency purls.
func Flat(res *resolver.Result) []Package {
	out := make([]Package, len(res.Pins))
	for i, p := range res.Pins {
		out[i] = Package{
			PURL:         PURL(p.Name, p.Version),
			Name:         p.Name,
			Version:      p.Version.String(),
			Dependencies: childPURLs(res, p),
		}
	}
	return out
}

// childPURLs returns the sorted, deduplicated purls of a pin's direct
// dependencies.
func childPURLs(res *resolver.Result, p resolver.Pin) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, name := range childNames(p) {
		child, ok := res.Pin(name)
		if !ok {
			continue
		}
		purl := PURL(child.Name, child.Version)
		if !seen[purl] {
			seen[purl] = true
			out = append(out, purl)
		}
	}
	sort.Strings(out)
	return out
}

// childNames returns the distinct names a pin's requirements point at,
// sorted. A self-reference (extras on the package itself) is not a
// child.
func childNames(p resolver.Pin) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range p.Requirements {
		if r.Name == p.Name || seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// Tree walks the origin edges from each root requirement. Shared
// children are duplicated at each site; a cycle is broken at its second
// visit on the current path.
func Tree(res *resolver.Result) []*TreeNode {
	var roots []*TreeNode
	for _, req := range res.Roots {
		pin, ok := res.Pin(req.Name)
		if !ok {
			continue
		}
		path := map[string]bool{}
		roots = append(roots, treeNode(res, pin, path))
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Package < roots[j].Package })
	return roots
}

func treeNode(res *resolver.Result, pin resolver.Pin, path map[string]bool) *TreeNode {
	node := &TreeNode{Package: PURL(pin.Name, pin.Version), Dependencies: []*TreeNode{}}
	path[pin.Name] = true
	defer delete(path, pin.Name)

	for _, name := range childNames(pin) {
		if path[name] {
			continue // already on this branch, satisfied by the existing pin
		}
		child, ok := res.Pin(name)
		if !ok {
			continue
		}
		node.Dependencies = append(node.Dependencies, treeNode(res, child, path))
	}
	sort.Slice(node.Dependencies, func(i, j int) bool {
		return node.Dependencies[i].Package < node.Dependencies[j].Package
	})
	return node
}

// Graph lists every pinned package in topological order, parents before
// children, alphabetical among the unordered.
func Graph(res *resolver.Result) []Package {
	byName := make(map[string]Package, len(res.Pins))
	children := make(map[string][]string, len(res.Pins))
	indegree := make(map[string]int, len(res.Pins))
	for _, p := range res.Pins {
		byName[p.Name] = Package{
			PURL:         PURL(p.Name, p.Version),
			Name:         p.Name,
			Version:      p.Version.String(),
			Dependencies: childPURLs(res, p),
		}
		indegree[p.Name] += 0
		for _, child := range childNames(p) {
			if _, ok := res.Pin(child); !ok {
				continue
			}
			children[p.Name] = append(children[p.Name], child)
			indegree[child]++
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	out := make([]Package, 0, len(byName))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		out = append(out, byName[name])
		delete(byName, name)
		released := false
		for _, child := range children[name] {
			if indegree[child]--; indegree[child] == 0 {
				ready = append(ready, child)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	// Anything left sits on a cycle; emit it alphabetically.
	if len(byName) > 0 {
		var rest []string
		for name := range byName {
			rest = append(rest, name)
		}
		sort.Strings(rest)
		for _, name := range rest {
			out = append(out, byName[name])
		}
	}
	return out
}
