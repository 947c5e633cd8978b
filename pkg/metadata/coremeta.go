package metadata

import (
	"bufio"
	"fmt"
	"io"
	"net/textproto"
	"strings"

	"github.com/matzehuels/wheelhouse/pkg/pep440"
	"github.com/matzehuels/wheelhouse/pkg/pep508"
)

// coreMetadata is the parsed form of a METADATA or PKG-INFO file as
// defined by the core metadata specification. Only the fields the
// resolver consumes are retained.
type coreMetadata struct {
	Name            string
	Version         string
	MetadataVersion string
	RequiresPython  string
	RequiresDist    []string
	ProvidesExtra   []string
	// Dynamic lists fields deferred to build time; a sdist declaring
	// Requires-Dist as dynamic carries no dependable requirement list.
	Dynamic []string
}

// parseCoreMetadata reads an RFC 822 style metadata file. The message
// body (the long description) is ignored.
func parseCoreMetadata(r io.Reader) (coreMetadata, error) {
	tp := textproto.NewReader(bufio.NewReader(r))
	hdr, err := tp.ReadMIMEHeader()
	// The description body follows the headers, so EOF here is fine.
	if err != nil && err != io.EOF {
		if len(hdr) == 0 {
			return coreMetadata{}, fmt.Errorf("parse metadata: %w", err)
		}
	}
	return coreMetadata{
		Name:            hdr.Get("Name"),
		Version:         hdr.Get("Version"),
		MetadataVersion: hdr.Get("Metadata-Version"),
		RequiresPython:  hdr.Get("Requires-Python"),
		RequiresDist:    hdr.Values("Requires-Dist"),
		ProvidesExtra:   hdr.Values("Provides-Extra"),
		Dynamic:         hdr.Values("Dynamic"),
	}, nil
}

// dependenciesDynamic reports whether the file defers its requirement
// list or its Python constraint to build time, which makes it useless
// for resolution.
func (m coreMetadata) dependenciesDynamic() bool {
	for _, d := range m.Dynamic {
		switch strings.ToLower(strings.TrimSpace(d)) {
		case "requires-dist", "requires-python":
			return true
		}
	}
	return false
}

// reliableDependencies reports whether Requires-Dist in a PKG-INFO can
// be trusted. Metadata 2.2 introduced the Dynamic field; earlier sdist
// metadata routinely omits requirements it actually has.
func (m coreMetadata) reliableDependencies() bool {
	if m.dependenciesDynamic() {
		return false
	}
	if len(m.RequiresDist) > 0 {
		return true
	}
	v, err := pep440.Parse(m.MetadataVersion)
	if err != nil {
		return false
	}
	return pep440.Compare(v, pep440.MustParse("2.2")) >= 0
}

// requirements parses the Requires-Dist lines into requirements
// attributed to origin. Lines that fail to parse are skipped and
// reported through warn.
func (m coreMetadata) requirements(origin pep508.Origin, warn func(format string, args ...any)) []pep508.Requirement {
	reqs := make([]pep508.Requirement, 0, len(m.RequiresDist))
	for _, line := range m.RequiresDist {
		r, err := pep508.Parse(line, origin)
		if err != nil {
			if warn != nil {
				warn("skipping requirement of %s: %v", origin, err)
			}
			continue
		}
		reqs = append(reqs, r)
	}
	return reqs
}

// extras normalizes the declared extra names.
func (m coreMetadata) extras() []string {
	out := make([]string, 0, len(m.ProvidesExtra))
	for _, e := range m.ProvidesExtra {
		if e = pep508.NormalizeName(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}
