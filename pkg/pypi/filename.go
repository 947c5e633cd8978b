package pypi

import (
	"fmt"
	"strings"

	"github.com/matzehuels/wheelhouse/pkg/pep440"
	"github.com/matzehuels/wheelhouse/pkg/pep508"
)

// Tag is a PEP 425 compatibility tag triple identifying which
// environments a wheel targets.
type Tag struct {
	Python   string
	ABI      string
	Platform string
}

func (t Tag) String() string {
	return t.Python + "-" + t.ABI + "-" + t.Platform
}

// sdistExtensions lists recognized source distribution suffixes.
var sdistExtensions = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".zip", ".tgz"}

// ParseFilename classifies an index filename as a wheel or sdist and
// extracts its name, version, and (for wheels) expanded tag set. The
// wheel naming convention is defined in PEP 427; sdists are
// "<name>-<version>.<ext>".
func ParseFilename(filename string) (Artifact, error) {
	if strings.HasSuffix(filename, ".whl") {
		return parseWheelName(filename)
	}
	for _, ext := range sdistExtensions {
		if strings.HasSuffix(filename, ext) {
			return parseSdistName(filename, ext)
		}
	}
	return Artifact{}, fmt.Errorf("unrecognized distribution filename %q", filename)
}

func parseWheelName(filename string) (Artifact, error) {
	stem := strings.TrimSuffix(filename, ".whl")
	parts := strings.Split(stem, "-")
	if len(parts) != 5 && len(parts) != 6 {
		return Artifact{}, fmt.Errorf("wheel name %q has %d elements, not 5 or 6", filename, len(parts))
	}
	version, err := pep440.Parse(parts[1])
	if err != nil {
		return Artifact{}, fmt.Errorf("wheel name %q: %w", filename, err)
	}
	a := Artifact{
		Kind:     KindWheel,
		Name:     pep508.NormalizeName(parts[0]),
		Version:  version,
		Filename: filename,
	}
	// The last three elements are dot-compressed tag sets; expand them
	// to the full cross product per PEP 425.
	python, abi, platform := parts[len(parts)-3], parts[len(parts)-2], parts[len(parts)-1]
	for _, py := range strings.Split(python, ".") {
		for _, ab := range strings.Split(abi, ".") {
			for _, plat := range strings.Split(platform, ".") {
				a.Tags = append(a.Tags, Tag{Python: py, ABI: ab, Platform: plat})
			}
		}
	}
	return a, nil
}

func parseSdistName(filename, ext string) (Artifact, error) {
	stem := strings.TrimSuffix(filename, ext)
	// The version is everything after the last dash that parses as a
	// version; package names may themselves contain dashes.
	i := strings.LastIndexByte(stem, '-')
	if i < 0 {
		return Artifact{}, fmt.Errorf("sdist name %q has no version", filename)
	}
	version, err := pep440.Parse(stem[i+1:])
	if err != nil {
		return Artifact{}, fmt.Errorf("sdist name %q: %w", filename, err)
	}
	return Artifact{
		Kind:     KindSdist,
		Name:     pep508.NormalizeName(stem[:i]),
		Version:  version,
		Filename: filename,
	}, nil
}
