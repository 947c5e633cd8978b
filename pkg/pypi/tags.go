package pypi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/matzehuels/wheelhouse/pkg/environment"
)

// Compatible reports whether a wheel tag is installable under the target
// environment. The resolver assumes one ABI/platform tag set per run:
// x86_64 on linux and windows, x86_64 plus universal wheels on macOS.
func Compatible(t Tag, env *environment.Environment) bool {
	return pythonTagOK(t, env) && abiTagOK(t, env) && platformTagOK(t.Platform, env.OS)
}

// CompatibleArtifact reports whether an artifact is usable under env:
// sdists always are, wheels when at least one expanded tag is
// compatible.
func CompatibleArtifact(a Artifact, env *environment.Environment) bool {
	if a.Kind == KindSdist {
		return true
	}
	for _, t := range a.Tags {
		if Compatible(t, env) {
			return true
		}
	}
	return false
}

func pythonTagOK(t Tag, env *environment.Environment) bool {
	major, minor := pyMajorMinor(env)
	switch {
	case t.Python == fmt.Sprintf("py%d", major):
		return true
	case t.Python == env.PythonTag():
		return true
	}
	// Generic pyXY tags of the same major are forward compatible.
	if m, ok := tagMinor(t.Python, "py", major); ok {
		return m <= minor
	}
	// cpXY with abi3 works on any later interpreter of the same major.
	if t.ABI == "abi3" {
		if m, ok := tagMinor(t.Python, "cp", major); ok {
			return m <= minor
		}
	}
	return false
}

func abiTagOK(t Tag, env *environment.Environment) bool {
	switch t.ABI {
	case "none", "abi3":
		return true
	default:
		return t.ABI == env.PythonTag()
	}
}

// tagMinor extracts N from "<prefix><major><N>", e.g. 10 from "cp310".
func tagMinor(tag, prefix string, major int) (int, bool) {
	rest, ok := strings.CutPrefix(tag, fmt.Sprintf("%s%d", prefix, major))
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

func pyMajorMinor(env *environment.Environment) (int, int) {
	return env.PythonVersion.Release[0], env.PythonVersion.Release[1]
}

func platformTagOK(plat string, os environment.OS) bool {
	if plat == "any" {
		return true
	}
	switch os {
	case environment.Linux:
		switch plat {
		case "linux_x86_64", "manylinux1_x86_64", "manylinux2010_x86_64", "manylinux2014_x86_64", "musllinux_1_1_x86_64", "musllinux_1_2_x86_64":
			return true
		}
		// PEP 600 perennial manylinux: manylinux_<glibcmajor>_<glibcminor>_x86_64.
		return strings.HasPrefix(plat, "manylinux_") && strings.HasSuffix(plat, "_x86_64")
	case environment.MacOS:
		if !strings.HasPrefix(plat, "macosx_") {
			return false
		}
		for _, arch := range []string{"_x86_64", "_universal2", "_intel", "_fat64"} {
			if strings.HasSuffix(plat, arch) {
				return true
			}
		}
		return false
	case environment.Windows:
		return plat == "win_amd64"
	}
	return false
}

// Score ranks a compatible wheel by tag specificity: a concrete platform
// beats "any", and a narrower Python tag beats a generic one. Higher is
// better. Sdists score below every wheel; ordering between them is
// handled by the caller.
func Score(a Artifact, env *environment.Environment) int {
	if a.Kind == KindSdist {
		return 0
	}
	best := 0
	for _, t := range a.Tags {
		if !Compatible(t, env) {
			continue
		}
		s := 1 + pythonSpecificity(t, env)
		if t.Platform != "any" {
			s += 16
		}
		if s > best {
			best = s
		}
	}
	return best
}

func pythonSpecificity(t Tag, env *environment.Environment) int {
	switch {
	case t.Python == env.PythonTag():
		return 4
	case t.ABI == "abi3":
		return 3
	case strings.HasPrefix(t.Python, "py") && len(t.Python) > 3:
		return 2
	default:
		return 1
	}
}
