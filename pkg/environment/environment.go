// Package environment describes the target interpreter and operating
// system a resolution runs against. The target need not match the host:
// an Environment is constructed from a Python version string and an OS
// name and induces the set of wheel tags acceptable for that target.
package environment

import (
	"fmt"
	"strings"

	"github.com/matzehuels/wheelhouse/pkg/pep440"
)

// OS identifies a supported target operating system.
type OS string

// Supported operating systems. One ABI/platform tag set is assumed per
// run (x86_64, or arm64 alongside x86_64 on macOS via universal wheels).
const (
	Linux   OS = "linux"
	MacOS   OS = "macos"
	Windows OS = "windows"
)

// ParseOS maps a user-supplied OS name to an [OS].
func ParseOS(s string) (OS, error) {
	switch strings.ToLower(s) {
	case "linux":
		return Linux, nil
	case "macos", "darwin", "mac":
		return MacOS, nil
	case "windows", "win":
		return Windows, nil
	}
	return "", fmt.Errorf("unsupported operating system %q", s)
}

// Environment is fixed at resolver construction and consulted for marker
// evaluation and wheel selection.
type Environment struct {
	// PythonVersion is the target interpreter version, major.minor or
	// major.minor.micro.
	PythonVersion pep440.Version
	// OS is the target operating system.
	OS OS

	markers map[string]string
}

// New builds an Environment for the given Python version ("3.10" or
// "3.10.4") and operating system. The implementation is assumed to be
// CPython.
func New(pythonVersion string, os OS) (*Environment, error) {
	v, err := pep440.Parse(pythonVersion)
	if err != nil {
		return nil, fmt.Errorf("python version: %w", err)
	}
	if len(v.Release) < 2 || len(v.Release) > 3 || v.IsPrerelease() || v.Local != "" {
		return nil, fmt.Errorf("python version %q: want major.minor or major.minor.micro", pythonVersion)
	}
	e := &Environment{PythonVersion: v, OS: os}
	e.markers = markerDefaults(v, os)
	return e, nil
}

// PythonTag returns the CPython interpreter tag for the target, e.g.
// "cp310".
func (e *Environment) PythonTag() string {
	return fmt.Sprintf("cp%d%d", e.PythonVersion.Release[0], e.PythonVersion.Release[1])
}

// MarkerValue returns the value of an environment-marker variable, and
// whether the variable is defined for this environment. The "extra"
// variable is never defined here; it is bound by the marker evaluator.
func (e *Environment) MarkerValue(name string) (string, bool) {
	v, ok := e.markers[name]
	return v, ok
}

// markerDefaults produces the PEP 508 marker variables implied by a
// target Python version and OS. Values follow what a CPython interpreter
// reports on each platform.
func markerDefaults(v pep440.Version, os OS) map[string]string {
	short := fmt.Sprintf("%d.%d", v.Release[0], v.Release[1])
	micro := 0
	if len(v.Release) == 3 {
		micro = v.Release[2]
	}
	full := fmt.Sprintf("%s.%d", short, micro)

	m := map[string]string{
		"python_version":                 short,
		"python_full_version":            full,
		"implementation_name":            "cpython",
		"implementation_version":         full,
		"platform_python_implementation": "CPython",
		"platform_machine":               "x86_64",
		"platform_release":               "",
		"platform_version":               "",
	}
	switch os {
	case Linux:
		m["os_name"] = "posix"
		m["sys_platform"] = "linux"
		m["platform_system"] = "Linux"
	case MacOS:
		m["os_name"] = "posix"
		m["sys_platform"] = "darwin"
		m["platform_system"] = "Darwin"
	case Windows:
		m["os_name"] = "nt"
		m["sys_platform"] = "win32"
		m["platform_system"] = "Windows"
		m["platform_machine"] = "AMD64"
	}
	return m
}
