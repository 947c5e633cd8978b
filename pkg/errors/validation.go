package errors

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/matzehuels/wheelhouse/pkg/environment"
	"github.com/matzehuels/wheelhouse/pkg/metadata"
	"github.com/matzehuels/wheelhouse/pkg/pep508"
	"github.com/matzehuels/wheelhouse/pkg/resolver"
)

// ValidateEnvironment checks a python version and operating system pair
// and builds the target environment from them.
func ValidateEnvironment(pythonVersion, operatingSystem string) (*environment.Environment, error) {
	targetOS, err := environment.ParseOS(operatingSystem)
	if err != nil {
		return nil, Wrap(ErrCodeInvalidOS, err, "unsupported operating system %q", operatingSystem)
	}
	env, err := environment.New(pythonVersion, targetOS)
	if err != nil {
		return nil, Wrap(ErrCodeInvalidPythonVersion, err, "invalid python version %q", pythonVersion)
	}
	return env, nil
}

// ValidateInputFile checks that a requirements input file exists and is
// a regular file.
func ValidateInputFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return Wrap(ErrCodeFileNotFound, err, "input file %s", path)
	}
	if info.IsDir() {
		return New(ErrCodeInvalidPath, "input %s is a directory", path)
	}
	return nil
}

// ValidateOutputPath checks that an output file can be created: the
// parent directory must exist.
func ValidateOutputPath(path string) error {
	if path == "" || path == "-" {
		return nil // stdout
	}
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return Wrap(ErrCodeInvalidPath, err, "output directory %s", dir)
	}
	if !info.IsDir() {
		return New(ErrCodeInvalidPath, "output parent %s is not a directory", dir)
	}
	return nil
}

// FromResolver translates resolver and metadata failures into coded
// errors for the CLI and API surface. Errors already carrying a code
// pass through unchanged.
func FromResolver(err error) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return err
	}

	var impossible *resolver.ResolutionImpossibleError
	if errors.As(err, &impossible) {
		return Wrap(ErrCodeResolutionConflict, err, "dependency conflict on %s", impossible.Name)
	}
	var unsupported *resolver.UnsupportedPythonError
	if errors.As(err, &unsupported) {
		return Wrap(ErrCodeUnsupportedPython, err, "%s does not support python %s", unsupported.Name, unsupported.PythonVersion)
	}
	var notFound *resolver.NoVersionsFoundError
	if errors.As(err, &notFound) {
		return Wrap(ErrCodePackageNotFound, err, "no versions found for %s", notFound.Name)
	}
	if errors.Is(err, pep508.ErrInvalid) {
		return Wrap(ErrCodeInvalidRequirement, err, "invalid requirement")
	}
	if errors.Is(err, metadata.ErrUnavailable) {
		return Wrap(ErrCodeMetadataUnavailable, err, "package metadata unavailable")
	}
	if errors.Is(err, metadata.ErrNoVersions) {
		return Wrap(ErrCodePackageNotFound, err, "package not found")
	}
	return Wrap(ErrCodeInternal, err, "resolution failed")
}
