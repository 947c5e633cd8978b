package metadata

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/matzehuels/wheelhouse/pkg/pypi"
)

// maxMetadataSize bounds how much of a metadata member is read. Real
// METADATA files are a few KB; the limit guards against hostile
// archives.
const maxMetadataSize = 8 << 20

// readWheelMetadata extracts the METADATA member of a wheel on disk.
// Only the metadata file is read; no code leaves the archive.
func readWheelMetadata(wheelPath string) (coreMetadata, error) {
	zr, err := zip.OpenReader(wheelPath)
	if err != nil {
		return coreMetadata{}, fmt.Errorf("open wheel: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		dir, base := path.Split(f.Name)
		if base != "METADATA" || !strings.HasSuffix(strings.TrimSuffix(dir, "/"), ".dist-info") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return coreMetadata{}, err
		}
		defer rc.Close()
		return parseCoreMetadata(io.LimitReader(rc, maxMetadataSize))
	}
	return coreMetadata{}, fmt.Errorf("wheel %s has no METADATA member", path.Base(wheelPath))
}

// sdistFiles are the members of a source distribution consulted for
// metadata, in preference order under the package root directory.
type sdistFiles struct {
	pkgInfo  []byte
	setupPy  []byte
	setupCfg []byte
}

// readSdistMetadata extracts PKG-INFO (and, for the insecure setup
// evaluator, setup.py / setup.cfg) from an sdist archive on disk.
func readSdistMetadata(sdistPath string, a pypi.Artifact) (sdistFiles, error) {
	if strings.HasSuffix(a.Filename, ".zip") {
		return readSdistZip(sdistPath)
	}
	return readSdistTar(sdistPath, a.Filename)
}

func readSdistTar(p, filename string) (sdistFiles, error) {
	f, err := os.Open(p)
	if err != nil {
		return sdistFiles{}, err
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(filename, ".tar.bz2"):
		r = bzip2.NewReader(f)
	case strings.HasSuffix(filename, ".tar"):
	default: // .tar.gz, .tgz
		gz, err := gzip.NewReader(f)
		if err != nil {
			return sdistFiles{}, fmt.Errorf("open sdist: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var files sdistFiles
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sdistFiles{}, fmt.Errorf("read sdist: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		files.record(hdr.Name, func() ([]byte, error) {
			return io.ReadAll(io.LimitReader(tr, maxMetadataSize))
		})
	}
	return files, nil
}

func readSdistZip(p string) (sdistFiles, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return sdistFiles{}, fmt.Errorf("open sdist: %w", err)
	}
	defer zr.Close()

	var files sdistFiles
	for _, f := range zr.File {
		files.record(f.Name, func() ([]byte, error) {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(io.LimitReader(rc, maxMetadataSize))
		})
	}
	return files, nil
}

// record captures a member when it is one of the metadata files at the
// top level of the sdist ("<name>-<version>/PKG-INFO" and friends).
func (s *sdistFiles) record(member string, read func() ([]byte, error)) {
	parts := strings.Split(path.Clean(member), "/")
	if len(parts) != 2 {
		return
	}
	var dst *[]byte
	switch parts[1] {
	case "PKG-INFO":
		dst = &s.pkgInfo
	case "setup.py":
		dst = &s.setupPy
	case "setup.cfg":
		dst = &s.setupCfg
	default:
		return
	}
	if *dst != nil {
		return
	}
	if data, err := read(); err == nil {
		*dst = data
	}
}
