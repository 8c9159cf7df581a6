// Package utils holds small helpers shared across the server.
package utils

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
)

// LoadFile reads the file at filename and performs decompression if
// necessary: gzip streams and zip/7z archives are unwrapped to their first
// payload. It returns the payload bytes and the payload's logical file name
// (the archive member name for containers, the base name otherwise), so
// callers can key behavior off the inner extension.
func LoadFile(filename string) ([]byte, string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, "", err
	}

	base := filepath.Base(filename)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".gz":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", base, err)
		}
		defer r.Close()
		inner, err := io.ReadAll(r)
		if err != nil {
			return nil, "", fmt.Errorf("decompressing %s: %w", base, err)
		}
		return inner, strings.TrimSuffix(base, filepath.Ext(base)), nil

	case ".zip":
		r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", base, err)
		}
		return firstArchiveFile(base, zipFiles(r.File))

	case ".7z":
		r, err := sevenzip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", base, err)
		}
		return firstArchiveFile(base, sevenzipFiles(r.File))

	default:
		return data, base, nil
	}
}

// archiveFile is the common surface of zip and 7z members.
type archiveFile interface {
	Name() string
	IsDir() bool
	Open() (io.ReadCloser, error)
}

func firstArchiveFile(archive string, files []archiveFile) ([]byte, string, error) {
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, "", fmt.Errorf("opening %s in %s: %w", f.Name(), archive, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, "", fmt.Errorf("reading %s in %s: %w", f.Name(), archive, err)
		}
		return data, filepath.Base(f.Name()), nil
	}
	return nil, "", fmt.Errorf("%s contains no files", archive)
}

type zipMember struct{ f *zip.File }

func (m zipMember) Name() string                 { return m.f.Name }
func (m zipMember) IsDir() bool                  { return m.f.FileInfo().IsDir() }
func (m zipMember) Open() (io.ReadCloser, error) { return m.f.Open() }

func zipFiles(fs []*zip.File) []archiveFile {
	out := make([]archiveFile, len(fs))
	for i, f := range fs {
		out[i] = zipMember{f}
	}
	return out
}

type sevenzipMember struct{ f *sevenzip.File }

func (m sevenzipMember) Name() string                 { return m.f.Name }
func (m sevenzipMember) IsDir() bool                  { return m.f.FileInfo().IsDir() }
func (m sevenzipMember) Open() (io.ReadCloser, error) { return m.f.Open() }

func sevenzipFiles(fs []*sevenzip.File) []archiveFile {
	out := make([]archiveFile, len(fs))
	for i, f := range fs {
		out[i] = sevenzipMember{f}
	}
	return out
}
