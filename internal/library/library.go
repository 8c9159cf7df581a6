// Package library manages the on-disk registry of installed titles. Each
// title owns one directory under the data root holding the program image, a
// small metadata record and the title's snapshots. The filesystem is the
// only source of truth; an in-memory index accelerates lookups and is
// invalidated on every write.
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/thelolagemann/gameport/internal/fault"
	"github.com/thelolagemann/gameport/pkg/utils"
)

// Title is one installed simulation image.
type Title struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ImagePath    string    `json:"imagePath"`
	OriginalPath string    `json:"originalPath"`
	InstalledAt  time.Time `json:"installedAt"`
}

// titleMeta is the persisted meta.json record.
type titleMeta struct {
	Name         string    `json:"name"`
	OriginalPath string    `json:"originalPath"`
	InstalledAt  time.Time `json:"installedAt"`
	ContentHash  string    `json:"contentHash"`
}

// Library is the title registry rooted at a data directory.
type Library struct {
	root string
	log  *slog.Logger

	mu    sync.RWMutex
	index map[string]Title // nil when stale
}

// New opens (creating if needed) a library rooted at dir.
func New(dir string, log *slog.Logger) (*Library, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fault.IOf("creating library root %s: %v", dir, err)
	}
	return &Library{root: dir, log: log}, nil
}

// Root returns the library's data directory.
func (l *Library) Root() string { return l.root }

// Dir returns the directory owned by a title id.
func (l *Library) Dir(id string) string { return filepath.Join(l.root, id) }

// SanitizeID derives a title id from a file or display name: the extension
// is stripped, letters are lower-cased and every non-alphanumeric run
// collapses to a single dash.
func SanitizeID(name string) string {
	name = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
		default:
			pending = true
		}
	}
	return b.String()
}

// Install copies the image at sourcePath into the library. Archived images
// (zip, 7z, gzip) are unwrapped before the copy. The copy is skipped when
// the destination already exists and the source is not strictly newer, which
// makes repeated installs of an unchanged file a cheap no-op. customName
// overrides the id derived from the file name.
func (l *Library) Install(sourcePath, customName string) (Title, error) {
	src, err := os.Stat(sourcePath)
	if err != nil {
		return Title{}, fault.NotFoundf("source image %q", sourcePath)
	}
	if src.IsDir() {
		return Title{}, fault.NotFoundf("source image %q is a directory", sourcePath)
	}

	payload, innerName, err := utils.LoadFile(sourcePath)
	if err != nil {
		return Title{}, fault.IOf("reading image %s: %v", sourcePath, err)
	}

	name := customName
	if name == "" {
		name = strings.TrimSuffix(innerName, filepath.Ext(innerName))
	}
	id := SanitizeID(name)
	if id == "" {
		return Title{}, fmt.Errorf("cannot derive a title id from %q", name)
	}

	dir := l.Dir(id)
	dest := filepath.Join(dir, "image"+strings.ToLower(filepath.Ext(innerName)))

	fi, err := os.Stat(dest)
	if err == nil && !src.ModTime().After(fi.ModTime()) {
		// Unchanged source: keep the existing copy and record. A missing
		// metadata file falls through so the record gets rewritten.
		if meta, merr := l.readMeta(id); merr == nil {
			return titleFromMeta(id, dest, meta), nil
		}
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Title{}, fault.IOf("checking %s: %v", dest, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return Title{}, fault.IOf("creating %s: %v", dir, err)
	}
	if err := os.WriteFile(dest, payload, 0644); err != nil {
		return Title{}, fault.IOf("writing %s: %v", dest, err)
	}

	meta := titleMeta{
		Name:         name,
		OriginalPath: sourcePath,
		InstalledAt:  time.Now().UTC(),
		ContentHash:  fmt.Sprintf("%016x", xxhash.Sum64(payload)),
	}
	if err := l.writeMeta(id, meta); err != nil {
		return Title{}, err
	}

	l.mu.Lock()
	l.index = nil
	l.mu.Unlock()

	l.log.Info("installed title",
		"id", id,
		"source", sourcePath,
		"bytes", len(payload),
		"hash", meta.ContentHash)
	return titleFromMeta(id, dest, meta), nil
}

// Resolve returns the title for nameOrPath: an installed id is returned
// directly, an existing file path is installed on the fly, anything else is
// NotFound. A display name that sanitizes to an installed id is accepted as
// a last resort.
func (l *Library) Resolve(nameOrPath string) (Title, error) {
	if t, err := l.Get(nameOrPath); err == nil {
		return t, nil
	}
	if fi, err := os.Stat(nameOrPath); err == nil && !fi.IsDir() {
		return l.Install(nameOrPath, "")
	}
	if t, err := l.Get(SanitizeID(nameOrPath)); err == nil {
		return t, nil
	}
	return Title{}, fault.NotFoundf("title %q is not installed and no such file exists", nameOrPath)
}

// Get returns an installed title by id.
func (l *Library) Get(id string) (Title, error) {
	idx, err := l.snapshotIndex()
	if err != nil {
		return Title{}, err
	}
	t, ok := idx[id]
	if !ok {
		return Title{}, fault.NotFoundf("title %q", id)
	}
	return t, nil
}

// List returns every installed title, most recently installed first.
func (l *Library) List() ([]Title, error) {
	idx, err := l.snapshotIndex()
	if err != nil {
		return nil, err
	}
	out := make([]Title, 0, len(idx))
	for _, t := range idx {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InstalledAt.Equal(out[j].InstalledAt) {
			return out[i].InstalledAt.After(out[j].InstalledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// snapshotIndex returns the cached index, rebuilding it from disk when
// stale.
func (l *Library) snapshotIndex() (map[string]Title, error) {
	l.mu.RLock()
	idx := l.index
	l.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fault.IOf("scanning library %s: %v", l.root, err)
	}
	idx = make(map[string]Title, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		meta, err := l.readMeta(id)
		if err != nil {
			l.log.Warn("skipping unreadable title", "id", id, "err", err)
			continue
		}
		image, err := l.imagePath(id)
		if err != nil {
			l.log.Warn("skipping title without image", "id", id, "err", err)
			continue
		}
		idx[id] = titleFromMeta(id, image, meta)
	}

	l.mu.Lock()
	l.index = idx
	l.mu.Unlock()
	return idx, nil
}

// imagePath locates the installed image file inside a title directory.
func (l *Library) imagePath(id string) (string, error) {
	entries, err := os.ReadDir(l.Dir(id))
	if err != nil {
		return "", fault.IOf("reading %s: %v", l.Dir(id), err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "image") {
			return filepath.Join(l.Dir(id), e.Name()), nil
		}
	}
	return "", fault.NotFoundf("image file for title %q", id)
}

func (l *Library) metaPath(id string) string {
	return filepath.Join(l.Dir(id), "meta.json")
}

func (l *Library) readMeta(id string) (titleMeta, error) {
	raw, err := os.ReadFile(l.metaPath(id))
	if err != nil {
		return titleMeta{}, fault.NotFoundf("metadata for title %q", id)
	}
	var meta titleMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return titleMeta{}, fault.IOf("decoding %s: %v", l.metaPath(id), err)
	}
	return meta, nil
}

func (l *Library) writeMeta(id string, meta titleMeta) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fault.IOf("encoding metadata for %q: %v", id, err)
	}
	if err := os.WriteFile(l.metaPath(id), raw, 0644); err != nil {
		return fault.IOf("writing %s: %v", l.metaPath(id), err)
	}
	return nil
}

func titleFromMeta(id, imagePath string, meta titleMeta) Title {
	return Title{
		ID:           id,
		Name:         meta.Name,
		ImagePath:    imagePath,
		OriginalPath: meta.OriginalPath,
		InstalledAt:  meta.InstalledAt,
	}
}
