// Package snapshot persists and restores opaque simulation state blobs.
// Every snapshot belongs to one title and is stored as two artifacts under
// the title's saves directory: the raw state blob and a small JSON metadata
// record carrying a PNG thumbnail. Listing only ever touches the metadata
// files, so it stays cheap no matter how large the blobs grow.
package snapshot

import (
	"bytes"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/thelolagemann/gameport/internal/fault"
	"github.com/thelolagemann/gameport/internal/library"
)

// thumbWidth is the pixel width thumbnails are scaled to, preserving the
// frame's aspect ratio.
const thumbWidth = 128

// Meta is the persisted snapshot record. Thumbnail holds PNG bytes and is
// cleared in bulk listings.
type Meta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TitleID   string    `json:"titleId"`
	Timestamp time.Time `json:"timestamp"`
	Thumbnail []byte    `json:"thumbnail,omitempty"`
}

// Store manages snapshot artifacts inside the library's directory tree.
type Store struct {
	lib *library.Library
	log *slog.Logger
}

// New returns a store writing into lib's per-title directories.
func New(lib *library.Library, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{lib: lib, log: log}
}

// Save persists a state blob with its source frame for title titleID. The
// frame is scaled into the stored thumbnail. A missing displayName defaults
// to the save time. The blob is written before the metadata; if the metadata
// write fails the orphaned blob is removed again.
func (s *Store) Save(titleID, displayName string, blob, framePNG []byte) (Meta, error) {
	if _, err := s.lib.Get(titleID); err != nil {
		return Meta{}, err
	}

	meta := Meta{
		ID:        newID(),
		Name:      displayName,
		TitleID:   titleID,
		Timestamp: time.Now().UTC(),
	}
	if meta.Name == "" {
		meta.Name = meta.Timestamp.Format("2006-01-02 15:04:05")
	}

	thumb, err := thumbnail(framePNG)
	if err != nil {
		s.log.Warn("snapshot thumbnail skipped", "id", meta.ID, "err", err)
	} else {
		meta.Thumbnail = thumb
	}

	dir := s.savesDir(titleID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Meta{}, fault.IOf("creating %s: %v", dir, err)
	}

	blobPath := s.blobPath(titleID, meta.ID)
	if err := os.WriteFile(blobPath, blob, 0644); err != nil {
		return Meta{}, fault.IOf("writing %s: %v", blobPath, err)
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		os.Remove(blobPath)
		return Meta{}, fault.IOf("encoding snapshot %s: %v", meta.ID, err)
	}
	if err := os.WriteFile(s.metaPath(titleID, meta.ID), raw, 0644); err != nil {
		os.Remove(blobPath)
		return Meta{}, fault.IOf("writing snapshot metadata %s: %v", meta.ID, err)
	}

	s.log.Info("saved snapshot",
		"title", titleID,
		"id", meta.ID,
		"name", meta.Name,
		"bytes", len(blob))
	return meta, nil
}

// Load reads a snapshot's blob and metadata. It does not touch the live
// session; importing the blob is the caller's decision.
func (s *Store) Load(titleID, snapshotID string) ([]byte, Meta, error) {
	meta, err := s.readMeta(titleID, snapshotID)
	if err != nil {
		return nil, Meta{}, err
	}
	blob, err := os.ReadFile(s.blobPath(titleID, snapshotID))
	if err != nil {
		return nil, Meta{}, fault.NotFoundf("snapshot %s state blob", snapshotID)
	}
	return blob, meta, nil
}

// List returns the title's snapshots, newest first, without thumbnails.
func (s *Store) List(titleID string) ([]Meta, error) {
	entries, err := os.ReadDir(s.savesDir(titleID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.IOf("scanning %s: %v", s.savesDir(titleID), err)
	}

	var out []Meta
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".meta.json")
		if !ok || e.IsDir() {
			continue
		}
		meta, err := s.readMeta(titleID, name)
		if err != nil {
			s.log.Warn("skipping unreadable snapshot", "title", titleID, "id", name, "err", err)
			continue
		}
		meta.Thumbnail = nil
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes a snapshot's artifacts and reports whether anything
// existed. Deleting an absent snapshot is not an error.
func (s *Store) Delete(titleID, snapshotID string) (bool, error) {
	found := false
	for _, path := range []string{
		s.metaPath(titleID, snapshotID),
		s.blobPath(titleID, snapshotID),
	} {
		err := os.Remove(path)
		switch {
		case err == nil:
			found = true
		case errors.Is(err, os.ErrNotExist):
		default:
			return found, fault.IOf("removing %s: %v", path, err)
		}
	}
	if found {
		s.log.Info("deleted snapshot", "title", titleID, "id", snapshotID)
	}
	return found, nil
}

// Find locates a snapshot by id across every installed title, for callers
// that know the id but not the owner.
func (s *Store) Find(snapshotID string) (Meta, error) {
	titles, err := s.lib.List()
	if err != nil {
		return Meta{}, err
	}
	for _, t := range titles {
		if meta, err := s.readMeta(t.ID, snapshotID); err == nil {
			return meta, nil
		}
	}
	return Meta{}, fault.NotFoundf("snapshot %s", snapshotID)
}

func (s *Store) savesDir(titleID string) string {
	return filepath.Join(s.lib.Dir(titleID), "saves")
}

func (s *Store) blobPath(titleID, snapshotID string) string {
	return filepath.Join(s.savesDir(titleID), snapshotID+".state")
}

func (s *Store) metaPath(titleID, snapshotID string) string {
	return filepath.Join(s.savesDir(titleID), snapshotID+".meta.json")
}

func (s *Store) readMeta(titleID, snapshotID string) (Meta, error) {
	raw, err := os.ReadFile(s.metaPath(titleID, snapshotID))
	if err != nil {
		return Meta{}, fault.NotFoundf("snapshot %s", snapshotID)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, fault.NotFoundf("snapshot %s metadata is unreadable", snapshotID)
	}
	return meta, nil
}

// newID returns a random 26-character identifier: UUIDv4 bytes, base32,
// lowercase, unpadded. Safe for file names and URLs.
func newID() string {
	u := uuid.New()
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(u[:]))
}

// thumbnail scales a PNG frame down to thumbWidth, preserving aspect.
func thumbnail(framePNG []byte) ([]byte, error) {
	if len(framePNG) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	src, err := png.Decode(bytes.NewReader(framePNG))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	h := thumbWidth * sb.Dy() / sb.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, thumbWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
