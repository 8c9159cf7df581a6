// Package core defines the contract between the session layer and the
// console simulations it drives. A console is an opaque machine: the session
// feeds it an image, ticks it, applies pad input and reads frames back.
// State blobs cross this boundary uninterpreted in both directions.
package core

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/thelolagemann/gameport/internal/fault"
)

// Console is one live simulation instance. Implementations are not safe for
// concurrent use; the session serializes all access to a single goroutine.
type Console interface {
	// LoadImage feeds the console a program image. It is called exactly
	// once, before the first Tick.
	LoadImage(data []byte) error

	// Tick advances the simulation by one step of the native clock.
	Tick()

	// SetInput replaces the currently held pad mask.
	SetInput(b Buttons)

	// ClearInput releases all held buttons.
	ClearInput()

	// Framebuffer returns the current frame as RGBA bytes (4 bytes per
	// pixel, row-major) and its dimensions. The slice is owned by the
	// console and is only valid until the next Tick.
	Framebuffer() (pix []byte, w, h int)

	// ExportState serializes the full machine state. The blob is opaque
	// above this boundary; only ImportState on the same console type can
	// interpret it.
	ExportState() ([]byte, error)

	// ImportState restores a previously exported state. Implementations
	// must be all-or-nothing: on error the running state is unchanged.
	ImportState(data []byte) error

	// TickRate reports the console's native ticks per second.
	TickRate() int
}

// Factory constructs a fresh, unloaded console.
type Factory func() Console

var (
	formatsMu sync.RWMutex
	formats   = map[string]Factory{}
)

// Register makes a console constructor available for images with the given
// extension (e.g. ".ch8"). Meant to be called from a package init.
func Register(ext string, f Factory) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	formatsMu.Lock()
	formats[ext] = f
	formatsMu.Unlock()
}

// New constructs a console for the image at path, chosen by extension.
func New(path string) (Console, error) {
	ext := strings.ToLower(filepath.Ext(path))
	formatsMu.RLock()
	f, ok := formats[ext]
	formatsMu.RUnlock()
	if !ok {
		return nil, fault.NotFoundf("no console registered for %q images (supported: %s)", ext, strings.Join(Formats(), " "))
	}
	return f(), nil
}

// Formats lists the registered image extensions, sorted.
func Formats() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	out := make([]string, 0, len(formats))
	for ext := range formats {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
