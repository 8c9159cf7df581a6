// Package coretest provides a scripted console for exercising the session
// and stream layers without a real interpreter.
package coretest

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/thelolagemann/gameport/internal/core"
)

// Framebuffer dimensions of the fake console.
const (
	Width  = 8
	Height = 4
)

const stateMagic = "FAKE"

// Core is a deterministic core.Console stand-in. Every tick records the pad
// mask that was held during it, and the framebuffer encodes the tick counter
// in its first pixels, so frames from different ticks never compare equal.
// Failure fields, when set, are returned verbatim by the matching method.
type Core struct {
	mu sync.Mutex

	Ticks uint64
	Held  core.Buttons
	Trace []core.Buttons
	Image []byte
	Rate  int

	FailLoad   error
	FailExport error
	FailImport error
}

// New returns a fake console ticking at 60 Hz.
func New() *Core { return &Core{Rate: 60} }

func (c *Core) LoadImage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailLoad != nil {
		return c.FailLoad
	}
	c.Image = append([]byte(nil), data...)
	c.Ticks = 0
	c.Held = 0
	c.Trace = nil
	return nil
}

func (c *Core) Tick() {
	c.mu.Lock()
	c.Ticks++
	c.Trace = append(c.Trace, c.Held)
	c.mu.Unlock()
}

func (c *Core) SetInput(b core.Buttons) {
	c.mu.Lock()
	c.Held = b
	c.mu.Unlock()
}

func (c *Core) ClearInput() {
	c.mu.Lock()
	c.Held = 0
	c.mu.Unlock()
}

func (c *Core) Framebuffer() ([]byte, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fb := make([]byte, Width*Height*4)
	for i := 3; i < len(fb); i += 4 {
		fb[i] = 0xFF
	}
	// The stamp occupies RGB channels only: a zero alpha would make the
	// PNG encoder discard the pixel's color and erase the counter.
	var enc [8]byte
	binary.LittleEndian.PutUint64(enc[:], c.Ticks)
	for i, b := range enc {
		fb[stampPos(i)] = b
	}
	fb[stampPos(8)] = byte(c.Held)
	return fb, Width, Height
}

// stampPos maps stamp byte i to a framebuffer offset, skipping alphas.
func stampPos(i int) int { return i + i/3 }

func (c *Core) ExportState() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailExport != nil {
		return nil, c.FailExport
	}
	blob := make([]byte, 0, len(stateMagic)+9)
	blob = append(blob, stateMagic...)
	blob = binary.LittleEndian.AppendUint64(blob, c.Ticks)
	blob = append(blob, byte(c.Held))
	return blob, nil
}

func (c *Core) ImportState(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailImport != nil {
		return c.FailImport
	}
	if len(data) != len(stateMagic)+9 || string(data[:4]) != stateMagic {
		return fmt.Errorf("not a %s state blob", stateMagic)
	}
	c.Ticks = binary.LittleEndian.Uint64(data[4:12])
	c.Held = core.Buttons(data[12])
	return nil
}

func (c *Core) TickRate() int { return c.Rate }

// Snapshot returns the tick counter and per-tick input trace under the lock,
// for assertions that run while other goroutines may still hold the core.
func (c *Core) Snapshot() (uint64, []core.Buttons) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Ticks, append([]core.Buttons(nil), c.Trace...)
}

// FrameTick decodes the tick counter stamped into a fake framebuffer.
func FrameTick(fb []byte) uint64 {
	if len(fb) < 12 {
		return 0
	}
	var enc [8]byte
	for i := range enc {
		enc[i] = fb[stampPos(i)]
	}
	return binary.LittleEndian.Uint64(enc[:])
}
