// Package session owns the single live simulation instance. All access to
// the console runs on one goroutine: public methods post closures to the
// actor and wait for the reply, so agent commands and the stream's clock
// ticks serialize into atomic units no matter how many goroutines call in.
// A posted command always runs to completion; cancellation only covers the
// wait for a free slot.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"sync"

	"github.com/thelolagemann/gameport/internal/core"
	"github.com/thelolagemann/gameport/internal/fault"
	"github.com/thelolagemann/gameport/internal/library"
)

// Defaults for the tunable knobs, overridable through options.
const (
	// DefaultWarmupTicks is how many ticks a freshly loaded console runs
	// before the first frame is considered meaningful.
	DefaultWarmupTicks = 60

	// DefaultMaxTicksPerCommand bounds caller-supplied tick counts so a
	// single command cannot monopolize the actor.
	DefaultMaxTicksPerCommand = 600
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("session closed")

// Frame is one rendered frame, PNG-encoded, stamped with the session tick
// counter at render time.
type Frame struct {
	PNG    []byte `json:"-"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Tick   uint64 `json:"tick"`
}

// Status describes the session state machine.
type Status struct {
	Loaded   bool   `json:"loaded"`
	TitleID  string `json:"titleId,omitempty"`
	Ticks    uint64 `json:"ticks"`
	TickRate int    `json:"tickRate,omitempty"`
}

// Session is the controller owning the live console. The zero value is not
// usable; construct with New.
type Session struct {
	lib *library.Library
	log *slog.Logger

	warmupTicks int
	maxTicks    int

	requests chan func()
	quit     chan struct{}
	done     chan struct{}
	closer   sync.Once

	// Owned by the actor goroutine. Never touched from outside run.
	console core.Console
	title   library.Title
	ticks   uint64
}

// New starts an unloaded session backed by lib.
func New(lib *library.Library, opts ...Opt) *Session {
	s := &Session{
		lib:         lib,
		log:         slog.Default(),
		warmupTicks: DefaultWarmupTicks,
		maxTicks:    DefaultMaxTicksPerCommand,
		requests:    make(chan func()),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// run is the actor loop. Each posted closure runs to completion before the
// next one, or before shutdown, is considered.
func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.requests:
			fn()
		case <-s.quit:
			return
		}
	}
}

// Close stops the actor and waits for it to exit. Safe to call twice.
func (s *Session) Close() {
	s.closer.Do(func() { close(s.quit) })
	<-s.done
}

// post hands fn to the actor and waits for it to finish. ctx cancellation
// applies only while queueing; once accepted, fn always completes.
func (s *Session) post(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case s.requests <- func() { fn(); close(ran) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	<-ran
	return nil
}

// LoadGame resolves a title by installed id or source path, boots a fresh
// console for it, runs the warm-up and swaps it in wholesale. A running
// instance is discarded, unsaved progress included. On failure the previous
// instance keeps running.
func (s *Session) LoadGame(ctx context.Context, nameOrPath string) (Frame, error) {
	title, err := s.lib.Resolve(nameOrPath)
	if err != nil {
		return Frame{}, err
	}
	data, err := os.ReadFile(title.ImagePath)
	if err != nil {
		return Frame{}, fault.IOf("reading image %s: %v", title.ImagePath, err)
	}
	con, err := core.New(title.ImagePath)
	if err != nil {
		return Frame{}, err
	}

	var frame Frame
	var ferr error
	if err := s.post(ctx, func() { frame, ferr = s.swap(con, data, title) }); err != nil {
		return Frame{}, err
	}
	return frame, ferr
}

func (s *Session) swap(con core.Console, data []byte, title library.Title) (Frame, error) {
	if err := con.LoadImage(data); err != nil {
		return Frame{}, fmt.Errorf("loading image for %q: %w", title.ID, err)
	}
	for n := 0; n < s.warmupTicks; n++ {
		con.Tick()
	}
	if s.console != nil {
		s.log.Info("discarding running instance", "title", s.title.ID, "ticks", s.ticks)
	}
	s.console = con
	s.title = title
	s.ticks = uint64(s.warmupTicks)
	s.log.Info("loaded game", "title", title.ID, "warmupTicks", s.warmupTicks)
	return s.frame()
}

// PressInput holds the button mask for ticks ticks, releases it for one
// more, and returns the frame after the release tick.
func (s *Session) PressInput(ctx context.Context, b core.Buttons, ticks int) (Frame, error) {
	if err := s.checkTicks(ticks); err != nil {
		return Frame{}, err
	}
	var frame Frame
	var ferr error
	err := s.post(ctx, func() {
		if s.console == nil {
			ferr = fault.NotReadyf("pressInput")
			return
		}
		s.console.SetInput(b)
		s.tick(ticks)
		s.console.ClearInput()
		s.tick(1)
		frame, ferr = s.frame()
	})
	if err != nil {
		return Frame{}, err
	}
	return frame, ferr
}

// Advance runs ticks input-free ticks and returns the resulting frame.
// Advance(ctx, 0) just renders the current frame.
func (s *Session) Advance(ctx context.Context, ticks int) (Frame, error) {
	if err := s.checkTicks(ticks); err != nil {
		return Frame{}, err
	}
	var frame Frame
	var ferr error
	err := s.post(ctx, func() {
		if s.console == nil {
			ferr = fault.NotReadyf("advance")
			return
		}
		s.tick(ticks)
		frame, ferr = s.frame()
	})
	if err != nil {
		return Frame{}, err
	}
	return frame, ferr
}

// ReadFrame renders the current frame without advancing the clock.
func (s *Session) ReadFrame(ctx context.Context) (Frame, error) {
	var frame Frame
	var ferr error
	err := s.post(ctx, func() {
		if s.console == nil {
			ferr = fault.NotReadyf("readFrame")
			return
		}
		frame, ferr = s.frame()
	})
	if err != nil {
		return Frame{}, err
	}
	return frame, ferr
}

// ImportState hands a snapshot blob to the running console. A rejected blob
// is reported as CorruptState and leaves the running instance untouched.
func (s *Session) ImportState(ctx context.Context, blob []byte) (Frame, error) {
	var frame Frame
	var ferr error
	err := s.post(ctx, func() {
		if s.console == nil {
			ferr = fault.NotReadyf("importSnapshot")
			return
		}
		if err := s.console.ImportState(blob); err != nil {
			ferr = fault.CorruptStatef("restoring snapshot: %v", err)
			return
		}
		frame, ferr = s.frame()
	})
	if err != nil {
		return Frame{}, err
	}
	return frame, ferr
}

// Export captures the state blob and the frame at the same tick, plus the
// owning title id, for the snapshot store.
func (s *Session) Export(ctx context.Context) ([]byte, Frame, string, error) {
	var (
		blob    []byte
		frame   Frame
		titleID string
		ferr    error
	)
	err := s.post(ctx, func() {
		if s.console == nil {
			ferr = fault.NotReadyf("saveState")
			return
		}
		blob, ferr = s.console.ExportState()
		if ferr != nil {
			ferr = fmt.Errorf("exporting state: %w", ferr)
			return
		}
		titleID = s.title.ID
		frame, ferr = s.frame()
	})
	if err != nil {
		return nil, Frame{}, "", err
	}
	return blob, frame, titleID, ferr
}

// Status reports the state machine position and tick counter.
func (s *Session) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.post(ctx, func() {
		st.Loaded = s.console != nil
		st.TitleID = s.title.ID
		st.Ticks = s.ticks
		if s.console != nil {
			st.TickRate = s.console.TickRate()
		}
	})
	if err != nil {
		return Status{}, err
	}
	return st, nil
}

func (s *Session) tick(n int) {
	for i := 0; i < n; i++ {
		s.console.Tick()
		s.ticks++
	}
}

func (s *Session) checkTicks(n int) error {
	if n < 0 {
		return fmt.Errorf("tick count %d is negative", n)
	}
	if n > s.maxTicks {
		return fmt.Errorf("tick count %d exceeds the per-command limit of %d", n, s.maxTicks)
	}
	return nil
}

// frame renders the console's framebuffer to PNG, stamped with the tick
// counter.
func (s *Session) frame() (Frame, error) {
	pix, w, h := s.console.Framebuffer()
	img := &image.RGBA{Pix: pix, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Frame{}, fmt.Errorf("encoding frame: %w", err)
	}
	return Frame{PNG: buf.Bytes(), Width: w, Height: h, Tick: s.ticks}, nil
}
