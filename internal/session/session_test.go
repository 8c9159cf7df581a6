package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/thelolagemann/gameport/internal/core"
	"github.com/thelolagemann/gameport/internal/core/coretest"
	"github.com/thelolagemann/gameport/internal/fault"
	"github.com/thelolagemann/gameport/internal/library"
)

const testWarmup = 3

func newFixture(t *testing.T) (*Session, *coretest.Core, *library.Library) {
	t.Helper()
	lib, err := library.New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	fake := coretest.New()
	core.Register(".fake", func() core.Console { return fake })

	s := New(lib, WithWarmupTicks(testWarmup), WithMaxTicksPerCommand(50))
	t.Cleanup(s.Close)
	return s, fake, lib
}

func installFake(t *testing.T, lib *library.Library, name string) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(src, []byte{0xCA, 0xFE}, 0644); err != nil {
		t.Fatal(err)
	}
	title, err := lib.Install(src, "")
	if err != nil {
		t.Fatal(err)
	}
	return title.ID
}

func TestUnloadedOperationsFailNotReady(t *testing.T) {
	s, _, _ := newFixture(t)
	ctx := context.Background()

	if _, err := s.PressInput(ctx, core.ButtonA, 5); !errors.Is(err, fault.ErrNotReady) {
		t.Fatalf("PressInput unloaded: got %v, want NotReady", err)
	}
	if _, err := s.Advance(ctx, 5); !errors.Is(err, fault.ErrNotReady) {
		t.Fatalf("Advance unloaded: got %v, want NotReady", err)
	}
	if _, err := s.ReadFrame(ctx); !errors.Is(err, fault.ErrNotReady) {
		t.Fatalf("ReadFrame unloaded: got %v, want NotReady", err)
	}
	if _, _, _, err := s.Export(ctx); !errors.Is(err, fault.ErrNotReady) {
		t.Fatalf("Export unloaded: got %v, want NotReady", err)
	}
	if _, err := s.ImportState(ctx, []byte("blob")); !errors.Is(err, fault.ErrNotReady) {
		t.Fatalf("ImportState unloaded: got %v, want NotReady", err)
	}

	// NotReady must stay distinguishable from NotFound.
	_, loadErr := s.LoadGame(ctx, "never-installed")
	if !errors.Is(loadErr, fault.ErrNotFound) {
		t.Fatalf("LoadGame on unknown title: got %v, want NotFound", loadErr)
	}
	if errors.Is(loadErr, fault.ErrNotReady) {
		t.Fatal("NotFound error also matches NotReady")
	}
}

func TestLoadGame(t *testing.T) {
	s, fake, lib := newFixture(t)
	ctx := context.Background()
	id := installFake(t, lib, "game.fake")

	frame, err := s.LoadGame(ctx, id)
	if err != nil {
		t.Fatalf("LoadGame: %v", err)
	}
	if len(frame.PNG) == 0 || frame.Width != coretest.Width || frame.Height != coretest.Height {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if frame.Tick != testWarmup {
		t.Fatalf("tick counter = %d after load, want %d", frame.Tick, testWarmup)
	}
	if !bytes.Equal(fake.Image, []byte{0xCA, 0xFE}) {
		t.Fatalf("console received image %v", fake.Image)
	}

	st, err := s.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Loaded || st.TitleID != id || st.Ticks != testWarmup || st.TickRate != 60 {
		t.Fatalf("Status = %+v", st)
	}
}

func TestLoadGame_ByPathInstallsOnTheFly(t *testing.T) {
	s, _, lib := newFixture(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "fresh.fake")
	if err := os.WriteFile(src, []byte{1}, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadGame(ctx, src); err != nil {
		t.Fatalf("LoadGame by path: %v", err)
	}
	if _, err := lib.Get("fresh"); err != nil {
		t.Fatalf("path load did not install the title: %v", err)
	}
}

func TestPressInputAdvancesExactly(t *testing.T) {
	s, fake, lib := newFixture(t)
	ctx := context.Background()
	id := installFake(t, lib, "game.fake")
	if _, err := s.LoadGame(ctx, id); err != nil {
		t.Fatal(err)
	}

	frame, err := s.PressInput(ctx, core.ButtonStart, 10)
	if err != nil {
		t.Fatalf("PressInput: %v", err)
	}
	if want := uint64(testWarmup + 11); frame.Tick != want {
		t.Fatalf("tick counter = %d, want %d", frame.Tick, want)
	}

	ticks, trace := fake.Snapshot()
	if ticks != testWarmup+11 {
		t.Fatalf("console ticked %d times, want %d", ticks, testWarmup+11)
	}
	// Warm-up ticks run unpressed, then the held run, then the release.
	for i := 0; i < testWarmup; i++ {
		if trace[i] != 0 {
			t.Fatalf("warm-up tick %d saw input %v", i, trace[i])
		}
	}
	for i := testWarmup; i < testWarmup+10; i++ {
		if trace[i] != core.ButtonStart {
			t.Fatalf("held tick %d saw input %v, want START", i, trace[i])
		}
	}
	if last := trace[testWarmup+10]; last != 0 {
		t.Fatalf("release tick saw input %v, want none", last)
	}
}

func TestAdvance(t *testing.T) {
	s, _, lib := newFixture(t)
	ctx := context.Background()
	id := installFake(t, lib, "game.fake")
	if _, err := s.LoadGame(ctx, id); err != nil {
		t.Fatal(err)
	}

	frame, err := s.Advance(ctx, 7)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if want := uint64(testWarmup + 7); frame.Tick != want {
		t.Fatalf("tick counter = %d, want %d", frame.Tick, want)
	}

	// Advance(0) renders without ticking.
	same, err := s.Advance(ctx, 0)
	if err != nil {
		t.Fatalf("Advance(0): %v", err)
	}
	if same.Tick != frame.Tick {
		t.Fatalf("Advance(0) moved the clock: %d -> %d", frame.Tick, same.Tick)
	}
	if !bytes.Equal(same.PNG, frame.PNG) {
		t.Fatal("Advance(0) changed the frame")
	}

	read, err := s.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(read.PNG, frame.PNG) {
		t.Fatal("ReadFrame changed the frame")
	}
}

func TestTickBounds(t *testing.T) {
	s, _, lib := newFixture(t)
	ctx := context.Background()
	id := installFake(t, lib, "game.fake")
	if _, err := s.LoadGame(ctx, id); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Advance(ctx, 51); err == nil {
		t.Fatal("Advance accepted a tick count over the limit")
	}
	if _, err := s.Advance(ctx, -1); err == nil {
		t.Fatal("Advance accepted a negative tick count")
	}
	if _, err := s.PressInput(ctx, core.ButtonA, 51); err == nil {
		t.Fatal("PressInput accepted a tick count over the limit")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, _, lib := newFixture(t)
	ctx := context.Background()
	id := installFake(t, lib, "game.fake")
	if _, err := s.LoadGame(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Advance(ctx, 9); err != nil {
		t.Fatal(err)
	}

	blob, saved, titleID, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if titleID != id {
		t.Fatalf("Export title = %q, want %q", titleID, id)
	}
	if len(blob) == 0 {
		t.Fatal("Export returned an empty blob")
	}

	if _, err := s.Advance(ctx, 5); err != nil {
		t.Fatal(err)
	}
	moved, err := s.ReadFrame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(moved.PNG, saved.PNG) {
		t.Fatal("frame did not change after advancing past the export")
	}

	restored, err := s.ImportState(ctx, blob)
	if err != nil {
		t.Fatalf("ImportState: %v", err)
	}
	if !bytes.Equal(restored.PNG, saved.PNG) {
		t.Fatal("restored frame is not byte-identical to the exported frame")
	}
}

func TestImportState_CorruptIsNonDestructive(t *testing.T) {
	s, _, lib := newFixture(t)
	ctx := context.Background()
	id := installFake(t, lib, "game.fake")
	if _, err := s.LoadGame(ctx, id); err != nil {
		t.Fatal(err)
	}
	before, err := s.Advance(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.ImportState(ctx, []byte("definitely not a state blob"))
	if !errors.Is(err, fault.ErrCorruptState) {
		t.Fatalf("corrupt import: got %v, want CorruptState", err)
	}

	after, err := s.ReadFrame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before.PNG, after.PNG) {
		t.Fatal("rejected import disturbed the running instance")
	}
}

func TestReloadDiscardsRunningInstance(t *testing.T) {
	lib, err := library.New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	var made []*coretest.Core
	core.Register(".fake", func() core.Console {
		c := coretest.New()
		made = append(made, c)
		return c
	})
	s := New(lib, WithWarmupTicks(testWarmup))
	t.Cleanup(s.Close)
	ctx := context.Background()

	id := installFake(t, lib, "game.fake")
	if _, err := s.LoadGame(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Advance(ctx, 10); err != nil {
		t.Fatal(err)
	}

	frame, err := s.LoadGame(ctx, id)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if frame.Tick != testWarmup {
		t.Fatalf("tick counter = %d after reload, want %d", frame.Tick, testWarmup)
	}
	if len(made) != 2 {
		t.Fatalf("%d consoles constructed, want a fresh one per load", len(made))
	}
}

func TestCommandsSerialize(t *testing.T) {
	s, fake, lib := newFixture(t)
	ctx := context.Background()
	id := installFake(t, lib, "game.fake")
	if _, err := s.LoadGame(ctx, id); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 10; n++ {
				if _, err := s.Advance(ctx, 1); err != nil {
					t.Errorf("Advance: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	ticks, _ := fake.Snapshot()
	if want := uint64(testWarmup + 40); ticks != want {
		t.Fatalf("console ticked %d times, want exactly %d", ticks, want)
	}
}

func TestClosedSession(t *testing.T) {
	s, _, _ := newFixture(t)
	s.Close()
	s.Close() // idempotent

	if _, err := s.Advance(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("Advance after Close: got %v, want ErrClosed", err)
	}
}
