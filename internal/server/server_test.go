package server

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/thelolagemann/gameport/internal/core"
	"github.com/thelolagemann/gameport/internal/core/coretest"
	"github.com/thelolagemann/gameport/internal/library"
	"github.com/thelolagemann/gameport/internal/session"
	"github.com/thelolagemann/gameport/internal/snapshot"
	"github.com/thelolagemann/gameport/internal/stream"
)

const (
	testWarmup = 3
	testURL    = "http://127.0.0.1:8090/stream"
)

func newFixture(t *testing.T) (*Server, *coretest.Core, *library.Library) {
	t.Helper()
	lib, err := library.New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	fake := coretest.New()
	core.Register(".fake", func() core.Console { return fake })

	sess := session.New(lib, session.WithWarmupTicks(testWarmup), session.WithMaxTicksPerCommand(100))
	t.Cleanup(sess.Close)
	snaps := snapshot.New(lib, nil)
	cast := stream.New(sess, 30, nil)
	t.Cleanup(cast.Stop)

	return New(lib, snaps, sess, cast, testURL, nil), fake, lib
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

// ok fails the test on a handler error or a tool-level error result.
func ok(t *testing.T, res *mcp.CallToolResult, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
	if res != nil && res.IsError {
		t.Fatalf("unexpected tool error: %v", res.Content)
	}
}

// errToken asserts res is a tool error and returns its kind token prefix.
func errToken(t *testing.T, res *mcp.CallToolResult, err error) string {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || !res.IsError {
		t.Fatal("expected a tool error result")
	}
	txt, isText := res.Content[0].(*mcp.TextContent)
	if !isText {
		t.Fatalf("error content is %T, want text", res.Content[0])
	}
	token, _, found := strings.Cut(txt.Text, ":")
	if !found {
		t.Fatalf("error text %q carries no kind token", txt.Text)
	}
	return token
}

// imagePayload extracts the PNG bytes of the result's image content.
func imagePayload(t *testing.T, res *mcp.CallToolResult) []byte {
	t.Helper()
	if res == nil {
		t.Fatal("nil result, expected image content")
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %v", res.Content)
	}
	for _, c := range res.Content {
		img, isImage := c.(*mcp.ImageContent)
		if !isImage {
			continue
		}
		if img.MIMEType != "image/png" {
			t.Fatalf("image MIME type = %q, want image/png", img.MIMEType)
		}
		if _, err := png.DecodeConfig(bytes.NewReader(img.Data)); err != nil {
			t.Fatalf("image content is not a PNG: %v", err)
		}
		return img.Data
	}
	t.Fatal("result carries no image content")
	return nil
}

func TestInstallAndListTitles(t *testing.T) {
	srv, _, _ := newFixture(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "pong.fake")
	if err := os.WriteFile(src, []byte{0x01}, 0644); err != nil {
		t.Fatal(err)
	}

	res, out, err := srv.installTitle(ctx, nil, InstallTitleInput{Path: src})
	ok(t, res, err)
	if out.ID != "pong" || out.Name != "pong" {
		t.Fatalf("installed title = %q/%q, want pong/pong", out.ID, out.Name)
	}
	if _, err := time.Parse(time.RFC3339, out.InstalledAt); err != nil {
		t.Fatalf("installed_at %q is not RFC3339: %v", out.InstalledAt, err)
	}

	res, named, err := srv.installTitle(ctx, nil, InstallTitleInput{Path: src, Name: "Pong Classic"})
	ok(t, res, err)
	if named.Name != "Pong Classic" {
		t.Fatalf("renamed install = %q, want Pong Classic", named.Name)
	}

	lres, list, err := srv.listTitles(ctx, nil, struct{}{})
	ok(t, lres, err)
	if list.Count != 1 || len(list.Titles) != 1 {
		t.Fatalf("list count = %d (%d entries), want 1", list.Count, len(list.Titles))
	}
	if list.Titles[0].ID != "pong" {
		t.Fatalf("listed title = %q, want pong", list.Titles[0].ID)
	}

	mres, _, err := srv.installTitle(ctx, nil, InstallTitleInput{Path: filepath.Join(t.TempDir(), "ghost.fake")})
	if token := errToken(t, mres, err); token != "NOT_FOUND" {
		t.Fatalf("missing source token = %q, want NOT_FOUND", token)
	}
}

func TestLoadGameReturnsWarmupFrame(t *testing.T) {
	srv, _, lib := newFixture(t)
	ctx := context.Background()
	installFake(t, lib, "pong.fake")

	res, out, err := srv.loadGame(ctx, nil, LoadGameInput{Title: "pong"})
	ok(t, res, err)
	if out.TitleID != "pong" {
		t.Fatalf("title_id = %q, want pong", out.TitleID)
	}
	if out.Tick != testWarmup {
		t.Fatalf("tick after load = %d, want %d", out.Tick, testWarmup)
	}
	if out.Width != coretest.Width || out.Height != coretest.Height {
		t.Fatalf("frame = %dx%d, want %dx%d", out.Width, out.Height, coretest.Width, coretest.Height)
	}
	imagePayload(t, res)
}

func TestSessionToolsRequireLoad(t *testing.T) {
	srv, _, _ := newFixture(t)
	ctx := context.Background()

	res, _, err := srv.pressInput(ctx, nil, PressInputInput{Button: "A"})
	if token := errToken(t, res, err); token != "NOT_READY" {
		t.Fatalf("press_input token = %q, want NOT_READY", token)
	}
	res, _, err = srv.advance(ctx, nil, AdvanceInput{})
	if token := errToken(t, res, err); token != "NOT_READY" {
		t.Fatalf("advance token = %q, want NOT_READY", token)
	}
	res, _, err = srv.readFrame(ctx, nil, struct{}{})
	if token := errToken(t, res, err); token != "NOT_READY" {
		t.Fatalf("read_frame token = %q, want NOT_READY", token)
	}
	res, _, err = srv.saveState(ctx, nil, SaveStateInput{})
	if token := errToken(t, res, err); token != "NOT_READY" {
		t.Fatalf("save_state token = %q, want NOT_READY", token)
	}
	res, _, err = srv.listStates(ctx, nil, ListStatesInput{})
	if token := errToken(t, res, err); token != "NOT_READY" {
		t.Fatalf("list_states token = %q, want NOT_READY", token)
	}

	res, _, err = srv.loadGame(ctx, nil, LoadGameInput{Title: "never-installed"})
	if token := errToken(t, res, err); token != "NOT_FOUND" {
		t.Fatalf("load_game token = %q, want NOT_FOUND", token)
	}
	res, _, err = srv.loadState(ctx, nil, LoadStateInput{SnapshotID: "zzz"})
	if token := errToken(t, res, err); token != "NOT_FOUND" {
		t.Fatalf("load_state token = %q, want NOT_FOUND", token)
	}
}

func TestPressInputHoldAndRelease(t *testing.T) {
	srv, fake, lib := newFixture(t)
	ctx := context.Background()
	installFake(t, lib, "pong.fake")
	res, _, err := srv.loadGame(ctx, nil, LoadGameInput{Title: "pong"})
	ok(t, res, err)

	res, out, err := srv.pressInput(ctx, nil, PressInputInput{Button: "a+up", Ticks: 3})
	ok(t, res, err)
	if out.Tick != testWarmup+4 {
		t.Fatalf("tick after press = %d, want %d", out.Tick, testWarmup+4)
	}
	_, trace := fake.Snapshot()
	want := core.ButtonA | core.ButtonUp
	for i := testWarmup; i < testWarmup+3; i++ {
		if trace[i] != want {
			t.Fatalf("tick %d held %v, want %v", i, trace[i], want)
		}
	}
	if last := trace[len(trace)-1]; last != 0 {
		t.Fatalf("release tick held %v, want none", last)
	}

	// omitted duration holds for the default
	res, out, err = srv.pressInput(ctx, nil, PressInputInput{Button: "START"})
	ok(t, res, err)
	if out.Tick != testWarmup+4+defaultPressTicks+1 {
		t.Fatalf("tick after default press = %d, want %d", out.Tick, testWarmup+4+defaultPressTicks+1)
	}

	res, _, err = srv.pressInput(ctx, nil, PressInputInput{Button: "bogus"})
	if token := errToken(t, res, err); token != "UNKNOWN" {
		t.Fatalf("bad button token = %q, want UNKNOWN", token)
	}
}

func TestAdvanceDefaultsAndBounds(t *testing.T) {
	srv, _, lib := newFixture(t)
	ctx := context.Background()
	installFake(t, lib, "pong.fake")
	res, _, err := srv.loadGame(ctx, nil, LoadGameInput{Title: "pong"})
	ok(t, res, err)

	res, out, err := srv.advance(ctx, nil, AdvanceInput{})
	ok(t, res, err)
	if out.Tick != testWarmup+1 {
		t.Fatalf("tick after default advance = %d, want %d", out.Tick, testWarmup+1)
	}

	zero := 0
	res, out, err = srv.advance(ctx, nil, AdvanceInput{Ticks: &zero})
	ok(t, res, err)
	if out.Tick != testWarmup+1 {
		t.Fatalf("tick after advance 0 = %d, want unchanged %d", out.Tick, testWarmup+1)
	}

	seven := 7
	res, out, err = srv.advance(ctx, nil, AdvanceInput{Ticks: &seven})
	ok(t, res, err)
	if out.Tick != testWarmup+8 {
		t.Fatalf("tick after advance 7 = %d, want %d", out.Tick, testWarmup+8)
	}

	negative := -1
	res, _, err = srv.advance(ctx, nil, AdvanceInput{Ticks: &negative})
	if token := errToken(t, res, err); token != "UNKNOWN" {
		t.Fatalf("negative ticks token = %q, want UNKNOWN", token)
	}

	rres, rout, err := srv.readFrame(ctx, nil, struct{}{})
	ok(t, rres, err)
	if rout.Tick != testWarmup+8 {
		t.Fatalf("read_frame tick = %d, want %d", rout.Tick, testWarmup+8)
	}
	imagePayload(t, rres)
}

func TestSaveLoadListDeleteState(t *testing.T) {
	srv, _, lib := newFixture(t)
	ctx := context.Background()
	installFake(t, lib, "pong.fake")
	res, _, err := srv.loadGame(ctx, nil, LoadGameInput{Title: "pong"})
	ok(t, res, err)

	five := 5
	res, _, err = srv.advance(ctx, nil, AdvanceInput{Ticks: &five})
	ok(t, res, err)
	fres, _, err := srv.readFrame(ctx, nil, struct{}{})
	ok(t, fres, err)
	savedFrame := imagePayload(t, fres)

	sres, saved, err := srv.saveState(ctx, nil, SaveStateInput{Name: "before boss"})
	ok(t, sres, err)
	if len(saved.ID) != 26 {
		t.Fatalf("snapshot id %q has length %d, want 26", saved.ID, len(saved.ID))
	}
	if saved.TitleID != "pong" || saved.Name != "before boss" {
		t.Fatalf("snapshot meta = %q/%q, want pong/before boss", saved.TitleID, saved.Name)
	}
	imagePayload(t, sres) // thumbnail

	res, _, err = srv.advance(ctx, nil, AdvanceInput{Ticks: &five})
	ok(t, res, err)

	lres, restored, err := srv.loadState(ctx, nil, LoadStateInput{SnapshotID: saved.ID})
	ok(t, lres, err)
	if restored.TitleID != "pong" || restored.SnapshotID != saved.ID {
		t.Fatalf("restore = %q/%q, want pong/%s", restored.TitleID, restored.SnapshotID, saved.ID)
	}
	if got := imagePayload(t, lres); !bytes.Equal(got, savedFrame) {
		t.Fatal("restored frame differs from the frame at save time")
	}

	listRes, list, err := srv.listStates(ctx, nil, ListStatesInput{})
	ok(t, listRes, err)
	if list.Count != 1 || len(list.States) != 1 {
		t.Fatalf("list_states = %d entries, want 1", list.Count)
	}
	if list.States[0].ID != saved.ID {
		t.Fatalf("listed snapshot = %q, want %q", list.States[0].ID, saved.ID)
	}

	dres, del, err := srv.deleteState(ctx, nil, DeleteStateInput{SnapshotID: saved.ID})
	ok(t, dres, err)
	if !del.Deleted {
		t.Fatal("delete_state reported deleted=false for an existing snapshot")
	}
	dres, del, err = srv.deleteState(ctx, nil, DeleteStateInput{SnapshotID: saved.ID})
	ok(t, dres, err)
	if del.Deleted {
		t.Fatal("second delete_state reported deleted=true")
	}
}

func TestLoadStateBootsOwningTitle(t *testing.T) {
	srv, _, lib := newFixture(t)
	ctx := context.Background()
	installFake(t, lib, "pong.fake")
	installFake(t, lib, "breakout.fake")

	res, _, err := srv.loadGame(ctx, nil, LoadGameInput{Title: "pong"})
	ok(t, res, err)
	four := 4
	res, _, err = srv.advance(ctx, nil, AdvanceInput{Ticks: &four})
	ok(t, res, err)
	fres, _, err := srv.readFrame(ctx, nil, struct{}{})
	ok(t, fres, err)
	savedFrame := imagePayload(t, fres)

	sres, saved, err := srv.saveState(ctx, nil, SaveStateInput{})
	ok(t, sres, err)

	res, _, err = srv.loadGame(ctx, nil, LoadGameInput{Title: "breakout"})
	ok(t, res, err)
	ires, status, err := srv.isLoaded(ctx, nil, struct{}{})
	ok(t, ires, err)
	if status.TitleID != "breakout" {
		t.Fatalf("running title = %q, want breakout", status.TitleID)
	}

	lres, restored, err := srv.loadState(ctx, nil, LoadStateInput{SnapshotID: saved.ID})
	ok(t, lres, err)
	if restored.TitleID != "pong" {
		t.Fatalf("restore booted %q, want pong", restored.TitleID)
	}
	if got := imagePayload(t, lres); !bytes.Equal(got, savedFrame) {
		t.Fatal("restored frame differs from the frame at save time")
	}

	ires, status, err = srv.isLoaded(ctx, nil, struct{}{})
	ok(t, ires, err)
	if status.TitleID != "pong" {
		t.Fatalf("running title after restore = %q, want pong", status.TitleID)
	}
}

func TestStreamTools(t *testing.T) {
	srv, _, _ := newFixture(t)
	ctx := context.Background()

	res, status, err := srv.isLoaded(ctx, nil, struct{}{})
	ok(t, res, err)
	if status.Loaded || status.Streaming {
		t.Fatalf("fresh status = %+v, want unloaded and not streaming", status)
	}

	sres, started, err := srv.startStream(ctx, nil, struct{}{})
	ok(t, sres, err)
	if !started.Streaming || started.URL != testURL || started.FPS != 30 {
		t.Fatalf("start_stream = %+v, want streaming at %s, 30fps", started, testURL)
	}

	res, status, err = srv.isLoaded(ctx, nil, struct{}{})
	ok(t, res, err)
	if !status.Streaming {
		t.Fatal("is_loaded does not report the running stream")
	}

	// idempotent
	sres, _, err = srv.startStream(ctx, nil, struct{}{})
	ok(t, sres, err)

	xres, stopped, err := srv.stopStream(ctx, nil, struct{}{})
	ok(t, xres, err)
	if stopped.Streaming {
		t.Fatal("stop_stream reports streaming=true")
	}
	res, status, err = srv.isLoaded(ctx, nil, struct{}{})
	ok(t, res, err)
	if status.Streaming {
		t.Fatal("is_loaded reports streaming after stop")
	}
}
