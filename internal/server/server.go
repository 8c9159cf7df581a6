// Package server exposes the console service as MCP tools, one tool per
// agent-facing command. Handlers translate between tool arguments and the
// library/session/snapshot/stream components and map component failures to
// machine-readable error tokens.
package server

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/thelolagemann/gameport/internal/core"
	"github.com/thelolagemann/gameport/internal/fault"
	"github.com/thelolagemann/gameport/internal/library"
	"github.com/thelolagemann/gameport/internal/session"
	"github.com/thelolagemann/gameport/internal/snapshot"
	"github.com/thelolagemann/gameport/internal/stream"
)

// defaultPressTicks is how long press_input holds a button when the caller
// does not say.
const defaultPressTicks = 5

// Server wires the MCP tool surface to the service components.
type Server struct {
	lib       *library.Library
	snaps     *snapshot.Store
	sess      *session.Session
	cast      *stream.Broadcaster
	streamURL string
	log       *slog.Logger
}

// New returns a tool server over the given components. streamURL is the
// externally reachable viewer page, reported by start_stream.
func New(lib *library.Library, snaps *snapshot.Store, sess *session.Session, cast *stream.Broadcaster, streamURL string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		lib:       lib,
		snaps:     snaps,
		sess:      sess,
		cast:      cast,
		streamURL: streamURL,
		log:       log,
	}
}

// RegisterMCP registers every tool on srv.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	mcp.AddTool(srv, installTitleTool(), s.installTitle)
	mcp.AddTool(srv, listTitlesTool(), s.listTitles)
	mcp.AddTool(srv, loadGameTool(), s.loadGame)
	mcp.AddTool(srv, pressInputTool(), s.pressInput)
	mcp.AddTool(srv, advanceTool(), s.advance)
	mcp.AddTool(srv, readFrameTool(), s.readFrame)
	mcp.AddTool(srv, isLoadedTool(), s.isLoaded)
	mcp.AddTool(srv, startStreamTool(), s.startStream)
	mcp.AddTool(srv, stopStreamTool(), s.stopStream)
	mcp.AddTool(srv, saveStateTool(), s.saveState)
	mcp.AddTool(srv, loadStateTool(), s.loadState)
	mcp.AddTool(srv, listStatesTool(), s.listStates)
	mcp.AddTool(srv, deleteStateTool(), s.deleteState)
}

// FrameResult is the structured half of every frame-returning tool; the
// image itself travels as PNG content alongside.
type FrameResult struct {
	Tick   uint64 `json:"tick" jsonschema:"session tick counter at render time"`
	Width  int    `json:"width" jsonschema:"frame width in pixels"`
	Height int    `json:"height" jsonschema:"frame height in pixels"`
}

func frameResult(f session.Frame) FrameResult {
	return FrameResult{Tick: f.Tick, Width: f.Width, Height: f.Height}
}

func frameContent(f session.Frame) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.ImageContent{Data: f.PNG, MIMEType: "image/png"},
		},
	}
}

// errResult reports err as a tool error. The fault kind token prefixes the
// message so agents can branch on the failure class without parsing prose.
func errResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(fault.KindOf(err)) + ": " + err.Error()},
		},
	}
}

// parseButtons turns "A", "start" or "A+UP" into a pad mask.
func parseButtons(spec string) (core.Buttons, error) {
	var mask core.Buttons
	parts := strings.FieldsFunc(spec, func(r rune) bool { return r == '+' || r == ',' })
	if len(parts) == 0 {
		return 0, fmt.Errorf("no button named")
	}
	for _, part := range parts {
		b, err := core.ParseButton(part)
		if err != nil {
			return 0, err
		}
		mask |= b
	}
	return mask, nil
}
