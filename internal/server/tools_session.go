package server

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// LoadGameInput carries the load_game arguments.
type LoadGameInput struct {
	Title string `json:"title" jsonschema:"installed title id, or a filesystem path to install and load in one step"`
}

// LoadGameResult carries the load_game output.
type LoadGameResult struct {
	TitleID string `json:"title_id" jsonschema:"id of the loaded title"`
	Tick    uint64 `json:"tick" jsonschema:"session tick counter after warm-up"`
	Width   int    `json:"width" jsonschema:"frame width in pixels"`
	Height  int    `json:"height" jsonschema:"frame height in pixels"`
}

func loadGameTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "load_game",
		Description: "Boots a title into the session, replacing whatever was running, and returns the first frame after warm-up. Unsaved progress of the previous game is discarded.",
	}
}

func (s *Server) loadGame(ctx context.Context, _ *mcp.CallToolRequest, in LoadGameInput) (*mcp.CallToolResult, LoadGameResult, error) {
	frame, err := s.sess.LoadGame(ctx, in.Title)
	if err != nil {
		return errResult(err), LoadGameResult{}, nil
	}
	st, err := s.sess.Status(ctx)
	if err != nil {
		return errResult(err), LoadGameResult{}, nil
	}
	out := LoadGameResult{
		TitleID: st.TitleID,
		Tick:    frame.Tick,
		Width:   frame.Width,
		Height:  frame.Height,
	}
	return frameContent(frame), out, nil
}

// PressInputInput carries the press_input arguments.
type PressInputInput struct {
	Button string `json:"button" jsonschema:"button name, or a + separated combination: A B SELECT START RIGHT LEFT UP DOWN"`
	Ticks  int    `json:"ticks,omitempty" jsonschema:"how many ticks to hold the button; one release tick always follows (default 5)"`
}

func pressInputTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "press_input",
		Description: "Holds a button (or combination) for a number of ticks, releases it for one tick, and returns the frame after the release.",
	}
}

func (s *Server) pressInput(ctx context.Context, _ *mcp.CallToolRequest, in PressInputInput) (*mcp.CallToolResult, FrameResult, error) {
	mask, err := parseButtons(in.Button)
	if err != nil {
		return errResult(err), FrameResult{}, nil
	}
	ticks := in.Ticks
	if ticks <= 0 {
		ticks = defaultPressTicks
	}
	frame, err := s.sess.PressInput(ctx, mask, ticks)
	if err != nil {
		return errResult(err), FrameResult{}, nil
	}
	return frameContent(frame), frameResult(frame), nil
}

// AdvanceInput carries the advance arguments.
type AdvanceInput struct {
	Ticks *int `json:"ticks,omitempty" jsonschema:"simulation ticks to run without input; 0 renders the current frame without advancing (default 1)"`
}

func advanceTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "advance",
		Description: "Runs the simulation forward with no input held and returns the resulting frame.",
	}
}

func (s *Server) advance(ctx context.Context, _ *mcp.CallToolRequest, in AdvanceInput) (*mcp.CallToolResult, FrameResult, error) {
	ticks := 1
	if in.Ticks != nil {
		ticks = *in.Ticks
	}
	frame, err := s.sess.Advance(ctx, ticks)
	if err != nil {
		return errResult(err), FrameResult{}, nil
	}
	return frameContent(frame), frameResult(frame), nil
}

func readFrameTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "read_frame",
		Description: "Returns the current frame without advancing the simulation.",
	}
}

func (s *Server) readFrame(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, FrameResult, error) {
	frame, err := s.sess.ReadFrame(ctx)
	if err != nil {
		return errResult(err), FrameResult{}, nil
	}
	return frameContent(frame), frameResult(frame), nil
}

// IsLoadedResult carries the is_loaded output.
type IsLoadedResult struct {
	Loaded    bool   `json:"loaded" jsonschema:"whether a game is running"`
	TitleID   string `json:"title_id,omitempty" jsonschema:"id of the running title"`
	Tick      uint64 `json:"tick" jsonschema:"session tick counter"`
	TickRate  int    `json:"tick_rate,omitempty" jsonschema:"native simulation ticks per second"`
	Streaming bool   `json:"streaming" jsonschema:"whether the live stream clock is running"`
	Viewers   int    `json:"viewers" jsonschema:"attached stream subscribers"`
}

func isLoadedTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "is_loaded",
		Description: "Reports the session status: running title, tick counter and stream state.",
	}
}

func (s *Server) isLoaded(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, IsLoadedResult, error) {
	st, err := s.sess.Status(ctx)
	if err != nil {
		return errResult(err), IsLoadedResult{}, nil
	}
	out := IsLoadedResult{
		Loaded:    st.Loaded,
		TitleID:   st.TitleID,
		Tick:      st.Ticks,
		TickRate:  st.TickRate,
		Streaming: s.cast.Running(),
		Viewers:   s.cast.Subscribers(),
	}
	return nil, out, nil
}
