package server

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// StreamStatusResult carries the start_stream/stop_stream output.
type StreamStatusResult struct {
	Streaming bool   `json:"streaming" jsonschema:"whether the stream clock is running"`
	URL       string `json:"url,omitempty" jsonschema:"viewer page address"`
	FPS       int    `json:"fps,omitempty" jsonschema:"delivered frames per second"`
	Viewers   int    `json:"viewers" jsonschema:"attached stream subscribers"`
}

func startStreamTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "start_stream",
		Description: "Starts the live stream clock: the session advances in wall time and frames fan out to every viewer of the stream page. Idempotent.",
	}
}

func (s *Server) startStream(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, StreamStatusResult, error) {
	s.cast.Start()
	out := StreamStatusResult{
		Streaming: true,
		URL:       s.streamURL,
		FPS:       s.cast.TargetFPS(),
		Viewers:   s.cast.Subscribers(),
	}
	return nil, out, nil
}

func stopStreamTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "stop_stream",
		Description: "Stops the live stream clock and disconnects every viewer. The session itself keeps its state. Idempotent.",
	}
}

func (s *Server) stopStream(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, StreamStatusResult, error) {
	s.cast.Stop()
	return nil, StreamStatusResult{Streaming: false}, nil
}
