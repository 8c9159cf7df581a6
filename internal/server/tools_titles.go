package server

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/thelolagemann/gameport/internal/library"
)

// TitleInfo is the tool-facing view of an installed title.
type TitleInfo struct {
	ID          string `json:"id" jsonschema:"stable title identifier, derived from the source file name"`
	Name        string `json:"name" jsonschema:"display name"`
	InstalledAt string `json:"installed_at" jsonschema:"RFC3339 timestamp of the install"`
}

func titleInfo(t library.Title) TitleInfo {
	return TitleInfo{
		ID:          t.ID,
		Name:        t.Name,
		InstalledAt: t.InstalledAt.Format(time.RFC3339),
	}
}

// InstallTitleInput carries the install_title arguments.
type InstallTitleInput struct {
	Path string `json:"path" jsonschema:"filesystem path of the game image; zip, 7z and gzip archives are unpacked"`
	Name string `json:"name,omitempty" jsonschema:"optional display name, defaults to the file name"`
}

func installTitleTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "install_title",
		Description: "Copies a game image from a filesystem path into the library and returns its title id. Re-installing an unchanged source is a no-op.",
	}
}

func (s *Server) installTitle(_ context.Context, _ *mcp.CallToolRequest, in InstallTitleInput) (*mcp.CallToolResult, TitleInfo, error) {
	title, err := s.lib.Install(in.Path, in.Name)
	if err != nil {
		return errResult(err), TitleInfo{}, nil
	}
	return nil, titleInfo(title), nil
}

// ListTitlesResult carries the list_titles output.
type ListTitlesResult struct {
	Titles []TitleInfo `json:"titles" jsonschema:"installed titles, newest install first"`
	Count  int         `json:"count" jsonschema:"number of installed titles"`
}

func listTitlesTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_titles",
		Description: "Lists every installed title with its id, display name and install time.",
	}
}

func (s *Server) listTitles(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, ListTitlesResult, error) {
	titles, err := s.lib.List()
	if err != nil {
		return errResult(err), ListTitlesResult{}, nil
	}
	out := ListTitlesResult{Titles: make([]TitleInfo, 0, len(titles)), Count: len(titles)}
	for _, t := range titles {
		out.Titles = append(out.Titles, titleInfo(t))
	}
	return nil, out, nil
}
