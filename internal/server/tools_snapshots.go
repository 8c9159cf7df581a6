package server

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/thelolagemann/gameport/internal/fault"
	"github.com/thelolagemann/gameport/internal/snapshot"
)

// SnapshotInfo is the tool-facing view of a stored snapshot.
type SnapshotInfo struct {
	ID        string `json:"id" jsonschema:"snapshot identifier"`
	Name      string `json:"name" jsonschema:"display name"`
	TitleID   string `json:"title_id" jsonschema:"title the snapshot belongs to"`
	CreatedAt string `json:"created_at" jsonschema:"RFC3339 timestamp of the save"`
}

func snapshotInfo(m snapshot.Meta) SnapshotInfo {
	return SnapshotInfo{
		ID:        m.ID,
		Name:      m.Name,
		TitleID:   m.TitleID,
		CreatedAt: m.Timestamp.Format(time.RFC3339),
	}
}

// SaveStateInput carries the save_state arguments.
type SaveStateInput struct {
	Name string `json:"name,omitempty" jsonschema:"optional display name, defaults to the save timestamp"`
}

func saveStateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "save_state",
		Description: "Captures the running game's state as a snapshot of the loaded title and returns its id plus a thumbnail of the frame at capture time.",
	}
}

func (s *Server) saveState(ctx context.Context, _ *mcp.CallToolRequest, in SaveStateInput) (*mcp.CallToolResult, SnapshotInfo, error) {
	blob, frame, titleID, err := s.sess.Export(ctx)
	if err != nil {
		return errResult(err), SnapshotInfo{}, nil
	}
	meta, err := s.snaps.Save(titleID, in.Name, blob, frame.PNG)
	if err != nil {
		return errResult(err), SnapshotInfo{}, nil
	}
	var res *mcp.CallToolResult
	if len(meta.Thumbnail) > 0 {
		res = &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.ImageContent{Data: meta.Thumbnail, MIMEType: "image/png"},
			},
		}
	}
	return res, snapshotInfo(meta), nil
}

// LoadStateInput carries the load_state arguments.
type LoadStateInput struct {
	SnapshotID string `json:"snapshot_id" jsonschema:"snapshot to restore"`
	Title      string `json:"title,omitempty" jsonschema:"owning title id; every title is scanned when omitted"`
}

// LoadStateResult carries the load_state output.
type LoadStateResult struct {
	SnapshotID string `json:"snapshot_id" jsonschema:"restored snapshot"`
	TitleID    string `json:"title_id" jsonschema:"title now running"`
	Tick       uint64 `json:"tick" jsonschema:"session tick counter after the restore"`
	Width      int    `json:"width" jsonschema:"frame width in pixels"`
	Height     int    `json:"height" jsonschema:"frame height in pixels"`
}

func loadStateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "load_state",
		Description: "Restores a snapshot into the session, booting its owning title first when a different game (or none) is running. Returns the restored frame.",
	}
}

func (s *Server) loadState(ctx context.Context, _ *mcp.CallToolRequest, in LoadStateInput) (*mcp.CallToolResult, LoadStateResult, error) {
	titleID := in.Title
	if titleID == "" {
		meta, err := s.snaps.Find(in.SnapshotID)
		if err != nil {
			return errResult(err), LoadStateResult{}, nil
		}
		titleID = meta.TitleID
	}
	blob, meta, err := s.snaps.Load(titleID, in.SnapshotID)
	if err != nil {
		return errResult(err), LoadStateResult{}, nil
	}

	st, err := s.sess.Status(ctx)
	if err != nil {
		return errResult(err), LoadStateResult{}, nil
	}
	if !st.Loaded || st.TitleID != meta.TitleID {
		if _, err := s.sess.LoadGame(ctx, meta.TitleID); err != nil {
			return errResult(err), LoadStateResult{}, nil
		}
	}

	frame, err := s.sess.ImportState(ctx, blob)
	if err != nil {
		return errResult(err), LoadStateResult{}, nil
	}
	out := LoadStateResult{
		SnapshotID: meta.ID,
		TitleID:    meta.TitleID,
		Tick:       frame.Tick,
		Width:      frame.Width,
		Height:     frame.Height,
	}
	return frameContent(frame), out, nil
}

// ListStatesInput carries the list_states arguments.
type ListStatesInput struct {
	Title string `json:"title,omitempty" jsonschema:"title id to list snapshots for; defaults to the loaded title"`
}

// ListStatesResult carries the list_states output.
type ListStatesResult struct {
	States []SnapshotInfo `json:"states" jsonschema:"snapshots, newest first"`
	Count  int            `json:"count" jsonschema:"number of snapshots"`
}

func listStatesTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_states",
		Description: "Lists the snapshots of a title, newest first. Thumbnails are not included; load_state or save_state return them.",
	}
}

func (s *Server) listStates(ctx context.Context, _ *mcp.CallToolRequest, in ListStatesInput) (*mcp.CallToolResult, ListStatesResult, error) {
	titleID := in.Title
	if titleID == "" {
		st, err := s.sess.Status(ctx)
		if err != nil {
			return errResult(err), ListStatesResult{}, nil
		}
		if !st.Loaded {
			return errResult(fault.NotReadyf("list_states without a title argument")), ListStatesResult{}, nil
		}
		titleID = st.TitleID
	}
	metas, err := s.snaps.List(titleID)
	if err != nil {
		return errResult(err), ListStatesResult{}, nil
	}
	out := ListStatesResult{States: make([]SnapshotInfo, 0, len(metas)), Count: len(metas)}
	for _, m := range metas {
		out.States = append(out.States, snapshotInfo(m))
	}
	return nil, out, nil
}

// DeleteStateInput carries the delete_state arguments.
type DeleteStateInput struct {
	SnapshotID string `json:"snapshot_id" jsonschema:"snapshot to delete"`
	Title      string `json:"title,omitempty" jsonschema:"owning title id; every title is scanned when omitted"`
}

// DeleteStateResult carries the delete_state output.
type DeleteStateResult struct {
	Deleted bool `json:"deleted" jsonschema:"true when the snapshot existed and was removed"`
}

func deleteStateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "delete_state",
		Description: "Deletes a snapshot. Deleting an unknown snapshot reports deleted: false rather than failing.",
	}
}

func (s *Server) deleteState(_ context.Context, _ *mcp.CallToolRequest, in DeleteStateInput) (*mcp.CallToolResult, DeleteStateResult, error) {
	titleID := in.Title
	if titleID == "" {
		meta, err := s.snaps.Find(in.SnapshotID)
		if errors.Is(err, fault.ErrNotFound) {
			return nil, DeleteStateResult{Deleted: false}, nil
		}
		if err != nil {
			return errResult(err), DeleteStateResult{}, nil
		}
		titleID = meta.TitleID
	}
	deleted, err := s.snaps.Delete(titleID, in.SnapshotID)
	if err != nil {
		return errResult(err), DeleteStateResult{}, nil
	}
	return nil, DeleteStateResult{Deleted: deleted}, nil
}
