package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jwei-lin/notecove/backend/internal/models"
)

// CreateResult is the outcome of a remote create.
type CreateResult struct {
	ServerID string
	Tag      string
	FolderID string
	Conflict *Conflict
}

// UpdateResult is the outcome of a remote content or rename update.
type UpdateResult struct {
	Tag      string
	Conflict *Conflict
}

// DeleteResult is the outcome of a remote delete.
type DeleteResult struct {
	Purged bool
}

// DetailsResult is the server's current view of a note.
type DetailsResult struct {
	ID       string
	FolderID string
	Title    string
	Content  string
	Tag      string
	Deleted  bool
}

// noteBody is the wire shape of a note resource.
type noteBody struct {
	ID       string `json:"id"`
	FolderID string `json:"folder_id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Tag      string `json:"tag"`
	Deleted  bool   `json:"deleted"`
}

// createNoteRequest carries a new note to the server. ClientRef is the
// provisional local ID so a replayed create is deduplicated server side.
type createNoteRequest struct {
	ClientRef string `json:"client_ref,omitempty"`
	FolderID  string `json:"folder_id,omitempty"`
	Title     string `json:"title"`
	Content   string `json:"content"`
}

// updateNoteRequest carries new content guarded by the last known tag.
type updateNoteRequest struct {
	FolderID string `json:"folder_id,omitempty"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	BaseTag  string `json:"base_tag,omitempty"`
}

// updateBody is the wire shape of an update acknowledgement.
type updateBody struct {
	Tag string `json:"tag"`
}

// deleteBody is the wire shape of a delete acknowledgement.
type deleteBody struct {
	Purged bool `json:"purged"`
}

// CreateNote publishes a locally created note. The server assigns the
// durable ID and initial version tag. clientRef must stay the same across
// replays of one create so the server can deduplicate it.
func (c *Client) CreateNote(ctx context.Context, note *models.Note, clientRef string) (*CreateResult, error) {
	payload := createNoteRequest{
		ClientRef: clientRef,
		FolderID:  note.FolderID,
		Title:     note.Title,
		Content:   note.Content,
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/v1/notes", payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return &CreateResult{Conflict: readConflict(resp)}, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}

	var body noteBody
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return &CreateResult{ServerID: body.ID, Tag: body.Tag, FolderID: body.FolderID}, nil
}

// UpdateNote uploads the note's current content guarded by baseTag. A tag
// rejection comes back as a Conflict result, not an error.
func (c *Client) UpdateNote(ctx context.Context, note *models.Note, baseTag string) (*UpdateResult, error) {
	payload := updateNoteRequest{
		FolderID: note.FolderID,
		Title:    note.Title,
		Content:  note.Content,
		BaseTag:  baseTag,
	}
	req, err := c.newJSONRequest(ctx, http.MethodPut, "/v1/notes/"+url.PathEscape(note.ID), payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return &UpdateResult{Conflict: readConflict(resp)}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var body updateBody
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return &UpdateResult{Tag: body.Tag}, nil
}

// DeleteNote removes a note on the server. purge skips the server trash.
func (c *Client) DeleteNote(ctx context.Context, id, baseTag string, purge bool) (*DeleteResult, error) {
	query := url.Values{}
	if baseTag != "" {
		query.Set("base_tag", baseTag)
	}
	if purge {
		query.Set("purge", "true")
	}
	path := "/v1/notes/" + url.PathEscape(id)
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	req, err := c.newJSONRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return &DeleteResult{Purged: purge}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var body deleteBody
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return &DeleteResult{Purged: body.Purged}, nil
}

// GetNote fetches the server's current view of a note, tag included.
func (c *Client) GetNote(ctx context.Context, id string) (*DetailsResult, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/v1/notes/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var body noteBody
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return &DetailsResult{
		ID:       body.ID,
		FolderID: body.FolderID,
		Title:    body.Title,
		Content:  body.Content,
		Tag:      body.Tag,
		Deleted:  body.Deleted,
	}, nil
}
