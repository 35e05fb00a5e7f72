package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jwei-lin/notecove/backend/internal/models"
)

// folderBody is the wire shape of a folder resource.
type folderBody struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

// createFolderRequest carries a new folder to the server.
type createFolderRequest struct {
	ClientRef string `json:"client_ref,omitempty"`
	Name      string `json:"name"`
}

// renameFolderRequest carries a rename guarded by the last known tag.
type renameFolderRequest struct {
	Name    string `json:"name"`
	BaseTag string `json:"base_tag,omitempty"`
}

// CreateFolder publishes a locally created folder. The server assigns the
// durable ID and initial version tag. clientRef must stay the same across
// replays of one create so the server can deduplicate it.
func (c *Client) CreateFolder(ctx context.Context, folder *models.Folder, clientRef string) (*CreateResult, error) {
	payload := createFolderRequest{
		ClientRef: clientRef,
		Name:      folder.Name,
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/v1/folders", payload)
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

	var body folderBody
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return &CreateResult{ServerID: body.ID, Tag: body.Tag}, nil
}

// RenameFolder updates a folder's name guarded by baseTag. A tag rejection
// comes back as a Conflict result, not an error.
func (c *Client) RenameFolder(ctx context.Context, folder *models.Folder, baseTag string) (*UpdateResult, error) {
	payload := renameFolderRequest{
		Name:    folder.Name,
		BaseTag: baseTag,
	}
	req, err := c.newJSONRequest(ctx, http.MethodPut, "/v1/folders/"+url.PathEscape(folder.ID), payload)
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

// DeleteFolder removes a folder on the server. Contained notes move to the
// server's default folder; deleting them is a separate operation.
func (c *Client) DeleteFolder(ctx context.Context, id, baseTag string) (*DeleteResult, error) {
	path := "/v1/folders/" + url.PathEscape(id)
	if baseTag != "" {
		path += "?base_tag=" + url.QueryEscape(baseTag)
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
		return &DeleteResult{}, nil
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
