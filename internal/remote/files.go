package remote

import (
	"context"
	"net/http"
	"net/url"
)

// UploadResult is the outcome of a remote file upload.
type UploadResult struct {
	FileID string
}

// uploadBody is the wire shape of an upload acknowledgement.
type uploadBody struct {
	FileID string `json:"file_id"`
}

// UploadFile attaches raw media bytes to a note. contentType is the sniffed
// MIME type; the server rejects mismatched payloads.
func (c *Client) UploadFile(ctx context.Context, noteID, filename, contentType string, data []byte) (*UploadResult, error) {
	path := "/v1/notes/" + url.PathEscape(noteID) + "/files?filename=" + url.QueryEscape(filename)
	req, err := c.newUploadRequest(ctx, path, contentType, data)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}

	var body uploadBody
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return &UploadResult{FileID: body.FileID}, nil
}
