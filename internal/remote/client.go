// Package remote implements the HTTP client for the NoteCove cloud API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/jwei-lin/notecove/backend/internal/errors"
)

// maxErrorBody bounds how much of an error response is read for messages.
const maxErrorBody = 4096

// Config holds cloud service connection configuration.
type Config struct {
	BaseURL   string
	AuthToken string
	UserID    string
	DeviceID  string
}

// Client is the typed HTTP client for the notes service. The base URL,
// token, and device identity can be swapped at runtime when the user
// reconfigures the account.
type Client struct {
	httpClient *http.Client

	mu        sync.RWMutex
	baseURL   string
	authToken string
	deviceID  string
}

// Conflict reports a version tag rejection. ServerTag carries the tag the
// server currently holds when the response discloses it.
type Conflict struct {
	ServerTag string
}

// errorBody is the service's error response shape.
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ServerTag string `json:"server_tag,omitempty"`
}

// NewClient creates a new Client.
func NewClient(config *Config) *Client {
	return &Client{
		baseURL:   config.BaseURL,
		authToken: config.AuthToken,
		deviceID:  config.DeviceID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: false,
			},
		},
	}
}

// SetAuthToken replaces the session token after a re-authentication.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()
}

// SetBaseURL repoints the client at a different service instance.
func (c *Client) SetBaseURL(url string) {
	c.mu.Lock()
	c.baseURL = url
	c.mu.Unlock()
}

// SetDeviceID replaces the device identity sent with every request.
func (c *Client) SetDeviceID(id string) {
	c.mu.Lock()
	c.deviceID = id
	c.mu.Unlock()
}

// TestConnection verifies the service is reachable with the current token.
func (c *Client) TestConnection(ctx context.Context) error {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/v1/ping", nil)
	if err != nil {
		return err
	}

	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// endpoint joins the configured base URL with a request path.
func (c *Client) endpoint(path string) string {
	c.mu.RLock()
	base := c.baseURL
	c.mu.RUnlock()
	return strings.TrimRight(base, "/") + path
}

// newJSONRequest creates an authenticated request with an optional JSON body.
func (c *Client) newJSONRequest(ctx context.Context, method, path string, payload interface{}) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)
	return req, nil
}

// newUploadRequest creates an authenticated request carrying raw bytes.
func (c *Client) newUploadRequest(ctx context.Context, path, contentType string, data []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
	c.authorize(req)
	return req, nil
}

// authorize attaches the session token and device identity headers.
func (c *Client) authorize(req *http.Request) {
	c.mu.RLock()
	token := c.authToken
	deviceID := c.deviceID
	c.mu.RUnlock()

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if deviceID != "" {
		req.Header.Set("X-Device-ID", deviceID)
	}
}

// send executes the request, mapping transport failures to sync error
// codes so the failure policy can classify them.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(apperrors.ErrSyncTimeout, "request timed out", err)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, apperrors.Wrap(apperrors.ErrSyncTimeout, "request timed out", err)
		}
		return nil, apperrors.Wrap(apperrors.ErrSyncNetwork, "request failed", err)
	}
	return resp, nil
}

// decodeJSON parses a response body, mapping parse failures to the
// invalid-response code.
func decodeJSON(resp *http.Response, out interface{}) error {
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrSyncInvalidResponse, "failed to decode response", err)
	}
	return nil
}

// readConflict extracts the server's tag from a 409 response body.
func readConflict(resp *http.Response) *Conflict {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &Conflict{}
	}
	var body errorBody
	if json.Unmarshal(raw, &body) != nil {
		return &Conflict{}
	}
	return &Conflict{ServerTag: body.ServerTag}
}

// apiError maps a non-success response to the app error taxonomy.
func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := http.StatusText(resp.StatusCode)
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		msg = body.Message
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.New(apperrors.ErrSyncAuthFailed, msg)
	case http.StatusNotFound:
		return apperrors.New(apperrors.ErrSyncNotFound, msg)
	case http.StatusConflict:
		return apperrors.New(apperrors.ErrSyncConflict, msg)
	case http.StatusRequestTimeout:
		return apperrors.New(apperrors.ErrSyncTimeout, msg)
	case http.StatusRequestEntityTooLarge, http.StatusInsufficientStorage:
		return apperrors.New(apperrors.ErrSyncQuotaExceeded, msg)
	}
	if resp.StatusCode >= 500 {
		return apperrors.New(apperrors.ErrSyncServer, msg)
	}
	return apperrors.New(apperrors.ErrSyncFailed, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, msg))
}
