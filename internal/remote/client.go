package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/quirelabs/quire/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second

	// Response bodies beyond this are not interesting to the engine and
	// are cut off to bound memory on misbehaving backends.
	maxBodyBytes = 1 << 20
)

// Client talks to the versioned document store and session backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
}

// Chunk is one best-effort transcript upload.
type Chunk struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// FinalSummary is the normalized final artifact from the backend.
type FinalSummary struct {
	Transcript string
	Summary    string
	AudioURL   string
}

// CreateFragment creates a fragment inside a container and returns its
// server-assigned id and version.
func (c *Client) CreateFragment(ctx context.Context, containerID int64, content string, pos domain.FragmentPosition) (domain.FragmentRef, error) {
	body := struct {
		Content    string `json:"content"`
		OrderIndex int    `json:"order_index"`
		Kind       string `json:"kind,omitempty"`
		Depth      int    `json:"depth,omitempty"`
	}{content, pos.OrderIndex, pos.Kind, pos.Depth}

	var ref domain.FragmentRef
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/containers/%d/fragments", containerID), body, &ref)
	if err != nil {
		return domain.FragmentRef{}, fmt.Errorf("create fragment: %w", err)
	}
	return ref, nil
}

// ReadFragment fetches the authoritative version and content of a
// fragment. A 404 is returned as a distinguished *Error; the fragment is
// gone and the caller must handle that.
func (c *Client) ReadFragment(ctx context.Context, id int64) (domain.FragmentState, error) {
	var state domain.FragmentState
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/fragments/%d", id), nil, &state)
	if err != nil {
		return domain.FragmentState{}, fmt.Errorf("read fragment %d: %w", id, err)
	}
	return state, nil
}

// UpdateFragment performs a conditional update: the write is accepted
// only if expectedVersion still matches on the server. On acceptance the
// new version is returned. A 409 carries the authoritative current
// version when the backend provides one; extract it with ConflictVersion.
func (c *Client) UpdateFragment(ctx context.Context, id int64, content string, expectedVersion int64) (int64, error) {
	body := struct {
		Content string `json:"content"`
		Version int64  `json:"version"`
	}{content, expectedVersion}

	var resp struct {
		Version int64 `json:"version"`
	}
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/v1/fragments/%d", id), body, &resp)
	if err != nil {
		return 0, fmt.Errorf("update fragment %d: %w", id, err)
	}
	return resp.Version, nil
}

// CreateContainer creates the server-side session grouping and returns
// its numeric id.
func (c *Client) CreateContainer(ctx context.Context, title string) (int64, error) {
	body := struct {
		Title string `json:"title,omitempty"`
	}{title}

	var resp struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/containers", body, &resp); err != nil {
		return 0, fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

// ContainerExists verifies a container binding. A 404 means the container
// no longer exists and is reported as (false, nil) so callers can prune
// the stale binding; other failures are returned as errors.
func (c *Client) ContainerExists(ctx context.Context, id int64) (bool, error) {
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/containers/%d", id), nil, nil)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("verify container %d: %w", id, err)
}

// PushChunk uploads one transcript chunk. Delivery is best effort: the
// single caller logs failures and keeps capturing.
func (c *Client) PushChunk(ctx context.Context, containerID int64, chunk Chunk) error {
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/containers/%d/chunks", containerID), chunk, nil)
	if err != nil {
		return fmt.Errorf("push chunk: %w", err)
	}
	return nil
}

// FetchLiveSummary fetches the backend's live summary for a container and
// normalizes whatever shape it replies with into display text.
func (c *Client) FetchLiveSummary(ctx context.Context, containerID int64) (string, error) {
	raw, err := c.doRaw(ctx, http.MethodGet, fmt.Sprintf("/api/v1/containers/%d/summary/live", containerID), nil)
	if err != nil {
		return "", fmt.Errorf("fetch live summary: %w", err)
	}
	text, ok := NormalizeSummary(raw)
	if !ok {
		return "", fmt.Errorf("fetch live summary: %w", errNoSummaryText)
	}
	return text, nil
}

// FinalizeSession asks the backend to finalize the container's session.
func (c *Client) FinalizeSession(ctx context.Context, containerID int64) error {
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/containers/%d/finalize", containerID), nil, nil); err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	return nil
}

// FetchFinalArtifact fetches the finalized transcript and summary.
func (c *Client) FetchFinalArtifact(ctx context.Context, containerID int64) (FinalSummary, error) {
	raw, err := c.doRaw(ctx, http.MethodGet, fmt.Sprintf("/api/v1/containers/%d/summary/final", containerID), nil)
	if err != nil {
		return FinalSummary{}, fmt.Errorf("fetch final artifact: %w", err)
	}
	final, ok := normalizeFinal(raw)
	if !ok {
		return FinalSummary{}, fmt.Errorf("fetch final artifact: %w", errNoSummaryText)
	}
	return final, nil
}

// do issues a JSON request and decodes a JSON response into out when out
// is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	raw, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeRejection(resp.StatusCode, raw)
	}
	return raw, nil
}

// decodeRejection builds the typed rejection, pulling the authoritative
// version out of conflict bodies when present. Backends vary in casing,
// so both spellings are accepted.
func decodeRejection(status int, raw []byte) *Error {
	re := &Error{Status: status}

	var payload struct {
		Error               string `json:"error"`
		Message             string `json:"message"`
		CurrentVersion      *int64 `json:"current_version"`
		CurrentVersionCamel *int64 `json:"currentVersion"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		re.Message = payload.Error
		if re.Message == "" {
			re.Message = payload.Message
		}
		if payload.CurrentVersion != nil {
			re.CurrentVersion = *payload.CurrentVersion
			re.HasCurrentVersion = true
		} else if payload.CurrentVersionCamel != nil {
			re.CurrentVersion = *payload.CurrentVersionCamel
			re.HasCurrentVersion = true
		}
	}
	return re
}
