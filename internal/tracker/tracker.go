// Package tracker is the boundary to the external task tracker. The import
// flow fetches a task snapshot once and caches it; transitions optionally
// write a status back. Payload shapes differ between tracker deployments, so
// parsing pulls individual fields with gjson instead of binding to a struct.
package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/imkarma/relay/internal/store"
)

// ErrTaskNotFound is returned when the remote tracker has no such task.
var ErrTaskNotFound = errors.New("task not found in tracker")

// Client fetches and updates remote tasks.
type Client interface {
	// FetchTask returns the remote task snapshot.
	FetchTask(ctx context.Context, taskID string) (*store.TaskInfo, error)

	// UpdateStatus pushes a status label back to the tracker. Callers treat
	// failures as non-fatal.
	UpdateStatus(ctx context.Context, taskID, status string) error
}

// Resolver maps a tracker snapshot to the workspace the task operates on.
// Deployments with heuristic client/repo extraction plug in here; the
// default resolves every task to one configured workspace.
type Resolver interface {
	Resolve(info *store.TaskInfo) (string, error)
}

// StaticResolver resolves every task to a single workspace.
type StaticResolver struct {
	Workspace string
}

func (r StaticResolver) Resolve(*store.TaskInfo) (string, error) {
	if r.Workspace == "" {
		return "", fmt.Errorf("no workspace configured")
	}
	return r.Workspace, nil
}

// HTTPClient talks to the tracker's REST API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a tracker client for the given base URL and token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchTask pulls a task document and extracts the fields relay caches.
func (c *HTTPClient) FetchTask(ctx context.Context, taskID string) (*store.TaskInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/task/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch task %s: %w", taskID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return parseTask(taskID, body), nil
}

// parseTask extracts the cached snapshot fields from a tracker task payload.
func parseTask(taskID string, body []byte) *store.TaskInfo {
	doc := gjson.ParseBytes(body)

	description := doc.Get("description").String()
	if description == "" {
		description = doc.Get("text_content").String()
	}

	return &store.TaskInfo{
		TaskID:      taskID,
		Title:       doc.Get("name").String(),
		Description: description,
		SourceURL:   doc.Get("url").String(),
		ListName:    doc.Get("list.name").String(),
		Assignee:    doc.Get("assignees.0.username").String(),
	}
}

// UpdateStatus pushes a status label back to the tracker.
func (c *HTTPClient) UpdateStatus(ctx context.Context, taskID, status string) error {
	payload := fmt.Sprintf(`{"status":%q}`, status)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/task/"+taskID,
		bytes.NewReader([]byte(payload)))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("update task %s: %w", taskID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tracker returned status %d", resp.StatusCode)
	}
	return nil
}

// WebhookEvent is the minimal fact relay needs from an inbound tracker
// webhook: which task changed and what happened to it.
type WebhookEvent struct {
	Event  string
	TaskID string
}

// ParseWebhook extracts the event name and task id from a webhook payload.
// Different tracker versions nest the task id differently, so a few known
// locations are tried in order.
func ParseWebhook(payload []byte) (WebhookEvent, error) {
	doc := gjson.ParseBytes(payload)

	event := doc.Get("event").String()
	if event == "" {
		return WebhookEvent{}, fmt.Errorf("webhook payload has no event field")
	}

	taskID := doc.Get("task_id").String()
	if taskID == "" {
		taskID = doc.Get("task.id").String()
	}
	if taskID == "" {
		taskID = doc.Get("history_items.0.parent_id").String()
	}
	if taskID == "" {
		return WebhookEvent{}, fmt.Errorf("webhook payload has no task id")
	}

	return WebhookEvent{Event: event, TaskID: taskID}, nil
}
