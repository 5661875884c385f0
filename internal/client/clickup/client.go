package clickup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultHost = "https://api.clickup.com/api/v2"

type Client struct {
	host       string
	token      string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clickup API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host, token string) *Client {
	if host == "" {
		host = DefaultHost
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		host:       strings.TrimRight(host, "/"),
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

type ListTasksParams struct {
	Page int
	// UpdatedAfter maps to date_updated_gt; zero means no filter.
	UpdatedAfter time.Time
}

// ListTasks returns one page of tasks of a list, archived excluded and
// subtasks plus closed tasks included.
func (c *Client) ListTasks(ctx context.Context, listID string, params ListTasksParams) ([]Task, error) {
	listID = strings.TrimSpace(listID)
	if listID == "" {
		return nil, fmt.Errorf("list_id is required")
	}
	query := url.Values{}
	query.Set("archived", "false")
	query.Set("subtasks", "true")
	query.Set("include_closed", "true")
	query.Set("page", strconv.Itoa(params.Page))
	if !params.UpdatedAfter.IsZero() {
		query.Set("date_updated_gt", strconv.FormatInt(params.UpdatedAfter.UnixMilli(), 10))
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/list/"+url.PathEscape(listID)+"/task", query, nil)
	if err != nil {
		return nil, err
	}
	var resp listTasksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return resp.Tasks, nil
}

// UpdateTaskStatus sets the workflow status of a task.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return fmt.Errorf("task_id is required")
	}
	status = strings.TrimSpace(status)
	if status == "" {
		return fmt.Errorf("status is required")
	}
	payload, err := json.Marshal(updateTaskRequest{Status: status})
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, http.MethodPut, "/task/"+url.PathEscape(taskID), nil, payload)
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
