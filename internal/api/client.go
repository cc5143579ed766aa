// Package api is the HTTP client for the conversation backend: conversation
// CRUD, item listing, and streamed response generation over SSE.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Error is a non-2xx reply from the backend.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(baseURL, apiKey string, log *slog.Logger) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		log:        log,
	}, nil
}

func (c *Client) CreateConversation(ctx context.Context, metadata map[string]string) (*Conversation, error) {
	body := map[string]any{"metadata": metadata}
	var conv Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) RetrieveConversation(ctx context.Context, id string) (*Conversation, error) {
	if id == "" {
		return nil, fmt.Errorf("conversation ID is required")
	}
	var conv Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) UpdateConversationMetadata(ctx context.Context, id string, patch map[string]string) (*Conversation, error) {
	if id == "" {
		return nil, fmt.Errorf("conversation ID is required")
	}
	body := map[string]any{"metadata": patch}
	var conv Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(id), body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("conversation ID is required")
	}
	return c.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListConversationItems(ctx context.Context, id string, params ListItemsParams) (*ItemList, error) {
	if id == "" {
		return nil, fmt.Errorf("conversation ID is required")
	}

	query := url.Values{}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.After != "" {
		query.Set("after", params.After)
	}
	if params.Order != "" {
		query.Set("order", params.Order)
	}

	path := "/conversations/" + url.PathEscape(id) + "/items"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var list ItemList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CancelResponse asks the server to stop an in-flight generation. The local
// event loop is aborted separately by the caller.
func (c *Client) CancelResponse(ctx context.Context, responseID string) error {
	if responseID == "" {
		return fmt.Errorf("response ID is required")
	}
	return c.do(ctx, http.MethodPost, "/responses/"+url.PathEscape(responseID)+"/cancel", map[string]any{}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req, body != nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}

func readError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	message := strings.TrimSpace(string(data))
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error.Message != "" {
			message = payload.Error.Message
		} else if payload.Message != "" {
			message = payload.Message
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &Error{Status: resp.StatusCode, Message: message}
}
