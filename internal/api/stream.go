package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sgallard/parley/internal/models"
)

// EventStream yields response events in receipt order. Next returns io.EOF
// once the server closes the stream; Close aborts it.
type EventStream interface {
	Next() (models.StreamEvent, error)
	Close() error
}

// CreateResponse starts a streamed generation and returns the live event
// stream. The request is aborted by cancelling ctx or closing the stream.
func (c *Client) CreateResponse(ctx context.Context, reqParams ResponseRequest) (EventStream, error) {
	if reqParams.ConversationID == "" {
		return nil, fmt.Errorf("conversation ID is required")
	}
	if reqParams.Model == "" {
		return nil, fmt.Errorf("model ID is required")
	}
	if len(reqParams.Input) == 0 {
		return nil, fmt.Errorf("input is required")
	}

	body := map[string]any{
		"conversation": reqParams.ConversationID,
		"model":        reqParams.Model,
		"input":        reqParams.Input,
		"stream":       true,
		"store":        true,
	}
	if reqParams.Instructions != "" {
		body["instructions"] = reqParams.Instructions
	}
	if len(reqParams.Metadata) > 0 {
		body["metadata"] = reqParams.Metadata
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req, true)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readError(resp)
	}

	return newResponseStream(resp.Body), nil
}

type responseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newResponseStream(body io.ReadCloser) *responseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &responseStream{body: body, scanner: scanner}
}

func (s *responseStream) Next() (models.StreamEvent, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// SSE "event:" lines carry no payload we need; the event
			// kind is repeated inside the data JSON.
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "[DONE]" {
			return nil, io.EOF
		}
		if !gjson.Valid(payload) {
			continue
		}

		if event, ok := decodeEvent(gjson.Parse(payload)); ok {
			return event, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *responseStream) Close() error {
	return s.body.Close()
}

func decodeEvent(res gjson.Result) (models.StreamEvent, bool) {
	switch res.Get("type").String() {
	case "response.created":
		return models.StreamCreated{ResponseID: res.Get("response.id").String()}, true
	case "response.output_item.added":
		if res.Get("item.type").String() != ItemTypeMessage {
			return nil, false
		}
		return models.StreamItemAdded{ItemID: res.Get("item.id").String()}, true
	case "response.output_text.delta":
		delta := res.Get("delta").String()
		if delta == "" {
			return nil, false
		}
		return models.StreamTextDelta{Delta: delta}, true
	case "response.output_item.done":
		return models.StreamItemDone{ItemID: res.Get("item.id").String()}, true
	case "response.completed", "response.done":
		return models.StreamCompleted{}, true
	case "response.failed":
		message := res.Get("response.error.message").String()
		if message == "" {
			message = "response failed"
		}
		return models.StreamFailed{Message: message}, true
	case "response.cancelled":
		return models.StreamCancelled{}, true
	case "error":
		message := res.Get("message").String()
		if message == "" {
			message = "stream error"
		}
		return models.StreamError{Message: message}, true
	default:
		return nil, false
	}
}
