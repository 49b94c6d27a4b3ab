package sse

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Event is one server-sent event.
type Event struct {
	ID    string
	Event string
	Data  string
}

// Name returns the event type, "message" when the server sent none.
func (e Event) Name() string {
	if e.Event == "" {
		return "message"
	}
	return e.Event
}

// StatusError is returned when the stream request is answered with a
// status other than 200.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// Stream reads events from one text/event-stream response.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// Connect issues the GET request for url. The stream lives until ctx is
// cancelled or Close is called.
func Connect(ctx context.Context, client *http.Client, url string, headers http.Header) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range headers {
		req.Header[key] = append([]string(nil), values...)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return &Stream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// Next blocks for the next complete event. It returns io.EOF when the
// server ends the stream.
func (s *Stream) Next() (Event, error) {
	var (
		event Event
		data  []string
		seen  bool
	)
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("read line: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if seen {
				event.Data = strings.Join(data, "\n")
				return event, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			event.ID = value
			seen = true
		case "event":
			event.Event = value
			seen = true
		case "data":
			data = append(data, value)
			seen = true
		}
	}
}

// Close ends the stream.
func (s *Stream) Close() error {
	return s.body.Close()
}
