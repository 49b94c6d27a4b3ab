package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/torosent/scensim/internal/simerr"
)

// Error is a failure reported by the control server.
type Error struct {
	Status  int
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

// Unwrap maps the reported kind back onto the simerr taxonomy.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case "configuration":
		return simerr.ErrConfiguration
	case "recognition":
		return simerr.ErrRecognition
	case "validation":
		return simerr.ErrValidation
	case "adaptor":
		return simerr.ErrAdaptor
	case "simulator":
		return simerr.ErrSimulator
	case "io":
		return simerr.ErrIO
	default:
		return nil
	}
}

// Client calls operations on a control server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for address, given as host:port or URL.
// A zero timeout leaves calls bounded only by their context.
func NewClient(address string, timeout time.Duration) *Client {
	address = strings.TrimRight(strings.TrimSpace(address), "/")
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	return &Client{baseURL: address, http: &http.Client{Timeout: timeout}}
}

// Call invokes operation with args and decodes the result into out, which
// may be nil.
func (c *Client) Call(ctx context.Context, operation string, args map[string]any, out any) error {
	encoded := make(Args, len(args))
	for k, v := range args {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode argument %s: %w", k, err)
		}
		encoded[k] = raw
	}
	body, err := json.Marshal(Request{Operation: operation, Args: encoded})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *ErrorBody      `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response (status %d): %w", operation, resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return &Error{Status: resp.StatusCode, Kind: envelope.Error.Kind, Message: envelope.Error.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{Status: resp.StatusCode, Kind: "internal", Message: resp.Status}
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = envelope.Result
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

// Operations lists the operations the server offers.
func (c *Client) Operations(ctx context.Context) ([]OperationInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/operations", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &Error{Status: resp.StatusCode, Kind: "internal", Message: strings.TrimSpace(string(msg))}
	}
	var ops []OperationInfo
	if err := json.NewDecoder(resp.Body).Decode(&ops); err != nil {
		return nil, err
	}
	return ops, nil
}
