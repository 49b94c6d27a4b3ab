package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/torosent/scensim/internal/adaptor"
)

// Message attributes understood by the request builder.
const (
	AttrMethod       = "method"
	AttrPath         = "path"
	AttrStatus       = "status"
	AttrHeaderPrefix = "header."
)

var httpMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
	http.MethodOptions: true,
}

// RequestBuilder turns outbound dialog messages into HTTP requests.
type RequestBuilder struct {
	method   string
	headers  http.Header
	bodyFile string
}

// NewRequestBuilder reads the request defaults from endpoint properties:
// "method" (default POST), "header.<Name>" entries and "body_file", used
// when a message carries no body.
func NewRequestBuilder(props adaptor.Properties) (*RequestBuilder, error) {
	method := strings.ToUpper(props.String("method", http.MethodPost))
	if !httpMethods[method] {
		return nil, fmt.Errorf("unsupported HTTP method %q", method)
	}
	headers, err := buildHeaders(props.WithPrefix(AttrHeaderPrefix))
	if err != nil {
		return nil, err
	}
	return &RequestBuilder{
		method:   method,
		headers:  headers,
		bodyFile: props.String("body_file", ""),
	}, nil
}

func buildHeaders(values map[string]string) (http.Header, error) {
	headers := http.Header{}
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		headers.Set(canonicalKey, value)
	}
	return headers, nil
}

// Build creates the request for msg against the base address. The method
// comes from the "method" attribute, or the message name when it is an HTTP
// method, or the endpoint default. The "path" attribute is resolved against
// address.
func (b *RequestBuilder) Build(ctx context.Context, address string, msg adaptor.Message) (*http.Request, error) {
	if b == nil {
		return nil, errors.New("builder cannot be nil")
	}
	if strings.TrimSpace(address) == "" {
		return nil, errors.New("endpoint has no address")
	}

	method := b.method
	if m := strings.ToUpper(msg.Name); httpMethods[m] {
		method = m
	}
	if m := strings.ToUpper(msg.Attributes[AttrMethod]); m != "" {
		if !httpMethods[m] {
			return nil, fmt.Errorf("unsupported HTTP method %q", m)
		}
		method = m
	}

	target, err := resolveTarget(address, msg.Attributes[AttrPath])
	if err != nil {
		return nil, err
	}

	body, err := NewBodySource(msg.Body, b.bodyFile)
	if err != nil {
		return nil, err
	}
	reader, err := body.NewReader()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	req.Header = b.headers.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	msgHeaders, err := buildHeaders(adaptor.Properties(msg.Attributes).WithPrefix(AttrHeaderPrefix))
	if err != nil {
		return nil, err
	}
	for key, values := range msgHeaders {
		req.Header[key] = values
	}

	if length, ok := body.ContentLength(); ok {
		req.ContentLength = length
	}
	req.GetBody = body.NewReader
	return req, nil
}

func resolveTarget(address, path string) (string, error) {
	base, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", address, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("address %q must use http or https", address)
	}
	if path == "" {
		return base.String(), nil
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// responseMessage converts resp into an inbound dialog message named by its
// status code, with headers as "header.<Name>" attributes.
func responseMessage(resp *http.Response, maxBody int64) (adaptor.Message, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return adaptor.Message{}, fmt.Errorf("read response body: %w", err)
	}
	status := fmt.Sprintf("%d", resp.StatusCode)
	attrs := map[string]string{
		AttrStatus: status,
		"proto":    resp.Proto,
	}
	for key, values := range resp.Header {
		attrs[AttrHeaderPrefix+key] = strings.Join(values, ", ")
	}
	return adaptor.Message{Name: status, Attributes: attrs, Body: body}, nil
}

func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
