package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/scensim/internal/adaptor"
)

func newTestAdaptor(t *testing.T, address string, props adaptor.Properties) *Adaptor {
	t.Helper()
	a, err := New(adaptor.Spec{Endpoint: "sut", Address: address, Properties: props})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a.(*Adaptor)
}

func exchange(t *testing.T, a *Adaptor, msg adaptor.Message) (adaptor.Message, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := a.Open(ctx)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer ch.Close()
	if err := ch.Send(ctx, msg); err != nil {
		return adaptor.Message{}, err
	}
	return ch.Receive(ctx)
}

func TestAdaptorRoundTrip(t *testing.T) {
	var gotPath, gotMethod, gotBody, gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Client")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	a := newTestAdaptor(t, server.URL, adaptor.Properties{"header.X-Client": "scensim"})
	if !a.Ready() {
		t.Fatal("adaptor with address should be ready")
	}

	reply, err := exchange(t, a, adaptor.Message{
		Name:       "create",
		Attributes: map[string]string{"path": "/orders"},
		Body:       []byte("payload"),
	})
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}

	if gotPath != "/orders" || gotMethod != http.MethodPost || gotBody != "payload" || gotHeader != "scensim" {
		t.Fatalf("server saw path=%q method=%q body=%q header=%q", gotPath, gotMethod, gotBody, gotHeader)
	}
	if reply.Name != "202" {
		t.Fatalf("reply name = %q, want 202", reply.Name)
	}
	if string(reply.Body) != `{"ok":true}` {
		t.Fatalf("reply body = %q", reply.Body)
	}
	if reply.Attributes["header.Content-Type"] != "application/json" {
		t.Fatalf("reply attributes = %v", reply.Attributes)
	}

	snap := a.Metrics()
	if snap.MessagesSent != 1 || snap.MessagesReceived != 1 || snap.ChannelsOpen != 0 {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestAdaptorRejectStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	a := newTestAdaptor(t, server.URL, nil)
	_, err := exchange(t, a, adaptor.Message{Name: "get"})
	if !errors.Is(err, adaptor.ErrRejected) {
		t.Fatalf("error = %v, want ErrRejected", err)
	}
	if a.Metrics().Rejections != 1 {
		t.Fatalf("rejections = %d, want 1", a.Metrics().Rejections)
	}

	custom := newTestAdaptor(t, server.URL, adaptor.Properties{"reject_status": "429"})
	reply, err := exchange(t, custom, adaptor.Message{Name: "get"})
	if err != nil {
		t.Fatalf("503 outside reject_status should be delivered, got %v", err)
	}
	if reply.Name != "503" {
		t.Fatalf("reply name = %q, want 503", reply.Name)
	}
}

func TestAdaptorRefusedConnectionIsRejection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	a := newTestAdaptor(t, "http://"+addr, nil)
	_, err = exchange(t, a, adaptor.Message{Name: "get"})
	if !errors.Is(err, adaptor.ErrRejected) {
		t.Fatalf("error = %v, want ErrRejected", err)
	}
}

func TestAdaptorSetAddress(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	a := newTestAdaptor(t, "", nil)
	if a.Ready() {
		t.Fatal("adaptor without address should not be ready")
	}
	if err := a.SetAddress("not a url"); err == nil {
		t.Fatal("SetAddress() accepted an invalid address")
	}
	if err := a.SetAddress(server.URL); err != nil {
		t.Fatalf("SetAddress() error = %v", err)
	}
	if !a.Ready() || a.Address() != server.URL {
		t.Fatalf("Ready=%v Address=%q", a.Ready(), a.Address())
	}
	if _, err := exchange(t, a, adaptor.Message{Name: "get"}); err != nil {
		t.Fatalf("exchange error = %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hits = %d, want 1", hits.Load())
	}
}

func TestChannelReceiveHonoursContextAndClose(t *testing.T) {
	a := newTestAdaptor(t, "http://127.0.0.1:1", nil)
	ch, err := a.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ch.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Receive() error = %v, want deadline exceeded", err)
	}

	_ = ch.Close()
	if _, err := ch.Receive(context.Background()); !errors.Is(err, adaptor.ErrClosed) {
		t.Fatalf("Receive() after close error = %v, want ErrClosed", err)
	}
	if err := ch.Send(context.Background(), adaptor.Message{}); !errors.Is(err, adaptor.ErrClosed) {
		t.Fatalf("Send() after close error = %v, want ErrClosed", err)
	}

	_ = a.Close()
	if _, err := a.Open(context.Background()); !errors.Is(err, adaptor.ErrClosed) {
		t.Fatalf("Open() after close error = %v, want ErrClosed", err)
	}
}

func TestNewRejectsBadProperties(t *testing.T) {
	cases := []adaptor.Properties{
		{"timeout": "soon"},
		{"max_rate": "-1"},
		{"reject_status": "700"},
		{"propagate": "maybe"},
		{"method": "BREW"},
		{"auth.type": "kerberos"},
	}
	for _, props := range cases {
		if _, err := New(adaptor.Spec{Endpoint: "x", Properties: props}); err == nil {
			t.Errorf("New(%v) error = nil, want error", props)
		}
	}
	if _, err := New(adaptor.Spec{Endpoint: "x", Address: "ftp://host"}); err == nil {
		t.Error("New() accepted a non-http address")
	}
}

func TestAdaptorAuthorization(t *testing.T) {
	var tokenCalls atomic.Int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"issued","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	a := newTestAdaptor(t, server.URL, adaptor.Properties{
		"auth.type":      "client_credentials",
		"auth.token_url": tokenServer.URL,
		"auth.client_id": "sim",
	})
	for i := 0; i < 2; i++ {
		if _, err := exchange(t, a, adaptor.Message{Name: "get"}); err != nil {
			t.Fatalf("exchange error = %v", err)
		}
	}
	if got, _ := gotAuth.Load().(string); got != "Bearer issued" {
		t.Fatalf("Authorization = %q, want Bearer issued", got)
	}
	if tokenCalls.Load() != 1 {
		t.Fatalf("token calls = %d, want 1", tokenCalls.Load())
	}
}
