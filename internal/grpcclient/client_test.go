package grpcclient

import (
	"context"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/torosent/scensim/internal/clientmetrics"
)

func TestNewClient(t *testing.T) {
	client := NewClient(Config{
		Target:   "localhost:50051",
		Metadata: map[string]string{"authorization": "Bearer x"},
		UseTLS:   true,
		Insecure: true,
	}, nil)
	if client.target != "localhost:50051" {
		t.Errorf("Expected target localhost:50051, got %q", client.target)
	}
	if got := client.md.Get("authorization"); len(got) != 1 || got[0] != "Bearer x" {
		t.Errorf("metadata = %v", client.md)
	}
	if !client.useTLS || !client.insecure {
		t.Errorf("TLS settings not kept: useTLS=%v insecure=%v", client.useTLS, client.insecure)
	}
	if client.metrics == nil {
		t.Error("Expected private metrics")
	}
	if client.LastStatus() != codes.Unknown {
		t.Errorf("LastStatus = %s, want Unknown before any call", client.LastStatus())
	}
}

func TestClientInvokeWithoutConnect(t *testing.T) {
	client := NewClient(Config{Target: "localhost:50051"}, nil)

	code, err := client.Invoke(context.Background(), "/test.Service/Method", &emptypb.Empty{}, &emptypb.Empty{}, nil)
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Fatalf("Expected 'not connected' error, got %v", err)
	}
	if code != codes.Unavailable {
		t.Errorf("code = %s, want Unavailable", code)
	}
}

func TestClientInvokeNilMessages(t *testing.T) {
	client := NewClient(Config{Target: "localhost:50051"}, nil)
	if _, err := client.Invoke(context.Background(), "/a/b", nil, &emptypb.Empty{}, nil); err == nil {
		t.Error("Expected error for nil request")
	}
	if _, err := client.Invoke(context.Background(), "/a/b", &emptypb.Empty{}, nil, nil); err == nil {
		t.Error("Expected error for nil response")
	}
}

func TestClientConnectAndClose(t *testing.T) {
	client := NewClient(Config{Target: "localhost:50051"}, clientmetrics.New())

	if err := client.Close(); err != nil {
		t.Fatalf("Close without connect should be a no-op, got %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("Expected error on double connect")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestDialTLSVariants(t *testing.T) {
	tests := []struct {
		name     string
		useTLS   bool
		insecure bool
	}{
		{"plaintext", false, false},
		{"tls", true, false},
		{"tls skip verify", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := Dial(context.Background(), Config{Target: "localhost:50051", UseTLS: tt.useTLS, Insecure: tt.insecure})
			if err != nil {
				t.Fatalf("Dial failed: %v", err)
			}
			_ = conn.Close()
		})
	}
}
