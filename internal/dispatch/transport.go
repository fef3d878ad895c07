// Package dispatch executes a resolved command binding against its handler
// service. This file defines the two transports: a gRPC call (preferred,
// with keep-alive and connection reuse) and an HTTP POST fallback to the
// handler's well-known execute endpoint.
//
// The gRPC call uses a JSON codec over a fixed full method name, so the
// handler contract is the same plain struct on both transports and handlers
// do not need generated stubs to participate.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/openflux/eventrouter/internal/domain"
)

// ExecuteMethod is the full gRPC method handlers implement.
const ExecuteMethod = "/handler.v1.Handler/Execute"

// Request is the payload delivered to a handler on either transport.
type Request struct {
	SessionID   string            `json:"session_id"`
	CommunityID string            `json:"community_id"`
	Command     string            `json:"command"`
	Event       domain.Event      `json:"event"`
	Token       string            `json:"token,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Transport delivers one request to a handler address.
type Transport interface {
	Execute(ctx context.Context, address string, req *Request) (*domain.HandlerResponse, error)
}

// jsonCodec lets gRPC carry plain JSON-tagged structs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

// GRPCTransport dials handler addresses lazily and reuses connections with
// keep-alive. It is safe for concurrent use.
type GRPCTransport struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCTransport constructs an empty transport.
func NewGRPCTransport() *GRPCTransport {
	return &GRPCTransport{conns: make(map[string]*grpc.ClientConn)}
}

func (t *GRPCTransport) conn(address string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[address]; ok {
		return c, nil
	}
	c, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial handler %s: %w", address, err)
	}
	t.conns[address] = c
	return c, nil
}

// Execute implements Transport over a unary gRPC invoke.
func (t *GRPCTransport) Execute(ctx context.Context, address string, req *Request) (*domain.HandlerResponse, error) {
	conn, err := t.conn(address)
	if err != nil {
		return nil, err
	}
	var resp domain.HandlerResponse
	if err := conn.Invoke(ctx, ExecuteMethod, req, &resp, grpc.ForceCodec(jsonCodec{})); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Close releases all pooled connections.
func (t *GRPCTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, c := range t.conns {
		_ = c.Close()
		delete(t.conns, addr)
	}
}

// retryable reports whether a transport error is worth another attempt on the
// same transport. Anything the handler decided (InvalidArgument, NotFound,
// PermissionDenied, ...) is final.
func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// HTTPTransport posts requests to the handler's execute endpoint.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport constructs the transport with the given per-call client.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTransport{Client: client}
}

// executeURL derives the execute endpoint from a binding address, which may
// be a bare host:port (gRPC locator reused for fallback) or a base URL.
func executeURL(address string) string {
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	return strings.TrimRight(address, "/") + "/execute"
}

// Execute implements Transport over an HTTP POST.
func (t *HTTPTransport) Execute(ctx context.Context, address string, req *Request) (*domain.HandlerResponse, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode handler request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, executeURL(address), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("handler returned status %d", resp.StatusCode)
	}

	var out domain.HandlerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode handler response: %w", err)
	}
	return &out, nil
}
