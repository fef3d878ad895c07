package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openflux/eventrouter/internal/domain"
	"github.com/openflux/eventrouter/internal/ratelimit"
	"github.com/openflux/eventrouter/internal/session"
	"github.com/openflux/eventrouter/internal/store"
)

type fakeTransport struct {
	calls int
	resp  *domain.HandlerResponse
	errs  []error // consumed per call; nil entry means success
}

func (f *fakeTransport) Execute(_ context.Context, _ string, _ *Request) (*domain.HandlerResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &domain.HandlerResponse{Content: "ok", Type: "text"}, nil
}

type recordingNotifier struct {
	commands []string
}

func (n *recordingNotifier) CommandExecuted(_ domain.Event, _, command string) {
	n.commands = append(n.commands, command)
}

func testEvent() domain.Event {
	return domain.Event{
		Platform:    domain.PlatformDiscord,
		ChannelID:   "chan-1",
		UserID:      "user-1",
		Message:     "!stats",
		MessageType: domain.MessageTypeCommand,
	}
}

func testBinding(protocol string, cooldown int) *domain.CommandBinding {
	return &domain.CommandBinding{
		ID:              "b-1",
		Command:         "stats",
		Protocol:        protocol,
		Address:         "handler:50051",
		CooldownSeconds: cooldown,
		IsEnabled:       true,
	}
}

// fakeBindingState answers the fresh enabled read; unset func means enabled.
type fakeBindingState struct {
	enabled func(id string) (bool, error)
	calls   int
}

func (f *fakeBindingState) Enabled(_ context.Context, id string) (bool, error) {
	f.calls++
	if f.enabled == nil {
		return true, nil
	}
	return f.enabled(id)
}

func newDispatcher(rpc, httpT Transport, notifier Notifier) (*Dispatcher, *session.Store) {
	responses := session.NewStore(store.NewMemory(), time.Minute)
	d := New(rpc, httpT, nil,
		ratelimit.NewCooldown(nil, zerolog.Nop()),
		responses,
		NewSigner("test-secret", time.Minute),
		notifier,
		Options{Timeout: time.Second, MaxAttempts: 2, InitialBackoff: time.Millisecond},
		zerolog.Nop(),
	)
	return d, responses
}

func TestExecuteSuccessStoresResponse(t *testing.T) {
	rpc := &fakeTransport{resp: &domain.HandlerResponse{Content: "42 wins", Type: "text"}}
	httpT := &fakeTransport{}
	notifier := &recordingNotifier{}
	d, responses := newDispatcher(rpc, httpT, notifier)

	resp, err := d.Execute(context.Background(), testBinding(domain.ProtocolGRPC, 0), testEvent(), "comm-1", "sess-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Content != "42 wins" {
		t.Fatalf("content = %q, want %q", resp.Content, "42 wins")
	}
	if rpc.calls != 1 || httpT.calls != 0 {
		t.Fatalf("calls rpc=%d http=%d, want 1/0", rpc.calls, httpT.calls)
	}

	stored, err := responses.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("stored response: %v", err)
	}
	if stored.Content != "42 wins" {
		t.Fatalf("stored content = %q", stored.Content)
	}
	if len(notifier.commands) != 1 || notifier.commands[0] != "stats" {
		t.Fatalf("notifier saw %v", notifier.commands)
	}
}

func TestExecuteDisabledBinding(t *testing.T) {
	rpc := &fakeTransport{}
	d, _ := newDispatcher(rpc, &fakeTransport{}, nil)

	b := testBinding(domain.ProtocolGRPC, 0)
	b.IsEnabled = false
	if _, err := d.Execute(context.Background(), b, testEvent(), "comm-1", "sess-1"); !errors.Is(err, ErrBindingDisabled) {
		t.Fatalf("err = %v, want ErrBindingDisabled", err)
	}
	if rpc.calls != 0 {
		t.Fatalf("transport called %d times for disabled binding", rpc.calls)
	}
}

func TestExecuteObservesDisableAfterLookup(t *testing.T) {
	rpc := &fakeTransport{}
	state := &fakeBindingState{enabled: func(string) (bool, error) { return false, nil }}
	d := New(rpc, &fakeTransport{}, state,
		ratelimit.NewCooldown(nil, zerolog.Nop()),
		session.NewStore(store.NewMemory(), time.Minute),
		NewSigner("test-secret", time.Minute),
		nil,
		Options{Timeout: time.Second, MaxAttempts: 2, InitialBackoff: time.Millisecond},
		zerolog.Nop(),
	)

	// The binding from lookup still says enabled; the store says otherwise.
	b := testBinding(domain.ProtocolGRPC, 0)
	if _, err := d.Execute(context.Background(), b, testEvent(), "comm-1", "sess-1"); !errors.Is(err, ErrBindingDisabled) {
		t.Fatalf("err = %v, want ErrBindingDisabled", err)
	}
	if state.calls != 1 {
		t.Fatalf("state reads = %d, want 1", state.calls)
	}
	if rpc.calls != 0 {
		t.Fatalf("transport called %d times for disabled binding", rpc.calls)
	}

	// A failing fresh read falls back to the flag from lookup.
	state.enabled = func(string) (bool, error) { return false, errors.New("store down") }
	if _, err := d.Execute(context.Background(), b, testEvent(), "comm-1", "sess-2"); err != nil {
		t.Fatalf("Execute with state read failure: %v", err)
	}
	if rpc.calls != 1 {
		t.Fatalf("rpc calls = %d, want 1", rpc.calls)
	}
}

func TestExecuteRetriesTransientRPCFailure(t *testing.T) {
	rpc := &fakeTransport{errs: []error{status.Error(codes.Unavailable, "down"), nil}}
	httpT := &fakeTransport{}
	d, _ := newDispatcher(rpc, httpT, nil)

	if _, err := d.Execute(context.Background(), testBinding(domain.ProtocolGRPC, 0), testEvent(), "comm-1", "sess-1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rpc.calls != 2 {
		t.Fatalf("rpc calls = %d, want 2", rpc.calls)
	}
	if httpT.calls != 0 {
		t.Fatalf("http called %d times when rpc recovered", httpT.calls)
	}
}

// A deterministically failing RPC transport must produce exactly one HTTP
// fallback call, and the caller still gets a single successful response.
func TestExecuteFallsBackToHTTPOnce(t *testing.T) {
	down := status.Error(codes.Unavailable, "down")
	rpc := &fakeTransport{errs: []error{down, down, down, down}}
	httpT := &fakeTransport{resp: &domain.HandlerResponse{Content: "via http", Type: "text"}}
	d, _ := newDispatcher(rpc, httpT, nil)

	resp, err := d.Execute(context.Background(), testBinding(domain.ProtocolGRPC, 0), testEvent(), "comm-1", "sess-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Content != "via http" {
		t.Fatalf("content = %q", resp.Content)
	}
	if rpc.calls != 2 {
		t.Fatalf("rpc calls = %d, want MaxAttempts=2", rpc.calls)
	}
	if httpT.calls != 1 {
		t.Fatalf("http calls = %d, want exactly 1", httpT.calls)
	}
}

func TestExecuteNonRetryableErrorSkipsRetry(t *testing.T) {
	rpc := &fakeTransport{errs: []error{status.Error(codes.InvalidArgument, "bad payload"), nil}}
	httpT := &fakeTransport{}
	d, _ := newDispatcher(rpc, httpT, nil)

	// Non-retryable on the preferred transport still permits the single
	// fallback so a broken gRPC surface does not strand the command.
	if _, err := d.Execute(context.Background(), testBinding(domain.ProtocolGRPC, 0), testEvent(), "comm-1", "sess-1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rpc.calls != 1 {
		t.Fatalf("rpc calls = %d, want 1 (no retry on permanent error)", rpc.calls)
	}
	if httpT.calls != 1 {
		t.Fatalf("http calls = %d, want 1", httpT.calls)
	}
}

func TestExecuteBothTransportsDown(t *testing.T) {
	down := status.Error(codes.Unavailable, "down")
	rpc := &fakeTransport{errs: []error{down, down}}
	httpT := &fakeTransport{errs: []error{errors.New("connection refused")}}
	d, _ := newDispatcher(rpc, httpT, nil)

	_, err := d.Execute(context.Background(), testBinding(domain.ProtocolGRPC, 0), testEvent(), "comm-1", "sess-1")
	if !errors.Is(err, ErrHandlerUnavailable) {
		t.Fatalf("err = %v, want ErrHandlerUnavailable", err)
	}
}

func TestExecuteHTTPBindingHasNoFallback(t *testing.T) {
	rpc := &fakeTransport{}
	httpT := &fakeTransport{errs: []error{errors.New("refused"), errors.New("refused")}}
	d, _ := newDispatcher(rpc, httpT, nil)

	_, err := d.Execute(context.Background(), testBinding(domain.ProtocolHTTP, 0), testEvent(), "comm-1", "sess-1")
	if !errors.Is(err, ErrHandlerUnavailable) {
		t.Fatalf("err = %v, want ErrHandlerUnavailable", err)
	}
	if rpc.calls != 0 {
		t.Fatalf("rpc called %d times for an http binding", rpc.calls)
	}
}

func TestExecuteCooldownGate(t *testing.T) {
	rpc := &fakeTransport{}
	d, _ := newDispatcher(rpc, &fakeTransport{}, nil)
	b := testBinding(domain.ProtocolGRPC, 30)

	if _, err := d.Execute(context.Background(), b, testEvent(), "comm-1", "sess-1"); err != nil {
		t.Fatalf("first call: %v", err)
	}

	_, err := d.Execute(context.Background(), b, testEvent(), "comm-1", "sess-2")
	var cd *CooldownActiveError
	if !errors.As(err, &cd) {
		t.Fatalf("err = %v, want CooldownActiveError", err)
	}
	if cd.Remaining <= 0 {
		t.Fatalf("remaining = %v, want positive", cd.Remaining)
	}
	if rpc.calls != 1 {
		t.Fatalf("rpc calls = %d, want 1", rpc.calls)
	}
}

func TestExecuteReleasesCooldownOnFailure(t *testing.T) {
	down := status.Error(codes.Unavailable, "down")
	rpc := &fakeTransport{errs: []error{down, down}}
	httpT := &fakeTransport{errs: []error{errors.New("refused")}}
	d, _ := newDispatcher(rpc, httpT, nil)
	b := testBinding(domain.ProtocolGRPC, 30)

	if _, err := d.Execute(context.Background(), b, testEvent(), "comm-1", "sess-1"); !errors.Is(err, ErrHandlerUnavailable) {
		t.Fatalf("err = %v, want ErrHandlerUnavailable", err)
	}

	// The handler never ran, so the gate must be open for the retry.
	rpc.errs = nil
	httpT.errs = nil
	if _, err := d.Execute(context.Background(), b, testEvent(), "comm-1", "sess-2"); err != nil {
		t.Fatalf("retry after release: %v", err)
	}
}
