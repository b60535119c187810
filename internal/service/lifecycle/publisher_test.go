package lifecycle

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pagestack/platform/pkg/event"
	"github.com/pagestack/platform/pkg/signature"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishUserSignsExactBody(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = body
		gotSig = r.Header.Get(signature.Header)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewPublisher(srv.URL, "topsecret", time.Second, newLogger())
	p.PublishUser(context.Background(), event.UserCreated, event.UserPayload{ID: "u1", Email: "a@b.com"}, nil)

	if len(gotBody) == 0 {
		t.Fatalf("expected delivery")
	}
	if err := signature.Verify(gotBody, "topsecret", gotSig); err != nil {
		t.Fatalf("signature does not verify over raw body: %v", err)
	}
	var env event.Envelope
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Event != event.UserCreated || env.User == nil || env.User.ID != "u1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Previous != nil {
		t.Fatalf("previous should be omitted")
	}
}

func TestPublishSwallowsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPublisher(srv.URL, "topsecret", time.Second, newLogger())
	// must not panic or surface the failure
	p.PublishUser(context.Background(), event.UserDeleted, event.UserPayload{ID: "u1"}, nil)
}

func TestPublishIgnoresCanceledCaller(t *testing.T) {
	delivered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPublisher(srv.URL, "topsecret", time.Second, newLogger())
	p.PublishUser(ctx, event.UserUpdated, event.UserPayload{ID: "u1"}, &event.UserPayload{ID: "u1", Name: "old"})

	select {
	case <-delivered:
	default:
		t.Fatalf("delivery should proceed after caller context cancellation")
	}
}

func TestPublishDisabledWithoutEndpoint(t *testing.T) {
	p := NewPublisher("", "topsecret", time.Second, newLogger())
	p.PublishUser(context.Background(), event.UserCreated, event.UserPayload{ID: "u1"}, nil)
}
