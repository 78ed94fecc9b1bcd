package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hsc/registry-server/pkg/engine"
	"github.com/hsc/registry-server/pkg/logger"
	"github.com/hsc/registry-server/pkg/registry"
)

func newTestEventsHandler(t *testing.T) (*EventsHandler, *engine.Engine) {
	t.Helper()
	log := logger.New(&logger.Config{Level: logger.ErrorLevel, Format: "json", Output: "stdout"})
	eng, err := engine.New(testEngineConfig(), log)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	t.Cleanup(func() { eng.Stop(context.Background()) })
	return NewEventsHandler(eng), eng
}

func TestEventsHandler_StreamService(t *testing.T) {
	h, eng := newTestEventsHandler(t)

	r := chi.NewRouter()
	r.Get("/api/v1/events/services/{serviceId}/stream", h.StreamService)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/v1/events/services/svc-a/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()

	// give the subscription time to register before publishing
	time.Sleep(50 * time.Millisecond)
	if _, err := eng.Store().Register(registry.ServiceRegistration{
		ServiceID: "svc-a", InstanceID: "i-1", Host: "localhost", Port: 8080,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not return after context cancellation")
	}

	if !strings.Contains(w.Body.String(), "data:") {
		t.Fatalf("expected at least one SSE data frame, got: %q", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "REGISTER") {
		t.Fatalf("expected REGISTER event in stream, got: %q", w.Body.String())
	}
}

func TestEventsHandler_StreamService_InvalidServiceID(t *testing.T) {
	h, _ := newTestEventsHandler(t)

	r := chi.NewRouter()
	r.Get("/api/v1/events/services/{serviceId}/stream", h.StreamService)

	req := httptest.NewRequest("GET", "/api/v1/events/services/bad id/stream", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
