package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkoval/netpatch/pkg/deploy"
)

func TestSetSSEHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	setSSEHeaders(w)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
	if cn := w.Header().Get("Connection"); cn != "keep-alive" {
		t.Errorf("Connection = %q, want keep-alive", cn)
	}
}

func TestWriteSSEEvent(t *testing.T) {
	w := httptest.NewRecorder()
	writeSSEEvent(w, "42", "Applying", `{"device":"sw1"}`)

	body := w.Body.String()
	if !strings.Contains(body, "id: 42\n") {
		t.Errorf("missing id line in %q", body)
	}
	if !strings.Contains(body, "event: Applying\n") {
		t.Errorf("missing event line in %q", body)
	}
	if !strings.Contains(body, "data: {\"device\":\"sw1\"}\n") {
		t.Errorf("missing data line in %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("SSE event should end with double newline")
	}
}

func TestWriteSSEEventNoEventType(t *testing.T) {
	w := httptest.NewRecorder()
	writeSSEEvent(w, "1", "", "hello")

	body := w.Body.String()
	if strings.Contains(body, "event:") {
		t.Errorf("should not have event line when empty, got %q", body)
	}
	if !strings.Contains(body, "id: 1\n") {
		t.Errorf("missing id line")
	}
	if !strings.Contains(body, "data: hello\n") {
		t.Errorf("missing data line")
	}
}

func TestDeployStreamHandler(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest("GET", "/api/v1/deploy/stream", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.deployStreamHandler(w, req)
		close(done)
	}()

	// Wait for subscription to be set up
	time.Sleep(50 * time.Millisecond)

	s.svc.Events.Add(deploy.Event{
		Time:   time.Now(),
		Device: "sw1",
		State:  deploy.StateApplying,
		Status: deploy.StateApplying.String(),
	})

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: Applying") {
		t.Errorf("expected Applying event in response, got %q", body)
	}
	if !strings.Contains(body, `"device":"sw1"`) {
		t.Errorf("expected device in event data, got %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
}

func TestDeployStreamDeviceFilter(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest("GET", "/api/v1/deploy/stream?device=sw2", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.deployStreamHandler(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	s.svc.Events.Add(deploy.Event{
		Time: time.Now(), Device: "sw1",
		State: deploy.StateCommitted, Status: deploy.StateCommitted.String(),
	})
	s.svc.Events.Add(deploy.Event{
		Time: time.Now(), Device: "sw2",
		State: deploy.StateFailed, Status: deploy.StateFailed.String(),
		Error: "connection refused",
	})

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if strings.Contains(body, `"device":"sw1"`) {
		t.Errorf("sw1 should be filtered out, got %q", body)
	}
	if !strings.Contains(body, `"device":"sw2"`) {
		t.Errorf("sw2 should pass filter, got %q", body)
	}
	if !strings.Contains(body, "connection refused") {
		t.Errorf("expected error detail in event data, got %q", body)
	}
}
