package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// setSSEHeaders configures the response for Server-Sent Events
// streaming.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// writeSSEEvent writes a single SSE event to the response.
func writeSSEEvent(w http.ResponseWriter, id string, event string, data string) {
	fmt.Fprintf(w, "id: %s\n", id)
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// deployStreamHandler streams deployment state transitions via SSE.
// ?device= narrows the stream to one device. A comment line is sent
// every 30s to keep idle connections alive through proxies.
func (s *Server) deployStreamHandler(w http.ResponseWriter, r *http.Request) {
	if s.svc.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not available")
		return
	}
	deviceFilter := r.URL.Query().Get("device")

	setSSEHeaders(w)

	sub := s.svc.Events.Subscribe(128)
	defer sub.Close()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	var seq uint64
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		case ev := <-sub.C:
			if deviceFilter != "" && ev.Device != deviceFilter {
				continue
			}
			seq++
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeSSEEvent(w, fmt.Sprintf("%d", seq), ev.Status, string(data))
		}
	}
}
