package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gwlsn/clipshrink/internal/jobs"
	"github.com/gwlsn/clipshrink/internal/logger"
)

const keepAliveInterval = 25 * time.Second

// Events handles GET /api/events (SSE endpoint). A client reconnecting
// with Last-Event-ID gets the remembered events it missed; a new client
// gets an init snapshot first.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	bus := h.orch.Bus()

	var sub *jobs.Subscription
	if last, ok := lastEventID(r); ok {
		sub = bus.SubscribeSince(last)
	} else {
		// Subscribe from the snapshot's sequence so nothing falls between.
		seq := bus.LastSeq()
		views, err := h.orch.ListJobs(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sub = bus.SubscribeSince(seq)

		initial, _ := json.Marshal(map[string]any{
			"type": "init",
			"seq":  seq,
			"jobs": views,
		})
		fmt.Fprintf(w, "data: %s\n\n", initial)
		flusher.Flush()
	}
	defer sub.Close()

	logger.Debug("SSE client connected", "remote", r.RemoteAddr, "subscribers", bus.Subscribers())

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.Seq, data)
			flusher.Flush()
		}
	}
}

func lastEventID(r *http.Request) (int64, bool) {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("last_event_id")
	}
	if v == "" {
		return 0, false
	}
	seq, err := strconv.ParseInt(v, 10, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}
