package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// handleEvents streams the event log as server-sent events. The client
// receives every persisted event after ?after_seq (default: from the
// beginning), optionally filtered by ?type, then stays subscribed: the
// handler tails the log until the client disconnects.
//
// Each SSE message carries the envelope as JSON with the event type as
// the SSE event name and the seq as its id, so reconnecting clients can
// resume from Last-Event-ID.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, fmt.Errorf("streaming unsupported"))
		return
	}

	afterSeq := int64(0)
	if v := r.URL.Query().Get("after_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, fmt.Errorf("invalid after_seq: %w", errBadRequest))
			return
		}
		afterSeq = n
	} else if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			afterSeq = n
		}
	}
	eventType := r.URL.Query().Get("type")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		events, err := s.store.ListEvents(r.Context(), eventType, afterSeq, 100)
		if err != nil {
			s.logger.Warn("event feed query failed", "error", err)
			return
		}
		for _, ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("encode event failed", "event", ev.ID, "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
			afterSeq = ev.Seq
		}
		if len(events) > 0 {
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
