package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
)

// broadcastHook is a logrus.Hook that fans every log entry out to each
// active /api/logs/stream subscriber, modeled on a small in-process
// broadcast channel owned by the HTTP layer rather than the logger
// itself.
type broadcastHook struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func newBroadcastHook() *broadcastHook {
	return &broadcastHook{subs: make(map[chan []byte]struct{})}
}

// Levels implements logrus.Hook: receive every level.
func (h *broadcastHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *broadcastHook) Fire(entry *logrus.Entry) error {
	record := map[string]interface{}{
		"time":    entry.Time.Format(timeLayout),
		"level":   entry.Level.String(),
		"message": entry.Message,
		"fields":  entry.Data,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- line:
		default:
			// Slow subscriber; drop the line rather than block logging.
		}
	}
	return nil
}

func (h *broadcastHook) subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *broadcastHook) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// handleLogStream streams structured log records as Server-Sent Events.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := s.hook.subscribe()
	defer s.hook.unsubscribe(ch)

	fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}
}
