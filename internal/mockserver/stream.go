package mockserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// startStream writes the event-stream headers. It returns nil if w cannot flush.
func startStream(w http.ResponseWriter) http.Flusher {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "Streaming unsupported")
		return nil
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher
}

// writeEvent writes one event. Multi-line data is split over several data fields.
func writeEvent(w http.ResponseWriter, id, data string) error {
	var b strings.Builder
	if id != "" {
		fmt.Fprintf(&b, "id: %s\n", id)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteByte('\n')
	_, err := w.Write([]byte(b.String()))
	return err
}

func writeComment(w http.ResponseWriter, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}

// events streams global events until the client goes away.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher := startStream(w)
	if flusher == nil {
		return
	}
	defer s.metrics.StreamOpened("events")()

	ch, unsubscribe := s.broker.Subscribe()
	defer unsubscribe()
	s.logger.Debug("event client connected", "remote", r.RemoteAddr, "clients", s.broker.Clients())

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("event client disconnected", "remote", r.RemoteAddr)
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("failed to encode event", "error", err)
				continue
			}
			if err := writeEvent(w, "", string(data)); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if err := writeComment(w, "keep-alive"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// streamLogs sends the log of id from line start on and follows it. The stream stays open
// after the log is complete; the client decides when to leave.
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request, id string, start int) {
	flusher := startStream(w)
	if flusher == nil {
		return
	}
	defer s.metrics.StreamOpened("logs")()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	next := start
	for {
		lines, _, changed := s.logs.Lines(id, next)
		for _, line := range lines {
			next++
			if err := writeEvent(w, strconv.Itoa(next), line); err != nil {
				return
			}
		}
		if len(lines) > 0 {
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-changed:
		case <-ticker.C:
			if err := writeComment(w, "keep-alive"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// observe records request metrics by route template.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveRequest(route, r.Method, strconv.Itoa(rec.status), time.Since(start))
		s.logger.Debug("request", "method", r.Method, "route", route, "status", rec.status, "duration", time.Since(start))
	})
}
