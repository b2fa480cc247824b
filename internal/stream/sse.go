package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/metrics"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// sseSink writes events as `id: <seq>` plus one JSON `data:` line and
// heartbeats as `: ping` comments.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	seq     int
}

func (s *sseSink) Event(ev domain.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.seq++
	if _, err := fmt.Fprintf(s.w, "id: %d\ndata: %s\n\n", s.seq, data); err != nil {
		return err
	}
	s.flusher.Flush()
	metrics.StreamEvents.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

func (s *sseSink) Ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Serve writes st to w as server-sent events and returns when the stream
// ends or the client disconnects. Headers are only written once streaming
// is known to be possible.
func (p *Publisher) Serve(w http.ResponseWriter, r *http.Request, st *Stream) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.OpenStreams.Inc()
	defer metrics.OpenStreams.Dec()

	err := st.Run(r.Context(), &sseSink{w: w, flusher: flusher})
	if r.Context().Err() != nil {
		p.log.Debug("observer disconnected", "batch_id", st.BatchID())
		return nil
	}
	return err
}
