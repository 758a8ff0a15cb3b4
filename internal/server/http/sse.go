package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/norish-recipes/norish-sub000/internal/bus"
	"github.com/norish-recipes/norish-sub000/internal/visibility"
	"github.com/norish-recipes/norish-sub000/pkg/log"
)

// handleEventsSSE streams policy-aware events for one actor.
//
//	GET /v1/events?userId=u1&householdKey=h1&events=recipeImported,syncFailed&filter=json.final
//
// Each requested event name opens a merged household/user/broadcast
// subscription; all of them merge again into the response stream. The
// connection ends when the client goes away.
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	vctx := visibility.Context{UserID: q.Get("userId"), HouseholdKey: q.Get("householdKey")}
	if vctx.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId required"})
		return
	}
	names := splitEvents(q.Get("events"))
	if len(names) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "events required"})
		return
	}
	filter, err := newCELFilter(q.Get("filter"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid filter: " + err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	subs := make([]*bus.Subscription, 0, len(names))
	for _, name := range names {
		subs = append(subs, s.rt.Router().Subscribe(ctx, vctx, name))
	}
	merged := bus.Merge(ctx, subs...)
	defer merged.Close()

	logger := s.logger.WithContext(ctx)
	logger.Debug("sse stream opened", log.Str("userId", vctx.UserID), log.Int("events", len(names)))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-merged.C():
			if !ok {
				return
			}
			event := visibility.EventFromChannel(msg.Channel)
			if !json.Valid(msg.Payload) {
				logger.Warn("malformed event payload skipped", log.Str("channel", msg.Channel))
				continue
			}
			if !filter.Eval(msg.Channel, event, msg.Payload) {
				continue
			}
			if err := writeSSE(w, msg.ID, event, msg.Payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func splitEvents(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeSSE(w http.ResponseWriter, id, event string, data []byte) error {
	if _, err := w.Write([]byte("id: " + id + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + event + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
