package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/norish-recipes/norish-sub000/internal/jobqueue"
	"github.com/norish-recipes/norish-sub000/internal/runtime"
	"github.com/norish-recipes/norish-sub000/internal/visibility"
	"github.com/norish-recipes/norish-sub000/pkg/log"
)

type Server struct {
	rt     *runtime.Runtime
	srv    *http.Server
	lis    net.Listener
	logger log.Logger
}

func New(rt *runtime.Runtime) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, logger: rt.Logger().WithComponent("http")}
	s.srv = &http.Server{Handler: cors(s.requestID(mux))}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/jobs/enqueue", s.handleEnqueue)
	mux.HandleFunc("/v1/jobs/status", s.handleStatus)
	mux.HandleFunc("/v1/events", s.handleEventsSSE)
	mux.HandleFunc("/v1/admin/policy", s.handlePolicy)
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestID tags each request with a UUID for log correlation.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), log.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"policy":        string(s.rt.Router().Policy()),
		"subscriptions": s.rt.Bus().ActiveSubscriptions(),
	})
}

type enqueueReq struct {
	Queue        string          `json:"queue"`
	Kind         string          `json:"kind"`
	Target       string          `json:"target"`
	JobID        string          `json:"jobId,omitempty"`
	UserID       string          `json:"userId"`
	HouseholdKey string          `json:"householdKey"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	MaxAttempts  int             `json:"maxAttempts,omitempty"`
	DelayMs      int64           `json:"delayMs,omitempty"`
}

type enqueueResp struct {
	Status   string `json:"status"`
	JobID    string `json:"jobId"`
	ResultID string `json:"resultId,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	gate := s.rt.Gate(req.Queue)
	if gate == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown queue"})
		return
	}

	jobID := req.JobID
	if jobID == "" {
		if req.Kind == "" || req.Target == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind and target (or jobId) required"})
			return
		}
		vctx := visibility.Context{UserID: req.UserID, HouseholdKey: req.HouseholdKey}
		jobID = s.rt.Router().DedupKey(vctx, req.Kind, req.Target)
	}

	d, err := gate.Admit(r.Context(), jobID, req.Payload, jobqueue.EnqueueOptions{
		MaxAttempts: req.MaxAttempts,
		DelayMs:     req.DelayMs,
	})
	if err != nil {
		if errors.Is(err, jobqueue.ErrBadID) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.logger.WithContext(r.Context()).Error("admit failed", log.Str("queue", req.Queue), log.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "admit failed"})
		return
	}
	status := http.StatusAccepted
	if d.Status != jobqueue.AdmitQueued {
		status = http.StatusOK
	}
	writeJSON(w, status, enqueueResp{Status: string(d.Status), JobID: jobID, ResultID: d.ResultID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	queue := r.URL.Query().Get("queue")
	jobID := r.URL.Query().Get("jobId")
	q := s.rt.Queue(queue)
	if q == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown queue"})
		return
	}
	job, err := q.Get(jobID)
	if err != nil {
		if errors.Is(err, jobqueue.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such job"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type policyReq struct {
	Policy string `json:"policy"`
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"policy": string(s.rt.Router().Policy())})
	case http.MethodPost:
		var req policyReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		p, err := visibility.ParsePolicy(req.Policy)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.rt.Router().SetPolicy(p)
		writeJSON(w, http.StatusOK, map[string]string{"policy": string(p)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
