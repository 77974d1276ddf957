// Gateway - Metadata API Front Door.
//
// Serves the upstream catalog's read endpoints unchanged and, when a request
// carries a user_question, condenses oversized result sets through the
// map-reduce summarizer before answering. A failed summarize never fails the
// request: the gateway answers with the raw upstream payload instead.
//
// Information Hiding:
// - Upstream forwarding details hidden behind metadata.Client
// - Chunking and model calls hidden behind summary.Summarizer
// - Run diagnostics persistence hidden behind storage.RunStore (optional)

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/lumenata/alembic/metadata"
	"github.com/lumenata/alembic/storage"
	"github.com/lumenata/alembic/summary"
)

// QuestionParam is the query parameter that turns a plain catalog request
// into a summarize request. It is stripped before forwarding upstream.
const QuestionParam = "user_question"

// RunIDHeader carries the summarize run id on condensed responses so a
// response can be matched to its run log entry.
const RunIDHeader = "X-Alembic-Run-Id"

// healthTimeout bounds the upstream probe inside /healthz.
const healthTimeout = 5 * time.Second

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Upstream string `json:"upstream"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Mode     string `json:"mode"`
}

// summaryResponse answers text-mode requests.
type summaryResponse struct {
	Summary string `json:"summary"`
}

// resultsResponse answers structure-mode requests. It keeps the upstream
// body shape so callers can treat condensed and raw answers alike.
type resultsResponse struct {
	Results []any `json:"results"`
}

type runsResponse struct {
	Totals storage.RunTotals   `json:"totals"`
	Recent []storage.RunRecord `json:"recent"`
}

// Config wires the gateway's collaborators. Runs may be nil to disable the
// run log; Provider and Model only annotate health and run records.
type Config struct {
	Meta       *metadata.Client
	Summarizer *summary.Summarizer
	Runs       *storage.RunStore
	Provider   string
	Model      string
}

// Server is the gateway's HTTP surface.
type Server struct {
	meta       *metadata.Client
	summarizer *summary.Summarizer
	runs       *storage.RunStore
	provider   string
	model      string
	handler    http.Handler
}

// New creates a gateway server from its wiring.
func New(cfg Config) (*Server, error) {
	if cfg.Meta == nil {
		return nil, fmt.Errorf("metadata client is required")
	}
	if cfg.Summarizer == nil {
		return nil, fmt.Errorf("summarizer is required")
	}
	s := &Server{
		meta:       cfg.Meta,
		summarizer: cfg.Summarizer,
		runs:       cfg.Runs,
		provider:   cfg.Provider,
		model:      cfg.Model,
	}
	s.handler = s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Handler exposes the underlying handler for middleware wrapping.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/runs", s.handleRuns)
	mux.HandleFunc("/runs/", s.handleRun)
	// Everything else is a catalog path and goes upstream.
	mux.HandleFunc("/", s.handleQuery)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(r.Context(), w, http.MethodGet)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	upstream := "ok"
	if err := s.meta.Health(ctx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "upstream health check failed"})
		upstream = "unreachable"
	}
	writeJSON(r.Context(), w, http.StatusOK, healthResponse{
		Status:   "ok",
		Upstream: upstream,
		Provider: s.provider,
		Model:    s.model,
		Mode:     string(s.summarizer.Mode()),
	})
}

// handleQuery forwards a catalog request and condenses the answer when the
// caller asked a question about it.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(r.Context(), w, http.MethodGet)
		return
	}
	ctx := r.Context()
	question := strings.TrimSpace(r.URL.Query().Get(QuestionParam))

	status, body, err := s.meta.Forward(ctx, r.Method, r.URL.Path, r.URL.RawQuery)
	if err != nil {
		writeError(ctx, w, http.StatusBadGateway, fmt.Errorf("metadata API: %w", err))
		return
	}
	if question == "" || status < http.StatusOK || status >= http.StatusMultipleChoices {
		relay(w, status, body)
		return
	}

	result, notice := metadata.ParseBody(body)
	if notice != nil || len(result.Results) == 0 {
		// Upstream notices and empty result sets have nothing to condense.
		relay(w, status, body)
		return
	}

	start := time.Now()
	run, err := s.summarizer.Summarize(ctx, question, result.Results)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "summarize failed, relaying raw results"},
			log.KV{K: "path", V: r.URL.Path})
		s.recordDegraded(ctx, question, err, time.Since(start))
		relay(w, status, body)
		return
	}
	s.recordRun(ctx, question, run)

	w.Header().Set(RunIDHeader, run.RunID)
	if run.Mode == summary.ModeText {
		writeJSON(ctx, w, http.StatusOK, summaryResponse{Summary: run.Summary})
		return
	}
	writeJSON(ctx, w, http.StatusOK, resultsResponse{Results: run.Results})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(r.Context(), w, http.MethodGet)
		return
	}
	ctx := r.Context()
	if s.runs == nil {
		writeError(ctx, w, http.StatusNotFound, errors.New("run log is not enabled"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(ctx, w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	recent, err := s.runs.Recent(ctx, limit)
	if err != nil {
		writeError(ctx, w, http.StatusInternalServerError, fmt.Errorf("list runs: %w", err))
		return
	}
	totals, err := s.runs.Totals(ctx)
	if err != nil {
		writeError(ctx, w, http.StatusInternalServerError, fmt.Errorf("run totals: %w", err))
		return
	}
	writeJSON(ctx, w, http.StatusOK, runsResponse{Totals: totals, Recent: recent})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(r.Context(), w, http.MethodGet)
		return
	}
	ctx := r.Context()
	if s.runs == nil {
		writeError(ctx, w, http.StatusNotFound, errors.New("run log is not enabled"))
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/runs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(ctx, w, http.StatusNotFound, errors.New("not found"))
		return
	}
	rec, err := s.runs.Get(ctx, id)
	if err != nil {
		writeError(ctx, w, http.StatusInternalServerError, fmt.Errorf("load run: %w", err))
		return
	}
	if rec == nil {
		writeError(ctx, w, http.StatusNotFound, fmt.Errorf("run %q not found", id))
		return
	}
	writeJSON(ctx, w, http.StatusOK, rec)
}

func (s *Server) recordRun(ctx context.Context, question string, run *summary.RunResult) {
	if s.runs == nil {
		return
	}
	usage := run.TotalUsage()
	rec := storage.RunRecord{
		RunID:            run.RunID,
		QuestionHash:     storage.HashQuestion(question),
		Provider:         s.provider,
		Model:            s.model,
		Mode:             string(run.Mode),
		Status:           storage.StatusOK,
		ChunkCount:       run.ChunkCount,
		LLMCalls:         run.LLMCalls,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		DurationMs:       run.Duration.Milliseconds(),
	}
	if err := s.runs.Record(ctx, rec); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "record run"}, log.KV{K: "run_id", V: run.RunID})
	}
}

// recordDegraded logs a summarize failure that the gateway absorbed. The
// run id is minted here: the failed run never produced one.
func (s *Server) recordDegraded(ctx context.Context, question string, failure error, elapsed time.Duration) {
	if s.runs == nil {
		return
	}
	rec := storage.RunRecord{
		RunID:        uuid.NewString(),
		QuestionHash: storage.HashQuestion(question),
		Provider:     s.provider,
		Model:        s.model,
		Mode:         string(s.summarizer.Mode()),
		Status:       storage.StatusDegraded,
		DurationMs:   elapsed.Milliseconds(),
		Error:        failure.Error(),
	}
	if err := s.runs.Record(ctx, rec); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "record degraded run"})
	}
}

// relay writes an upstream payload through unchanged.
func relay(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Errorf(ctx, err, "encode response")
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	log.Error(ctx, err, log.KV{K: "status", V: status})
	writeJSON(ctx, w, status, errorResponse{Error: err.Error()})
}

func methodNotAllowed(ctx context.Context, w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(ctx, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}
