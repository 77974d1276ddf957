// Summarizer - Token-Bounded Map-Reduce Summarization.
//
// Shortens metadata result sets that overflow a model's context window.
// The result set is split into token-bounded chunks, every chunk is cleaned
// or summarized in its own conversation, and one final call merges the
// collected partial summaries.
//
// Information Hiding:
// - Chunk traversal and continuation seeding hidden (chunker package)
// - Map fan-out scheduling and cancellation hidden
// - Prompt selection per mode hidden
// - Reply parsing and shape validation hidden

package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/lumenata/alembic/chunker"
	"github.com/lumenata/alembic/internal/jsonx"
	"github.com/lumenata/alembic/llm"
)

// DefaultConcurrency bounds parallel map calls unless configured otherwise.
const DefaultConcurrency = 4

// Config holds tuning for a summarizer.
type Config struct {
	// Mode selects prose summaries or in-place cleanup. Empty means
	// ModeStructure.
	Mode Mode

	// TokenLimit bounds the estimated size of each chunk. Zero means
	// chunker.DefaultTokenLimit.
	TokenLimit int

	// Concurrency bounds the number of parallel map calls. Zero or
	// negative means no bound beyond the chunk count.
	Concurrency int
}

// DefaultConfig returns the summarizer defaults: structure mode, the
// default chunk token limit, and four parallel map calls.
func DefaultConfig() Config {
	return Config{
		Mode:        ModeStructure,
		TokenLimit:  chunker.DefaultTokenLimit,
		Concurrency: DefaultConcurrency,
	}
}

// MapError reports a failed map call for one chunk. The first map failure
// cancels the sibling calls and aborts the run; no reduce call is made.
type MapError struct {
	ChunkID int
	Err     error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("map chunk %d: %v", e.ChunkID, e.Err)
}

func (e *MapError) Unwrap() error { return e.Err }

// ReduceError reports a failed reduce call over the collected partial
// summaries.
type ReduceError struct {
	Err error
}

func (e *ReduceError) Error() string {
	return fmt.Sprintf("reduce summaries: %v", e.Err)
}

func (e *ReduceError) Unwrap() error { return e.Err }

// MalformedResponseError reports a structure mode reply that did not carry
// a results list. The model broke the output contract; retrying is the
// caller's decision, not ours.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed model response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// mapPayload is the user message for one per-chunk call. The chunk
// position fields let a stateless conversation know how far along the run
// is.
type mapPayload struct {
	UserQuestion string `json:"user_question"`
	Chunk        []any  `json:"chunk"`
	ChunkID      int    `json:"chunk_id"`
	TotalChunks  int    `json:"total_chunks"`
}

// reducePayload is the user message for the final call. Summaries are in
// chunk order regardless of map completion order.
type reducePayload struct {
	UserQuestion string `json:"user_question"`
	Summaries    []any  `json:"summaries"`
}

// structuredSummary is the reply shape both phases must produce in
// structure mode.
type structuredSummary struct {
	Results []any `json:"results"`
}

// RunResult is the outcome of one summarize run.
type RunResult struct {
	RunID      string
	Mode       Mode
	ChunkCount int
	LLMCalls   int

	// Summary holds the prose answer in text mode and is empty otherwise.
	Summary string

	// Results holds the cleaned result set in structure mode and is nil
	// otherwise.
	Results []any

	MapUsage    llm.TokenUsage
	ReduceUsage llm.TokenUsage
	Duration    time.Duration
}

// TotalUsage sums token usage across both phases.
func (r *RunResult) TotalUsage() llm.TokenUsage {
	var total llm.TokenUsage
	total.Add(&r.MapUsage)
	total.Add(&r.ReduceUsage)
	return total
}

// Summarizer shortens large result sets with a two-phase map-reduce over
// an LLM provider. Safe for concurrent use; runs share no mutable state.
type Summarizer struct {
	provider llm.Provider
	splitter *chunker.Splitter
	config   Config
}

// New creates a summarizer over the given provider. A nil estimator falls
// back to the character-ratio estimator with default settings.
func New(provider llm.Provider, est chunker.Estimator, cfg Config) (*Summarizer, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeStructure
	case ModeText, ModeStructure:
	default:
		return nil, fmt.Errorf("unknown summary mode: %s", cfg.Mode)
	}
	if cfg.TokenLimit == 0 {
		cfg.TokenLimit = chunker.DefaultTokenLimit
	}
	if est == nil {
		est = chunker.DefaultEstimator()
	}
	splitter, err := chunker.NewSplitter(est, cfg.TokenLimit)
	if err != nil {
		return nil, err
	}
	return &Summarizer{provider: provider, splitter: splitter, config: cfg}, nil
}

// Mode returns the configured summary mode.
func (s *Summarizer) Mode() Mode {
	return s.config.Mode
}

// Summarize runs the full map-reduce over one result set. An empty result
// set short-circuits with zero model calls. The run is all-or-nothing: any
// failed call aborts it, and the caller falls back to the raw results if it
// wants a degraded answer.
func (s *Summarizer) Summarize(ctx context.Context, question string, results []any) (*RunResult, error) {
	start := time.Now()
	run := &RunResult{
		RunID: uuid.NewString(),
		Mode:  s.config.Mode,
	}

	chunks, err := s.splitter.Split(ctx, results)
	if err != nil {
		return nil, fmt.Errorf("chunk results: %w", err)
	}
	run.ChunkCount = len(chunks)

	if len(chunks) == 0 {
		if s.config.Mode == ModeStructure {
			run.Results = []any{}
		}
		run.Duration = time.Since(start)
		return run, nil
	}

	log.Debug(ctx, log.KV{K: "msg", V: "summarize run started"},
		log.KV{K: "run_id", V: run.RunID},
		log.KV{K: "mode", V: string(run.Mode)},
		log.KV{K: "chunks", V: run.ChunkCount})

	partials, mapUsage, err := s.mapChunks(ctx, question, chunks)
	if err != nil {
		return nil, err
	}
	run.MapUsage = mapUsage

	response, err := s.reduceCall(ctx, question, partials)
	if err != nil {
		return nil, &ReduceError{Err: err}
	}
	if response.Usage != nil {
		run.ReduceUsage = *response.Usage
	}

	if s.config.Mode == ModeStructure {
		parsed, perr := parseStructured(response.Content)
		if perr != nil {
			return nil, &ReduceError{Err: perr}
		}
		run.Results = parsed.Results
	} else {
		run.Summary = strings.TrimSpace(response.Content)
	}

	run.LLMCalls = run.ChunkCount + 1
	run.Duration = time.Since(start)

	total := run.TotalUsage()
	log.Info(ctx, log.KV{K: "msg", V: "summarize run complete"},
		log.KV{K: "run_id", V: run.RunID},
		log.KV{K: "chunks", V: run.ChunkCount},
		log.KV{K: "llm_calls", V: run.LLMCalls},
		log.KV{K: "total_tokens", V: total.TotalTokens},
		log.KV{K: "duration_ms", V: run.Duration.Milliseconds()})

	return run, nil
}

// chunkOutcome carries one map call's result back to the collector, tagged
// with the chunk index so completion order does not matter.
type chunkOutcome struct {
	index   int
	partial any
	usage   *llm.TokenUsage
	err     error
}

// mapChunks fans the per-chunk calls out over a bounded worker pool and
// collects the partial summaries in chunk order. The first failure cancels
// the remaining calls; workers already mid-call drain into the buffered
// outcome channel, so nothing leaks.
func (s *Summarizer) mapChunks(ctx context.Context, question string, chunks []chunker.Chunk) ([]any, llm.TokenUsage, error) {
	mapCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := s.config.Concurrency
	if workers <= 0 || workers > len(chunks) {
		workers = len(chunks)
	}

	jobs := make(chan int)
	outcomes := make(chan chunkOutcome, len(chunks))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				// Check context before starting
				if err := mapCtx.Err(); err != nil {
					outcomes <- chunkOutcome{index: idx, err: err}
					continue
				}
				partial, usage, err := s.mapOne(mapCtx, question, chunks[idx])
				outcomes <- chunkOutcome{index: idx, partial: partial, usage: usage, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range chunks {
			select {
			case jobs <- i:
			case <-mapCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	partials := make([]any, len(chunks))
	var usage llm.TokenUsage
	var firstErr error
	for out := range outcomes {
		if out.err != nil {
			if firstErr == nil {
				firstErr = &MapError{ChunkID: out.index, Err: out.err}
				cancel()
			}
			continue
		}
		partials[out.index] = out.partial
		usage.Add(out.usage)
		log.Debug(ctx, log.KV{K: "msg", V: "chunk summarized"}, log.KV{K: "chunk_id", V: out.index})
	}
	if firstErr != nil {
		return nil, llm.TokenUsage{}, firstErr
	}
	return partials, usage, nil
}

// mapOne runs the per-chunk call and parses the reply according to the
// mode. In text mode the partial is the reply text; in structure mode it
// is the parsed results object, so shape violations surface here rather
// than at the reduce step.
func (s *Summarizer) mapOne(ctx context.Context, question string, chunk chunker.Chunk) (any, *llm.TokenUsage, error) {
	payload, err := json.Marshal(mapPayload{
		UserQuestion: question,
		Chunk:        chunk.Data,
		ChunkID:      chunk.ChunkID,
		TotalChunks:  chunk.TotalChunks,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode chunk payload: %w", err)
	}

	response, err := s.chat(ctx, mapPrompt(s.config.Mode), string(payload))
	if err != nil {
		return nil, nil, err
	}

	if s.config.Mode == ModeStructure {
		parsed, perr := parseStructured(response.Content)
		if perr != nil {
			return nil, response.Usage, perr
		}
		return parsed, response.Usage, nil
	}
	return strings.TrimSpace(response.Content), response.Usage, nil
}

// reduceCall sends the collected partial summaries for the final pass.
func (s *Summarizer) reduceCall(ctx context.Context, question string, partials []any) (llm.LLMResponse, error) {
	payload, err := json.Marshal(reducePayload{
		UserQuestion: question,
		Summaries:    partials,
	})
	if err != nil {
		return llm.LLMResponse{}, fmt.Errorf("encode reduce payload: %w", err)
	}
	return s.chat(ctx, reducePrompt(s.config.Mode), string(payload))
}

// chat issues one provider call, requesting a JSON object reply in
// structure mode.
func (s *Summarizer) chat(ctx context.Context, system, user string) (llm.LLMResponse, error) {
	messages := []llm.ChatMessage{
		llm.SystemMessage(system),
		llm.UserMessage(user),
	}
	if s.config.Mode == ModeStructure {
		return s.provider.ChatWithFormat(ctx, messages, llm.NewJSONObjectFormat())
	}
	return s.provider.Chat(ctx, messages)
}

// parseStructured decodes a structure mode reply and enforces the results
// list contract.
func parseStructured(response string) (*structuredSummary, error) {
	var parsed structuredSummary
	if err := jsonx.DecodeInto(response, &parsed); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	if parsed.Results == nil {
		return nil, &MalformedResponseError{Err: fmt.Errorf("reply carries no results list")}
	}
	return &parsed, nil
}
