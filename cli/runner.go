// Command execution for CLI commands.
//
// Information Hiding:
// - Provider and summarizer wiring hidden
// - Result set loading (file or stdin) hidden
// - Output formatting hidden

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/lumenata/alembic/api"
	"github.com/lumenata/alembic/chunker"
	"github.com/lumenata/alembic/config"
	"github.com/lumenata/alembic/llm"
	"github.com/lumenata/alembic/metadata"
	"github.com/lumenata/alembic/storage"
	"github.com/lumenata/alembic/summary"
)

// Options holds CLI execution options. Zero values defer to the
// environment configuration.
type Options struct {
	Provider    string
	Mode        string
	TokenLimit  int
	Concurrency int
}

// shutdownTimeout bounds graceful HTTP server shutdown.
const shutdownTimeout = 10 * time.Second

// Serve runs the metadata gateway until interrupted.
func Serve(ctx context.Context, opts Options) error {
	settings, err := config.New(opts.Provider)
	if err != nil {
		return err
	}
	if settings.Metadata.URL == "" {
		return fmt.Errorf("METADATA_API_URL is required")
	}

	provider, summarizer, err := buildSummarizer(settings, opts)
	if err != nil {
		return err
	}

	meta, err := metadata.NewClient(metadata.Options{
		BaseURL:      settings.Metadata.URL,
		APIVersion:   settings.Metadata.APIVersion,
		APIKeyHeader: settings.Metadata.APIKeyHeader,
		APIKey:       settings.Metadata.APIKey,
		HTTPClient:   &http.Client{Timeout: settings.Metadata.Timeout},
	})
	if err != nil {
		return err
	}

	var store *storage.RunStore
	if settings.Server.RunLogPath != "" {
		store, err = storage.OpenRunStore(settings.Server.RunLogPath)
		if err != nil {
			return fmt.Errorf("open run log: %w", err)
		}
		defer store.Close()
	}

	srv, err := api.New(api.Config{
		Meta:       meta,
		Summarizer: summarizer,
		Runs:       store,
		Provider:   provider.Name(),
		Model:      provider.Model(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:              settings.Server.ListenAddr,
		Handler:           log.HTTP(ctx)(srv.Handler()),
		ReadHeaderTimeout: 60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Print(ctx, log.KV{K: "msg", V: "gateway listening"},
			log.KV{K: "addr", V: settings.Server.ListenAddr},
			log.KV{K: "upstream", V: settings.Metadata.URL},
			log.KV{K: "provider", V: provider.Name()},
			log.KV{K: "model", V: provider.Model()},
			log.KV{K: "mode", V: string(summarizer.Mode())})
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Print(ctx, log.KV{K: "msg", V: "shutting down gateway"})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// Summarize runs one map-reduce summarization over a result set loaded from
// a file (or stdin) and prints the outcome.
func Summarize(ctx context.Context, inputPath, question string, opts Options) error {
	settings, err := config.New(opts.Provider)
	if err != nil {
		return err
	}
	provider, summarizer, err := buildSummarizer(settings, opts)
	if err != nil {
		return err
	}

	results, err := loadResults(inputPath)
	if err != nil {
		return err
	}

	fmt.Printf("Summarizing %d records with %s/%s (mode %s)...\n\n",
		len(results), provider.Name(), provider.Model(), summarizer.Mode())

	start := time.Now()
	run, runErr := summarizer.Summarize(ctx, question, results)
	recordRun(ctx, settings, provider, summarizer, question, run, runErr, time.Since(start))
	if runErr != nil {
		return runErr
	}

	if run.Mode == summary.ModeStructure {
		out, err := json.MarshalIndent(map[string]any{"results": run.Results}, "", "  ")
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		fmt.Println(string(out))
	} else {
		fmt.Println(run.Summary)
	}

	printRunStats(run)
	return nil
}

// Chunks previews how a result set splits under the token limit without
// making any model calls.
func Chunks(ctx context.Context, inputPath string, opts Options) error {
	settings, err := config.New(opts.Provider)
	if err != nil {
		return err
	}
	est, limit, err := buildEstimator(settings, opts)
	if err != nil {
		return err
	}
	splitter, err := chunker.NewSplitter(est, limit)
	if err != nil {
		return err
	}

	results, err := loadResults(inputPath)
	if err != nil {
		return err
	}
	chunks, err := splitter.Split(ctx, results)
	if err != nil {
		return err
	}

	fmt.Printf("%d records -> %d chunks (token limit %d)\n\n", len(results), len(chunks), limit)
	for _, c := range chunks {
		total := 0
		for _, item := range c.Data {
			n, err := est.Estimate(item)
			if err != nil {
				return err
			}
			total += n
		}
		fmt.Printf("chunk %d/%d: %d items, ~%d tokens\n", c.ChunkID+1, c.TotalChunks, len(c.Data), total)
		if len(c.Data) > 0 {
			fmt.Printf("    first: %s\n", previewJSON(c.Data[0], maxItemPreviewLen))
		}
	}
	return nil
}

// Estimate prints the token estimate for a result set.
func Estimate(ctx context.Context, inputPath string, opts Options) error {
	settings, err := config.New(opts.Provider)
	if err != nil {
		return err
	}
	est, limit, err := buildEstimator(settings, opts)
	if err != nil {
		return err
	}

	results, err := loadResults(inputPath)
	if err != nil {
		return err
	}
	total, err := est.Estimate(results)
	if err != nil {
		return err
	}

	largest := 0
	for _, rec := range results {
		n, err := est.Estimate(rec)
		if err != nil {
			return err
		}
		if n > largest {
			largest = n
		}
	}

	fmt.Printf("~%d tokens across %d records (vocabulary %s, %.1f chars/token)\n",
		total, len(results), est.Vocabulary(), settings.Summary.CharsPerToken)
	fmt.Printf("largest record: ~%d tokens\n", largest)
	if total <= limit {
		fmt.Printf("fits the %d token limit in a single chunk\n", limit)
	} else {
		fmt.Printf("exceeds the %d token limit, splitting required\n", limit)
	}
	return nil
}

// Runs prints recent entries and aggregate totals from the run log.
func Runs(ctx context.Context, limit int, opts Options) error {
	settings, err := config.New(opts.Provider)
	if err != nil {
		return err
	}
	if settings.Server.RunLogPath == "" {
		return fmt.Errorf("ALEMBIC_RUNLOG_PATH is not configured")
	}
	store, err := storage.OpenRunStore(settings.Server.RunLogPath)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer store.Close()

	totals, err := store.Totals(ctx)
	if err != nil {
		return err
	}
	recent, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Printf("Runs: %d (ok %d, degraded %d, failed %d)\n",
		totals.Runs, totals.Completed, totals.Degraded, totals.Failed)
	fmt.Printf("Totals: %d chunks, %d LLM calls, %d tokens, %s\n\n",
		totals.TotalChunks, totals.TotalLLMCalls, totals.TotalTokens,
		time.Duration(totals.TotalDurationMs)*time.Millisecond)

	for _, r := range recent {
		created := time.Unix(r.CreatedAt, 0).UTC().Format(time.RFC3339)
		fmt.Printf("%s  %s  %-13s %s/%s  chunks=%d calls=%d tokens=%d  %dms\n",
			r.RunID, created, r.Status, r.Provider, r.Model,
			r.ChunkCount, r.LLMCalls, r.TotalTokens, r.DurationMs)
		if r.Error != "" {
			fmt.Printf("    error: %s\n", truncateString(r.Error, maxErrorPreviewLen))
		}
	}
	return nil
}

// createProvider builds the LLM provider named by the settings.
func createProvider(settings config.Settings) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := config.APIKeyFor(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}
	return providerType.
		Model(settings.LLM.Model).
		MaxTokens(settings.LLM.MaxTokens).
		Temperature(float32(settings.LLM.Temperature)).
		APIKey(apiKey)
}

// buildEstimator resolves the token estimator and limit, with CLI options
// overriding the environment.
func buildEstimator(settings config.Settings, opts Options) (*chunker.CharEstimator, int, error) {
	est, err := chunker.NewCharEstimator(chunker.DefaultVocabulary, settings.Summary.CharsPerToken)
	if err != nil {
		return nil, 0, err
	}
	limit := settings.Summary.TokenLimit
	if opts.TokenLimit > 0 {
		limit = opts.TokenLimit
	}
	return est, limit, nil
}

// buildSummarizer wires a provider and summarizer from settings and options.
func buildSummarizer(settings config.Settings, opts Options) (llm.Provider, *summary.Summarizer, error) {
	provider, err := createProvider(settings)
	if err != nil {
		return nil, nil, err
	}
	est, limit, err := buildEstimator(settings, opts)
	if err != nil {
		return nil, nil, err
	}

	modeStr := settings.Summary.Mode
	if opts.Mode != "" {
		modeStr = opts.Mode
	}
	mode, err := summary.ParseMode(modeStr)
	if err != nil {
		return nil, nil, err
	}
	concurrency := settings.Summary.Concurrency
	if opts.Concurrency > 0 {
		concurrency = opts.Concurrency
	}

	summarizer, err := summary.New(provider, est, summary.Config{
		Mode:        mode,
		TokenLimit:  limit,
		Concurrency: concurrency,
	})
	if err != nil {
		return nil, nil, err
	}
	return provider, summarizer, nil
}

// loadResults reads a result set from a file, or stdin when path is empty
// or "-". Accepts both a {"results": [...]} body and a bare JSON list.
func loadResults(path string) ([]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	result, notice := metadata.ParseBody(data)
	if notice != nil {
		return nil, fmt.Errorf("input is an upstream notice, not a result set: %s", notice.Message)
	}
	return result.Results, nil
}

// recordRun persists a CLI summarize run when the run log is configured.
// Failures that never reached a model call are not recorded.
func recordRun(ctx context.Context, settings config.Settings, provider llm.Provider, summarizer *summary.Summarizer, question string, run *summary.RunResult, runErr error, elapsed time.Duration) {
	if settings.Server.RunLogPath == "" {
		return
	}

	rec := storage.RunRecord{
		QuestionHash: storage.HashQuestion(question),
		Provider:     provider.Name(),
		Model:        provider.Model(),
		Mode:         string(summarizer.Mode()),
	}
	switch {
	case runErr == nil:
		usage := run.TotalUsage()
		rec.RunID = run.RunID
		rec.Status = storage.StatusOK
		rec.ChunkCount = run.ChunkCount
		rec.LLMCalls = run.LLMCalls
		rec.PromptTokens = usage.PromptTokens
		rec.CompletionTokens = usage.CompletionTokens
		rec.TotalTokens = usage.TotalTokens
		rec.DurationMs = run.Duration.Milliseconds()
	default:
		status, ok := statusForError(runErr)
		if !ok {
			return
		}
		rec.RunID = uuid.NewString()
		rec.Status = status
		rec.DurationMs = elapsed.Milliseconds()
		rec.Error = runErr.Error()
	}

	store, err := storage.OpenRunStore(settings.Server.RunLogPath)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "open run log"})
		return
	}
	defer store.Close()
	if err := store.Record(ctx, rec); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "record run"})
	}
}

// statusForError classifies a summarize failure for the run log. Errors
// raised before any model call report false.
func statusForError(err error) (storage.RunStatus, bool) {
	var mapErr *summary.MapError
	if errors.As(err, &mapErr) {
		return storage.StatusMapFailed, true
	}
	var reduceErr *summary.ReduceError
	if errors.As(err, &reduceErr) {
		return storage.StatusReduceFailed, true
	}
	return "", false
}

const (
	maxItemPreviewLen  = 120
	maxErrorPreviewLen = 200
)

// previewJSON renders a value as compact JSON truncated for display.
func previewJSON(v any, maxLen int) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return truncateString(string(data), maxLen)
}

// truncateString truncates a string to maxLen runes, preserving UTF-8 boundaries.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// printRunStats prints token usage statistics for a completed run.
func printRunStats(run *summary.RunResult) {
	usage := run.TotalUsage()
	fmt.Printf("\nRun %s:\n", run.RunID)
	fmt.Printf("  Chunks: %d\n", run.ChunkCount)
	fmt.Printf("  LLM calls: %d\n", run.LLMCalls)
	fmt.Printf("  Prompt tokens: %d\n", usage.PromptTokens)
	fmt.Printf("  Completion tokens: %d\n", usage.CompletionTokens)
	fmt.Printf("  Total tokens: %d\n", usage.TotalTokens)
	fmt.Printf("  Duration: %s\n", run.Duration.Round(time.Millisecond))
}
