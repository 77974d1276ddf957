// Package main provides the alembic CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"github.com/lumenata/alembic/cli"
)

var (
	// Global flags
	provider string
	debug    bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "alembic",
		Short: "Metadata API gateway with token-bounded map-reduce summarization",
		Long: `A gateway in front of a metadata catalog API.

Requests pass through unchanged unless they carry a user_question query
parameter. Those get their result sets split into token-bounded chunks,
condensed by an LLM chunk by chunk, and merged into one answer. If the
condensing fails the gateway falls back to the raw upstream payload.

Offline commands (summarize, chunks, estimate) run the same pipeline
against a result set stored in a file.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	// Add commands
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(summarizeCmd())
	rootCmd.AddCommand(chunksCmd())
	rootCmd.AddCommand(estimateCmd())
	rootCmd.AddCommand(runsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// baseContext sets up the logger context shared by all commands.
func baseContext() context.Context {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	return ctx
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the metadata gateway",
		Long: `Start the HTTP gateway in front of the metadata API.

Configuration comes from the environment: METADATA_API_URL (required),
ALEMBIC_LISTEN_ADDR, ALEMBIC_SUMMARY_MODE, ALEMBIC_TOKEN_LIMIT and the
provider credentials. Set ALEMBIC_RUNLOG_PATH to record run diagnostics
in SQLite.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Serve(baseContext(), cli.Options{Provider: provider})
		},
	}
}

func summarizeCmd() *cobra.Command {
	var question string
	var mode string
	var tokenLimit int
	var concurrency int

	cmd := &cobra.Command{
		Use:   "summarize [file]",
		Short: "Summarize a result set from a file or stdin",
		Long: `Run the map-reduce summarization over a metadata result set.

The input is a JSON file (or stdin when omitted or "-") holding either a
{"results": [...]} body or a bare JSON list. In structure mode the output
is the cleaned result set; in text mode it is a prose answer.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := ""
			if len(args) == 1 {
				input = args[0]
			}
			opts := cli.Options{
				Provider:    provider,
				Mode:        mode,
				TokenLimit:  tokenLimit,
				Concurrency: concurrency,
			}
			return cli.Summarize(baseContext(), input, question, opts)
		},
	}

	cmd.Flags().StringVarP(&question, "question", "q", "", "Question to answer about the result set")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Summary mode (text or structure)")
	cmd.Flags().IntVar(&tokenLimit, "token-limit", 0, "Token limit per chunk")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel map calls (default from ALEMBIC_MAP_CONCURRENCY)")
	cmd.MarkFlagRequired("question")

	return cmd
}

func chunksCmd() *cobra.Command {
	var tokenLimit int

	cmd := &cobra.Command{
		Use:   "chunks [file]",
		Short: "Preview how a result set splits into chunks",
		Long: `Split a result set under the token limit and print each chunk's item
count and estimated size. Makes no model calls.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := ""
			if len(args) == 1 {
				input = args[0]
			}
			opts := cli.Options{Provider: provider, TokenLimit: tokenLimit}
			return cli.Chunks(baseContext(), input, opts)
		},
	}

	cmd.Flags().IntVar(&tokenLimit, "token-limit", 0, "Token limit per chunk")

	return cmd
}

func estimateCmd() *cobra.Command {
	var tokenLimit int

	cmd := &cobra.Command{
		Use:   "estimate [file]",
		Short: "Estimate the token size of a result set",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := ""
			if len(args) == 1 {
				input = args[0]
			}
			opts := cli.Options{Provider: provider, TokenLimit: tokenLimit}
			return cli.Estimate(baseContext(), input, opts)
		},
	}

	cmd.Flags().IntVar(&tokenLimit, "token-limit", 0, "Token limit per chunk")

	return cmd
}

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent summarize runs from the run log",
		Long: `Print aggregate totals and recent entries from the SQLite run log.
Requires ALEMBIC_RUNLOG_PATH to be configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Runs(baseContext(), limit, cli.Options{Provider: provider})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")

	return cmd
}
