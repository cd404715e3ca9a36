package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/tutorcore/internal/api"
	"github.com/kalambet/tutorcore/internal/config"
	"github.com/kalambet/tutorcore/internal/ingest"
	"github.com/kalambet/tutorcore/internal/review"
)

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search ingested study material",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		style, _ := cmd.Flags().GetString("style")
		depth, _ := cmd.Flags().GetInt("depth")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/search", api.SearchRequest{
			Query: strings.Join(args, " "),
			Style: style,
			Depth: depth,
		})
		if err != nil {
			return err
		}

		var result api.SearchResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), result)
		}
		printSearchResults(cmd.OutOrStdout(), result)
		return nil
	},
}

func init() {
	searchCmd.Flags().String("style", "", "response style: brief, standard, comprehensive, ultra")
	searchCmd.Flags().Int("depth", 0, "number of results (overrides --style)")
	searchCmd.Flags().Bool("json", false, "print the raw JSON response")
}

func printSearchResults(w io.Writer, result api.SearchResponse) {
	if len(result.Results) == 0 {
		fmt.Fprintln(w, "No results.")
		return
	}
	for i, r := range result.Results {
		label := strings.Trim(r.Subject+" / "+r.Topic, " /")
		fmt.Fprintf(w, "%d. %s %s\n", i+1, colorize(colorBold, label), colorize(colorDim, "["+string(r.Provenance)+"]"))
		fmt.Fprintf(w, "   %s\n", truncate(strings.Join(strings.Fields(r.Text), " "), 160))
	}
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add study material to the content store",
	Long: `Add study material to the content store. Text is split into fragments
which are stored without embeddings; the backfill computes them.

Examples:
  tutorcore ingest --file ./thorax.pdf --subject Anatomy --topic Thorax
  tutorcore ingest --url https://example.com/renal.html --subject Physiology
  tutorcore ingest --text "The SA node is the pacemaker." --subject Cardiology --local`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		url, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		subject, _ := cmd.Flags().GetString("subject")
		topic, _ := cmd.Flags().GetString("topic")
		local, _ := cmd.Flags().GetBool("local")

		if text == "" && url == "" && file == "" {
			return fmt.Errorf("one of --text, --url, or --file is required")
		}
		if topic == "" && file != "" {
			topic = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		}

		if local {
			if url != "" {
				return fmt.Errorf("--url needs a running server, drop --local")
			}
			return ingestLocal(cmd.Context(), text, file, subject, topic)
		}

		req, err := buildIngestRequest(text, url, file, subject, topic)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/ingest", req)
		if err != nil {
			return err
		}

		var result api.IngestResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Stored %d fragments", result.Fragments)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("file", "", "file to ingest (.txt, .md, .pdf, .html)")
	ingestCmd.Flags().String("subject", "", "subject, e.g. Anatomy")
	ingestCmd.Flags().String("topic", "", "topic within the subject (default: file name)")
	ingestCmd.Flags().Bool("local", false, "write to the database directly instead of through the server")
}

func buildIngestRequest(text, url, file, subject, topic string) (api.IngestRequest, error) {
	req := api.IngestRequest{Subject: subject, Topic: topic}
	switch {
	case text != "":
		req.Type = "text"
		req.Content = text
	case url != "":
		req.Type = "url"
		req.URL = url
	case file != "":
		format, err := ingest.FormatForPath(file)
		if err != nil {
			return req, err
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return req, fmt.Errorf("reading file: %w", err)
		}
		req.Type = "file"
		req.Format = string(format)
		req.Content = base64.StdEncoding.EncodeToString(data)
	}
	return req, nil
}

func ingestLocal(ctx context.Context, text, file, subject, topic string) error {
	if file != "" {
		loaded, err := ingest.LoadFile(file)
		if err != nil {
			return err
		}
		text = loaded
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	frags, err := a.ingester.Ingest(ctx, ingest.Document{Subject: subject, Topic: topic, Text: text})
	if err != nil {
		return err
	}
	printSuccess("Stored %d fragments", len(frags))
	printStep("Run `tutorcore backfill` to embed them")
	return nil
}

// --- backfill ---

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Compute missing embeddings",
	Long: `Compute embeddings for every fragment that has none. Runs in the
foreground until done or interrupted. With --server the running server's
background backfill is started (or stopped with --stop) instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetBool("server")
		stop, _ := cmd.Flags().GetBool("stop")
		if remote || stop {
			return backfillRemote(cmd.Context(), stop)
		}
		return backfillLocal(cmd.Context())
	},
}

func init() {
	backfillCmd.Flags().Bool("server", false, "start the backfill in the running server")
	backfillCmd.Flags().Bool("stop", false, "stop the running server's backfill")
}

func backfillRemote(ctx context.Context, stop bool) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	path := "/debug/backfill"
	if stop {
		path = "/debug/stop-backfill"
	}
	resp, err := client.post(ctx, path, nil)
	if err != nil {
		return err
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	printSuccess("Backfill %s", result["status"])
	return nil
}

func backfillLocal(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.ensureProvider(ctx, os.Stderr); err != nil {
		return err
	}

	printStep("Embedding pending fragments with %s", a.provider.Name())
	start := time.Now()
	stats, err := a.worker.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		printWarning("Interrupted")
	}
	printSuccess("Embedded %d fragments in %s", stats.Processed, time.Since(start).Round(time.Millisecond))
	if stats.Failed > 0 {
		printWarning("%d fragments failed and were skipped", stats.Failed)
	}
	return nil
}

// --- schedule ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Print the next review schedule for a rating",
	Long: `Print the schedule that follows rating a card. Without --interval the
card is treated as never reviewed.

Examples:
  tutorcore schedule --quality 3
  tutorcore schedule --interval 6 --ease 2.36 --quality 4`,
	RunE: func(cmd *cobra.Command, args []string) error {
		quality, _ := cmd.Flags().GetInt("quality")
		interval, _ := cmd.Flags().GetInt("interval")
		ease, _ := cmd.Flags().GetFloat64("ease")

		q := review.Quality(quality)
		if err := q.Validate(); err != nil {
			return err
		}

		var prev *review.State
		if interval > 0 {
			prev = &review.State{Interval: interval, EaseFactor: ease}
		}
		next := review.Next(prev, q, time.Now())

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "interval:    %d days\n", next.Interval)
		fmt.Fprintf(w, "ease factor: %.2f\n", next.EaseFactor)
		fmt.Fprintf(w, "due:         %s\n", next.DueDate.Format("2006-01-02"))
		return nil
	},
}

func init() {
	scheduleCmd.Flags().Int("quality", -1, "recall quality from 0 (forgot) to 4 (easy)")
	scheduleCmd.Flags().Int("interval", 0, "previous interval in days (0 for a new card)")
	scheduleCmd.Flags().Float64("ease", 2.5, "previous ease factor")
	scheduleCmd.MarkFlagRequired("quality")
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <flashcards|questions|plan> <prompt>",
	Short: "Generate study material through the server's provider",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/generate", api.GenerateRequest{
			Kind:   args[0],
			Prompt: strings.Join(args[1:], " "),
		})
		if err != nil {
			return err
		}
		var result api.GenerateResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result.Artifact)
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
