package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/notesearch-mcp/internal/mcp"
	"github.com/dshills/notesearch-mcp/internal/searcher"
	"github.com/dshills/notesearch-mcp/internal/storage"
	"github.com/dshills/notesearch-mcp/pkg/types"
)

func serveCommand(c *cli.Context) error {
	app, err := setup(c)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := mcp.NewServer(mcp.Config{
		Storage:       app.store,
		Searcher:      app.searcher,
		Filter:        app.evaluator,
		Indexer:       app.indexer,
		Embedder:      app.embedder,
		Logger:        app.logger,
		Metrics:       app.metrics,
		DefaultLimit:  app.cfg.Search.DefaultLimit,
		SearchTimeout: app.cfg.Search.Timeout(),
		IndexerConfig: app.indexerConfig(),
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	app.logger.Info("notesearch MCP server starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", storage.DriverName),
		zap.Bool("vector_extension", storage.VectorExtensionAvailable))

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// stdin closing ends the session and stops the metrics endpoint too
		defer cancel()
		return srv.Serve(gctx)
	})

	addr := c.String("metrics-addr")
	if addr == "" {
		addr = app.cfg.Metrics.Addr
	}
	if addr != "" {
		httpSrv := &http.Server{
			Addr:              addr,
			Handler:           app.metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			app.logger.Info("metrics endpoint listening", zap.String("addr", addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	app.logger.Info("server stopped")
	return err
}

// searchOutput is the JSON shape of the search command
type searchOutput struct {
	Query    string                      `json:"query"`
	Mode     string                      `json:"mode"`
	Hits     []types.SearchHit           `json:"hits"`
	Dropped  interface{}                 `json:"dropped,omitempty"`
	Verified *bool                       `json:"verified,omitempty"`
	Counts   map[string]int              `json:"counts"`
	Filter   *types.StrictTagFilterInput `json:"filter,omitempty"`
}

func searchCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("query is required")
	}

	mode, err := searcher.ParseMode(c.String("mode"))
	if err != nil {
		return err
	}

	app, err := setup(c)
	if err != nil {
		return err
	}
	defer app.Close()

	limit := c.Int("limit")
	if limit < 0 {
		limit = app.cfg.Search.DefaultLimit
	}

	ctx := c.Context
	if timeout := app.cfg.Search.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	in := filterFromFlags(c)
	req := searcher.Request{
		Query:    query,
		Mode:     mode,
		Limit:    limit,
		Filter:   in,
		MinScore: float32(c.Float64("min-score")),
	}
	if mode.NeedsVector() {
		vec, err := app.embedder.Embed(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to embed query: %w", err)
		}
		req.QueryVector = vec
	}

	resp, err := app.searcher.Search(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", types.ErrorCode(err), err)
	}

	var verified *bool
	if c.Bool("verify") {
		if err := verifyHits(ctx, app, in, resp.Hits); err != nil {
			return err
		}
		ok := true
		verified = &ok
	}

	if c.Bool("json") {
		out := searchOutput{
			Query:    query,
			Mode:     string(resp.Mode),
			Hits:     resp.Hits,
			Verified: verified,
			Counts: map[string]int{
				"lexical":  resp.LexicalCount,
				"semantic": resp.SemanticCount,
			},
			Filter: in,
		}
		if len(resp.Dropped) > 0 {
			out.Dropped = resp.Dropped
		}
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, d := range resp.Dropped {
		fmt.Fprintf(c.App.ErrWriter, "dropped %s %q: no matching concept, scheme or tag\n", d.Field, d.Notation)
	}
	if len(resp.Hits) == 0 {
		fmt.Fprintln(c.App.Writer, "No results.")
		return nil
	}
	for i, hit := range resp.Hits {
		title := hit.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(c.App.Writer, "%2d. %.4f  %s  %s\n", i+1, hit.Score, hit.NoteID, title)
		if len(hit.Tags) > 0 {
			fmt.Fprintf(c.App.Writer, "    tags: %s\n", strings.Join(hit.Tags, ", "))
		}
		if hit.Snippet != "" {
			fmt.Fprintf(c.App.Writer, "    %s\n", strings.Join(strings.Fields(hit.Snippet), " "))
		}
	}
	if verified != nil {
		fmt.Fprintf(c.App.Writer, "verified %d hits against stored associations\n", len(resp.Hits))
	}
	return nil
}

// filterFromFlags builds a filter input, nil when no filter flag is set
func filterFromFlags(c *cli.Context) *types.StrictTagFilterInput {
	in := &types.StrictTagFilterInput{
		RequiredTags:    c.StringSlice("tag"),
		AnyTags:         c.StringSlice("any-tag"),
		ExcludedTags:    c.StringSlice("exclude-tag"),
		RequiredSchemes: c.StringSlice("scheme"),
		ExcludedSchemes: c.StringSlice("exclude-scheme"),
	}
	if n := c.Int("min-tag-count"); n >= 0 {
		in.MinTagCount = &n
	}
	if c.Bool("exclude-untagged") {
		include := false
		in.IncludeUntagged = &include
	}
	if in.ElementCount() == 0 && in.MinTagCount == nil && in.IncludeUntagged == nil {
		return nil
	}
	return in
}

// verifyHits re-evaluates the filter in memory against each hit's stored
// concepts and tags.
func verifyHits(ctx context.Context, app *components, in *types.StrictTagFilterInput, hits []types.SearchHit) error {
	compiled, err := app.evaluator.Compile(ctx, in)
	if err != nil {
		return err
	}

	var violations []string
	for _, hit := range hits {
		assoc, err := app.store.NoteAssociations(ctx, hit.NoteID)
		if err != nil {
			return fmt.Errorf("failed to load associations for %s: %w", hit.NoteID, err)
		}
		if !compiled.Predicate.Matches(assoc) {
			violations = append(violations, hit.NoteID)
		}
	}
	if len(violations) > 0 {
		return fmt.Errorf("%d hits violate the filter %s: %s",
			len(violations), compiled.Predicate, strings.Join(violations, ", "))
	}
	return nil
}

func ingestCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("path is required")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	app, err := setup(c)
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.indexerConfig()
	if n := c.Int("workers"); n > 0 {
		cfg.Workers = n
	}
	if n := c.Int("batch-size"); n > 0 {
		cfg.BatchSize = n
	}
	cfg.Force = c.Bool("force")

	stats, err := app.indexer.IngestPath(c.Context, path, &cfg)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Files read:         %d\n", stats.FilesRead)
	fmt.Fprintf(w, "Files failed:       %d\n", stats.FilesFailed)
	fmt.Fprintf(w, "Schemes upserted:   %d\n", stats.SchemesUpserted)
	fmt.Fprintf(w, "Concepts upserted:  %d\n", stats.ConceptsUpserted)
	fmt.Fprintf(w, "Notes indexed:      %d\n", stats.NotesIndexed)
	fmt.Fprintf(w, "Notes skipped:      %d\n", stats.NotesSkipped)
	fmt.Fprintf(w, "Notes failed:       %d\n", stats.NotesFailed)
	fmt.Fprintf(w, "Embeddings created: %d\n", stats.EmbeddingsCreated)
	fmt.Fprintf(w, "Duration:           %v\n", stats.Duration.Round(time.Millisecond))

	for _, msg := range stats.ErrorMessages {
		fmt.Fprintf(c.App.ErrWriter, "error: %s\n", msg)
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	app, err := setup(c)
	if err != nil {
		return err
	}
	defer app.Close()

	status, err := app.store.GetStatus(c.Context)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"status":   status,
			"embedder": map[string]interface{}{"provider": app.embedder.Provider(), "model": app.embedder.Model()},
		})
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Notes:           %d (%d with concepts)\n", status.NotesCount, status.TaggedNotesCount)
	fmt.Fprintf(w, "Schemes:         %d\n", status.SchemesCount)
	fmt.Fprintf(w, "Concepts:        %d\n", status.ConceptsCount)
	fmt.Fprintf(w, "Embeddings:      %d\n", status.EmbeddingsCount)
	fmt.Fprintf(w, "Schema version:  %s\n", status.SchemaVersion)
	fmt.Fprintf(w, "Index size:      %.2f MB\n", status.IndexSizeMB)
	fmt.Fprintf(w, "FTS index:       %v\n", status.Health.FTSIndexBuilt)
	fmt.Fprintf(w, "Embedder:        %s (%s)\n", app.embedder.Provider(), app.embedder.Model())
	return nil
}

func versionCommand(c *cli.Context) error {
	w := c.App.Writer
	fmt.Fprintf(w, "notesearch MCP server\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
	fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
	fmt.Fprintf(w, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
	return nil
}
