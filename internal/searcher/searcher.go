package searcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/notesearch-mcp/internal/filter"
	"github.com/dshills/notesearch-mcp/internal/fusion"
	"github.com/dshills/notesearch-mcp/internal/retrieval"
	"github.com/dshills/notesearch-mcp/pkg/types"
)

// Mode selects which providers a search runs
type Mode string

const (
	ModeHybrid       Mode = "hybrid"        // Lexical + semantic with RRF
	ModeFTSOnly      Mode = "fts_only"      // BM25 text search only
	ModeSemanticOnly Mode = "semantic_only" // Vector similarity only
)

// ParseMode accepts the canonical names plus the aliases used by older clients.
// An empty string selects ModeHybrid.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hybrid":
		return ModeHybrid, nil
	case "fts_only", "fts", "keyword", "lexical":
		return ModeFTSOnly, nil
	case "semantic_only", "semantic", "vector":
		return ModeSemanticOnly, nil
	default:
		return "", fmt.Errorf("unsupported search mode: %q", s)
	}
}

// NeedsText reports whether the mode runs lexical search
func (m Mode) NeedsText() bool { return m == ModeHybrid || m == ModeFTSOnly }

// NeedsVector reports whether the mode runs semantic search
func (m Mode) NeedsVector() bool { return m == ModeHybrid || m == ModeSemanticOnly }

const (
	// DefaultLimit is applied by callers that have no limit of their own
	DefaultLimit = 10
	// MaxLimit is the largest Request.Limit accepted
	MaxLimit = 100
	// DefaultCandidateMultiplier sizes each provider's list relative to the limit
	DefaultCandidateMultiplier = 3
	// MaxCandidates caps each provider's list
	MaxCandidates = 1000
)

// Request contains parameters for a search operation
type Request struct {
	Query       string
	QueryVector []float32
	Mode        Mode
	Limit       int // 0 returns no hits; above MaxLimit is invalid
	Filter      *types.StrictTagFilterInput
	MinScore    float32 // Fused hits below this are dropped
}

// Response contains search results and metadata
type Response struct {
	Hits          []types.SearchHit
	Mode          Mode
	Duration      time.Duration
	LexicalCount  int
	SemanticCount int
	Dropped       []filter.DroppedNotation
}

// FilterCompiler turns caller filters into predicates
type FilterCompiler interface {
	Compile(ctx context.Context, in *types.StrictTagFilterInput) (*filter.Compiled, error)
}

// Recorder receives search metrics
type Recorder interface {
	ObserveSearch(mode, code string, d time.Duration)
	ObserveProvider(provider string, hits int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSearch(string, string, time.Duration) {}
func (nopRecorder) ObserveProvider(string, int)                 {}

// Searcher runs the filter, retrieval, fusion pipeline
type Searcher struct {
	compiler   FilterCompiler
	lexical    retrieval.Provider
	semantic   retrieval.Provider
	fusion     *fusion.Engine
	logger     *zap.Logger
	recorder   Recorder
	multiplier int

	lexicalWeight  float64
	semanticWeight float64
}

// Option configures a Searcher
type Option func(*Searcher)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFusion replaces the default RRF engine
func WithFusion(engine *fusion.Engine) Option {
	return func(s *Searcher) {
		if engine != nil {
			s.fusion = engine
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(s *Searcher) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithCandidateMultiplier sets how many candidates per hit each provider returns
func WithCandidateMultiplier(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.multiplier = n
		}
	}
}

// WithWeights sets per-provider fusion weights. Non-positive means 1.0.
func WithWeights(lexical, semantic float64) Option {
	return func(s *Searcher) {
		s.lexicalWeight = lexical
		s.semanticWeight = semantic
	}
}

// New creates a Searcher
func New(compiler FilterCompiler, lexical, semantic retrieval.Provider, opts ...Option) *Searcher {
	s := &Searcher{
		compiler:   compiler,
		lexical:    lexical,
		semantic:   semantic,
		fusion:     fusion.New(fusion.DefaultK),
		logger:     zap.NewNop(),
		recorder:   nopRecorder{},
		multiplier: DefaultCandidateMultiplier,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs one request through Received, FilterResolved, ListsRetrieved,
// Fused, Limited and Returned. Any failure aborts the request; partial
// results are never returned.
func (s *Searcher) Search(ctx context.Context, req Request) (resp *Response, err error) {
	start := time.Now()
	mode := req.Mode
	defer func() {
		s.recorder.ObserveSearch(string(mode), types.ErrorCode(err), time.Since(start))
		if err != nil {
			s.logger.Error("search failed",
				zap.String("mode", string(mode)),
				zap.String("code", types.ErrorCode(err)),
				zap.Error(err))
		}
	}()

	// Received
	parsed, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, &StageError{Stage: StageReceived, Err: fmt.Errorf("%w: %v", types.ErrInvalidQuery, err)}
	}
	mode = parsed
	limit, err := s.validate(mode, &req)
	if err != nil {
		return nil, &StageError{Stage: StageReceived, Err: err}
	}
	s.trace(StageReceived, mode, zap.Int("limit", limit))

	// FilterResolved
	if err := ctx.Err(); err != nil {
		return nil, &StageError{Stage: StageReceived, Err: err}
	}
	compiled, err := s.compiler.Compile(ctx, req.Filter)
	if err != nil {
		return nil, &StageError{Stage: StageFilterResolved, Err: err}
	}
	s.trace(StageFilterResolved, mode,
		zap.Stringer("predicate", compiled.Predicate),
		zap.Int("dropped", len(compiled.Dropped)))

	resp = &Response{
		Hits:    []types.SearchHit{},
		Mode:    mode,
		Dropped: compiled.Dropped,
	}
	if limit == 0 {
		resp.Duration = time.Since(start)
		return resp, nil
	}

	// ListsRetrieved
	lists, err := s.retrieve(ctx, mode, req, compiled.Predicate, s.candidates(limit))
	if err != nil {
		return nil, &StageError{Stage: StageListsRetrieved, Err: err}
	}
	for _, l := range lists {
		switch l.Source {
		case retrieval.SourceLexical:
			resp.LexicalCount = len(l.Items)
		case retrieval.SourceSemantic:
			resp.SemanticCount = len(l.Items)
		}
		s.recorder.ObserveProvider(l.Source, len(l.Items))
	}
	s.trace(StageListsRetrieved, mode,
		zap.Int("lexical", resp.LexicalCount),
		zap.Int("semantic", resp.SemanticCount))

	// Fused; MinScore filters before the limit
	fused := s.fusion.Fuse(lists, MaxCandidates)
	fused = applyMinScore(fused, req.MinScore)
	s.trace(StageFused, mode, zap.Int("fused", len(fused)))

	// Limited
	if len(fused) > limit {
		fused = fused[:limit]
	}
	s.trace(StageLimited, mode, zap.Int("hits", len(fused)))

	// Returned
	resp.Hits = dedupe(fused)
	resp.Duration = time.Since(start)
	s.trace(StageReturned, mode, zap.Duration("duration", resp.Duration))
	return resp, nil
}

// validate checks the request against the mode and returns the effective limit
func (s *Searcher) validate(mode Mode, req *Request) (int, error) {
	if req.Limit < 0 || req.Limit > MaxLimit {
		return 0, fmt.Errorf("%w: limit must be between 0 and %d, got %d", types.ErrInvalidQuery, MaxLimit, req.Limit)
	}
	if mode.NeedsText() && strings.TrimSpace(req.Query) == "" {
		return 0, fmt.Errorf("%w: query cannot be empty", types.ErrInvalidQuery)
	}
	if mode.NeedsVector() && len(req.QueryVector) == 0 {
		return 0, fmt.Errorf("%w: %s search needs a query vector", types.ErrInvalidQuery, mode)
	}
	if req.MinScore < 0 || req.MinScore > 1 {
		return 0, fmt.Errorf("%w: min score must be between 0 and 1", types.ErrInvalidQuery)
	}

	return req.Limit, nil
}

func (s *Searcher) candidates(limit int) int {
	n := limit * s.multiplier
	if n > MaxCandidates {
		n = MaxCandidates
	}
	return n
}

// retrieve runs the providers selected by mode. In hybrid mode both run
// concurrently and both must succeed.
func (s *Searcher) retrieve(ctx context.Context, mode Mode, req Request, pred *filter.Predicate, n int) ([]fusion.RankedList, error) {
	q := retrieval.Query{Text: req.Query, Vector: req.QueryVector}

	switch mode {
	case ModeFTSOnly:
		list, err := s.lexical.Retrieve(ctx, q, pred, n)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		list.Weight = s.lexicalWeight
		return []fusion.RankedList{list}, nil

	case ModeSemanticOnly:
		list, err := s.semantic.Retrieve(ctx, q, pred, n)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		list.Weight = s.semanticWeight
		return []fusion.RankedList{list}, nil
	}

	var lexical, semantic fusion.RankedList
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := s.lexical.Retrieve(gctx, q, pred, n)
		if err != nil {
			return err
		}
		lexical = list
		return nil
	})
	g.Go(func() error {
		list, err := s.semantic.Retrieve(gctx, q, pred, n)
		if err != nil {
			return err
		}
		semantic = list
		return nil
	})
	if err := g.Wait(); err != nil {
		// Report the caller's cancellation rather than a sibling's fallout
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Lexical first: ties and metadata favor the lexical list
	lexical.Weight = s.lexicalWeight
	semantic.Weight = s.semanticWeight
	return []fusion.RankedList{lexical, semantic}, nil
}

func (s *Searcher) trace(stage Stage, mode Mode, fields ...zap.Field) {
	if ce := s.logger.Check(zap.DebugLevel, "search stage"); ce != nil {
		ce.Write(append([]zap.Field{zap.Stringer("stage", stage), zap.String("mode", string(mode))}, fields...)...)
	}
}

func applyMinScore(hits []types.SearchHit, threshold float32) []types.SearchHit {
	if threshold <= 0 {
		return hits
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	return out
}

// dedupe keeps the first occurrence of every note ID
func dedupe(hits []types.SearchHit) []types.SearchHit {
	seen := make(map[string]struct{}, len(hits))
	out := make([]types.SearchHit, 0, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.NoteID]; ok {
			continue
		}
		seen[h.NoteID] = struct{}{}
		out = append(out, h)
	}
	return out
}
