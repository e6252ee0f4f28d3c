package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/notesearch-mcp/internal/embedder"
	"github.com/dshills/notesearch-mcp/internal/storage"
	"github.com/dshills/notesearch-mcp/pkg/types"
)

// ErrIngestInProgress is returned when another ingestion holds the lock
var ErrIngestInProgress = errors.New("ingestion already in progress")

// noteNamespace seeds deterministic IDs for notes declared without one
var noteNamespace = uuid.MustParse("6f1c2a52-3d0e-4b8a-9c71-5e2f8d4a7b10")

// Recorder receives ingestion counts
type Recorder interface {
	ObserveIngest(status string, n int)
}

// Indexer coordinates the ingestion pipeline: parse -> resolve -> embed -> store
type Indexer struct {
	storage  storage.Storage
	embedder embedder.Embedder
	logger   *zap.Logger
	recorder Recorder

	lock IndexLock
	// SQLite allows one writer; batches embed concurrently and write in turn
	writeMu sync.Mutex
}

// Option configures an Indexer
type Option func(*Indexer)

// WithEmbedder enables embedding generation. Without it notes are stored
// for lexical search only.
func WithEmbedder(e embedder.Embedder) Option {
	return func(idx *Indexer) { idx.embedder = e }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(idx *Indexer) {
		if logger != nil {
			idx.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(idx *Indexer) { idx.recorder = r }
}

// Config contains configuration for one ingestion run
type Config struct {
	Workers   int  // Concurrent batches (default: runtime.NumCPU())
	BatchSize int  // Notes per embedding call and transaction (default: 20)
	Force     bool // Re-ingest notes whose content is unchanged
}

// Statistics contains statistics about the ingestion run
type Statistics struct {
	FilesRead         int
	FilesFailed       int
	SchemesUpserted   int
	ConceptsUpserted  int
	NotesIndexed      int
	NotesSkipped      int
	NotesFailed       int
	EmbeddingsCreated int
	Duration          time.Duration
	ErrorMessages     []string
}

// New creates a new Indexer instance
func New(store storage.Storage, opts ...Option) *Indexer {
	idx := &Indexer{
		storage: store,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IngestPath ingests a note file or every note file under a directory.
// Files that fail to parse are reported in Statistics and skipped.
func (idx *Indexer) IngestPath(ctx context.Context, root string, config *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIngestInProgress
	}
	defer idx.lock.Release()

	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	files, err := DiscoverFiles(root)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	docs := make([]*Document, 0, len(files))
	for _, path := range files {
		doc, err := LoadDocument(path)
		if err != nil {
			stats.FilesFailed++
			stats.ErrorMessages = append(stats.ErrorMessages, err.Error())
			idx.logger.Warn("skipping note file", zap.String("path", path), zap.Error(err))
			continue
		}
		stats.FilesRead++
		docs = append(docs, doc)
	}

	if err := idx.ingest(ctx, docs, config, stats); err != nil {
		return nil, err
	}
	stats.Duration = time.Since(startTime)
	idx.finish(stats)
	return stats, nil
}

// Ingest ingests already parsed documents
func (idx *Indexer) Ingest(ctx context.Context, docs []*Document, config *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIngestInProgress
	}
	defer idx.lock.Release()

	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return nil, err
		}
	}

	if err := idx.ingest(ctx, docs, config, stats); err != nil {
		return nil, err
	}
	stats.Duration = time.Since(startTime)
	idx.finish(stats)
	return stats, nil
}

func (idx *Indexer) finish(stats *Statistics) {
	if idx.recorder != nil {
		idx.recorder.ObserveIngest("indexed", stats.NotesIndexed)
		idx.recorder.ObserveIngest("skipped", stats.NotesSkipped)
		idx.recorder.ObserveIngest("failed", stats.NotesFailed)
	}
	idx.logger.Info("ingestion finished",
		zap.Int("files", stats.FilesRead),
		zap.Int("indexed", stats.NotesIndexed),
		zap.Int("skipped", stats.NotesSkipped),
		zap.Int("failed", stats.NotesFailed),
		zap.Int("embeddings", stats.EmbeddingsCreated),
		zap.Duration("duration", stats.Duration))
}

// noteJob is one note on its way to the store
type noteJob struct {
	id       string
	source   string
	doc      NoteDoc
	hash     [32]byte
	concepts []types.ConceptID
}

// counters are shared by concurrent batches
type counters struct {
	indexed    atomic.Int32
	skipped    atomic.Int32
	failed     atomic.Int32
	embeddings atomic.Int32

	mu     sync.Mutex
	errors []string
}

func (c *counters) fail(job *noteJob, err error) {
	c.failed.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, fmt.Sprintf("%s: %v", job.label(), err))
}

func (j *noteJob) label() string {
	if j.source == "" {
		return j.id
	}
	return j.source + "#" + j.id
}

func (idx *Indexer) ingest(ctx context.Context, docs []*Document, config *Config, stats *Statistics) error {
	cfg := Config{Workers: runtime.NumCPU(), BatchSize: 20}
	if config != nil {
		cfg = *config
		if cfg.Workers <= 0 {
			cfg.Workers = runtime.NumCPU()
		}
		if cfg.BatchSize <= 0 {
			cfg.BatchSize = 20
		}
	}
	if cfg.BatchSize > embedder.MaxBatchSize {
		cfg.BatchSize = embedder.MaxBatchSize
	}

	if err := idx.storeTaxonomy(ctx, docs, stats); err != nil {
		return fmt.Errorf("failed to store taxonomy: %w", err)
	}

	var jobs []*noteJob
	for _, doc := range docs {
		for i, n := range doc.Notes {
			jobs = append(jobs, &noteJob{
				id:     noteID(doc.source, i, n),
				source: doc.source,
				doc:    n,
				hash:   n.hash(),
			})
		}
	}

	c := &counters{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := 0; i < len(jobs); i += cfg.BatchSize {
		end := i + cfg.BatchSize
		if end > len(jobs) {
			end = len(jobs)
		}
		batch := jobs[i:end]

		g.Go(func() error {
			return idx.ingestBatch(gctx, batch, cfg.Force, c)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	stats.NotesIndexed = int(c.indexed.Load())
	stats.NotesSkipped = int(c.skipped.Load())
	stats.NotesFailed = int(c.failed.Load())
	stats.EmbeddingsCreated = int(c.embeddings.Load())
	stats.ErrorMessages = append(stats.ErrorMessages, c.errors...)
	return nil
}

// storeTaxonomy upserts every declared scheme and concept in one transaction
func (idx *Indexer) storeTaxonomy(ctx context.Context, docs []*Document, stats *Statistics) error {
	var hasSchemes bool
	for _, doc := range docs {
		if len(doc.Schemes) > 0 {
			hasSchemes = true
			break
		}
	}
	if !hasSchemes {
		return nil
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, doc := range docs {
		for _, sd := range doc.Schemes {
			scheme := &storage.Scheme{Notation: sd.Notation, Title: sd.Title}
			if err := tx.UpsertScheme(ctx, scheme); err != nil {
				return err
			}
			stats.SchemesUpserted++

			for _, cd := range sd.Concepts {
				concept := &storage.Concept{
					SchemeID:  scheme.ID,
					Notation:  cd.Notation,
					PrefLabel: cd.PrefLabel,
					AltLabels: cd.AltLabels,
				}
				if err := tx.UpsertConcept(ctx, concept); err != nil {
					return err
				}
				stats.ConceptsUpserted++
			}
		}
	}

	return tx.Commit()
}

// ingestBatch resolves, embeds and stores one batch of notes
func (idx *Indexer) ingestBatch(ctx context.Context, batch []*noteJob, force bool, c *counters) error {
	pending := make([]*noteJob, 0, len(batch))
	for _, job := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !force {
			unchanged, err := idx.unchanged(ctx, job)
			if err != nil {
				return err
			}
			if unchanged {
				c.skipped.Add(1)
				continue
			}
		}

		concepts, err := idx.resolveConcepts(ctx, job.doc.Concepts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			idx.logger.Warn("note not ingested", zap.String("note", job.label()), zap.Error(err))
			c.fail(job, err)
			continue
		}
		job.concepts = concepts
		pending = append(pending, job)
	}
	if len(pending) == 0 {
		return nil
	}

	var vectors [][]float32
	var provider, model string
	if idx.embedder != nil {
		provider, model = idx.embedder.Provider(), idx.embedder.Model()
		texts := make([]string, len(pending))
		for i, job := range pending {
			texts[i] = job.doc.text()
		}
		var err error
		vectors, err = idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			idx.logger.Warn("embedding batch failed", zap.Int("notes", len(pending)), zap.Error(err))
			for _, job := range pending {
				c.fail(job, err)
			}
			return nil
		}
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var indexed, embedded int32
	for i, job := range pending {
		var vec []float32
		if vectors != nil {
			vec = vectors[i]
		}
		if err := storeNote(ctx, tx, job, vec, provider, model); err != nil {
			c.fail(job, err)
			continue
		}
		indexed++
		if vec != nil {
			embedded++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	c.indexed.Add(indexed)
	c.embeddings.Add(embedded)
	return nil
}

// unchanged reports whether the stored note has the same content hash and,
// when embedding is enabled, an embedding from the current model.
func (idx *Indexer) unchanged(ctx context.Context, job *noteJob) (bool, error) {
	existing, err := idx.storage.GetNote(ctx, job.id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if existing.ContentHash != job.hash {
		return false, nil
	}
	if idx.embedder == nil {
		return true, nil
	}

	emb, err := idx.storage.GetEmbedding(ctx, job.id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return emb.Provider == idx.embedder.Provider() && emb.Model == idx.embedder.Model(), nil
}

// resolveConcepts maps "scheme:notation" or bare notations to concept IDs
func (idx *Indexer) resolveConcepts(ctx context.Context, refs []string) ([]types.ConceptID, error) {
	ids := make([]types.ConceptID, 0, len(refs))
	for _, ref := range refs {
		schemeName, notation := splitConceptRef(ref)
		if notation == "" {
			continue
		}

		var (
			concept types.ConceptRef
			ok      bool
			err     error
		)
		if schemeName == "" {
			concept, ok, err = idx.storage.ResolveConcept(ctx, notation)
		} else {
			var schemeID types.SchemeID
			schemeID, ok, err = idx.storage.ResolveScheme(ctx, schemeName)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("unknown scheme %q", schemeName)
			}
			concept, ok, err = idx.storage.ResolveConceptInScheme(ctx, schemeID, notation)
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("unknown concept %q", ref)
		}
		ids = append(ids, concept.ID)
	}
	return ids, nil
}

func storeNote(ctx context.Context, tx storage.Tx, job *noteJob, vec []float32, provider, model string) error {
	note := &storage.Note{
		ID:          job.id,
		Title:       job.doc.Title,
		Content:     job.doc.Content,
		ContentHash: job.hash,
		SourcePath:  job.source,
	}
	if err := tx.UpsertNote(ctx, note); err != nil {
		return err
	}
	if err := tx.SetNoteTags(ctx, note.ID, job.doc.Tags); err != nil {
		return err
	}
	if err := tx.SetNoteConcepts(ctx, note.ID, job.concepts); err != nil {
		return err
	}
	if vec == nil {
		return nil
	}
	return tx.UpsertEmbedding(ctx, &storage.Embedding{
		NoteID:    note.ID,
		Vector:    storage.SerializeVector(vec),
		Dimension: len(vec),
		Provider:  provider,
		Model:     model,
	})
}

// noteID returns the declared ID or a stable one derived from where the note
// was declared, so re-ingesting a file updates rather than duplicates.
func noteID(source string, index int, n NoteDoc) string {
	if n.ID != "" {
		return n.ID
	}
	if source != "" {
		return uuid.NewSHA1(noteNamespace, []byte(source+"#"+strconv.Itoa(index))).String()
	}
	return uuid.NewSHA1(noteNamespace, []byte(n.text())).String()
}
