package storage

import (
	"context"
	"time"

	"github.com/dshills/notesearch-mcp/internal/filter"
	"github.com/dshills/notesearch-mcp/pkg/types"
)

// Reader covers every read-only operation. Search paths only use Reader.
type Reader interface {
	// Note operations
	GetNote(ctx context.Context, noteID string) (*Note, error)
	ListNotes(ctx context.Context, pred *filter.Predicate, limit int) ([]*Note, error)
	NoteAssociations(ctx context.Context, noteID string) (types.NoteAssociations, error)

	// Taxonomy operations
	ResolveConcept(ctx context.Context, notation string) (types.ConceptRef, bool, error)
	ResolveConceptInScheme(ctx context.Context, schemeID types.SchemeID, notation string) (types.ConceptRef, bool, error)
	ResolveScheme(ctx context.Context, notation string) (types.SchemeID, bool, error)
	TagExists(ctx context.Context, tag string) (bool, error)

	// Embedding operations
	GetEmbedding(ctx context.Context, noteID string) (*Embedding, error)

	// Search operations
	SearchText(ctx context.Context, query string, limit int, pred *filter.Predicate) ([]TextResult, error)
	SearchVector(ctx context.Context, vector []float32, limit int, pred *filter.Predicate) ([]VectorResult, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)
}

// Writer covers ingestion operations
type Writer interface {
	// Note operations
	UpsertNote(ctx context.Context, note *Note) error
	DeleteNote(ctx context.Context, noteID string) error
	SetNoteTags(ctx context.Context, noteID string, tags []string) error
	SetNoteConcepts(ctx context.Context, noteID string, conceptIDs []types.ConceptID) error

	// Taxonomy operations
	UpsertScheme(ctx context.Context, scheme *Scheme) error
	UpsertConcept(ctx context.Context, concept *Concept) error

	// Embedding operations
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
}

// Storage defines the interface for persisting and querying notes
type Storage interface {
	Reader
	Writer

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Reader
	Writer
	Commit() error
	Rollback() error
}

// Note is a knowledge-base entry
type Note struct {
	ID          string
	Title       string
	Content     string
	ContentHash [32]byte
	SourcePath  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Scheme is a concept scheme, a named vocabulary of concepts
type Scheme struct {
	ID        types.SchemeID
	Notation  string
	Title     string
	CreatedAt time.Time
}

// Concept is a taxonomy node. Notation is hierarchical, segments separated by "/".
type Concept struct {
	ID        types.ConceptID
	SchemeID  types.SchemeID
	Notation  string
	PrefLabel string
	AltLabels []string
	CreatedAt time.Time
}

// Embedding is a note's stored vector
type Embedding struct {
	NoteID    string
	Vector    []byte // Serialized float32 array
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// TextResult is a full-text search hit
type TextResult struct {
	NoteID    string
	Title     string
	Snippet   string
	Tags      []string
	BM25Score float64 // Normalized to (0, 1], higher is better
}

// VectorResult is a vector similarity hit
type VectorResult struct {
	NoteID          string
	Title           string
	Snippet         string
	Tags            []string
	SimilarityScore float64
}

// Status contains statistics about the store
type Status struct {
	NotesCount       int
	TaggedNotesCount int
	SchemesCount     int
	ConceptsCount    int
	EmbeddingsCount  int
	SchemaVersion    string
	IndexSizeMB      float64
	Health           HealthStatus
}

// HealthStatus represents the health of the store
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	FTSIndexBuilt       bool
	VectorExtension     bool
}
