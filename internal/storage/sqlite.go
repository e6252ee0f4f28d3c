package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/notesearch-mcp/internal/filter"
	"github.com/dshills/notesearch-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// DefaultMaxOpenConns is the pool size for file-backed databases. WAL mode
// lets the lexical and semantic searches read in parallel.
const DefaultMaxOpenConns = 4

// memoryPath opens a private in-memory database
const memoryPath = ":memory:"

// Option configures NewSQLiteStorage
type Option func(*options)

type options struct {
	maxOpenConns int
}

// WithMaxOpenConns sets the connection pool size for file-backed databases.
// In-memory databases always use one connection.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries implements Reader and Writer over any querier
type queries struct {
	q querier
}

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	queries
	db *sql.DB
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	queries
	tx *sql.Tx
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string, o options) (*sql.DB, error) {
	if dbPath == memoryPath {
		db, err := sql.Open(DriverName, memoryPath)
		if err != nil {
			return nil, err
		}

		// Every connection would get its own empty database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)

		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		return db, nil
	}

	db, err := sql.Open(DriverName, fileDSN(dbPath))
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetMaxIdleConns(o.maxOpenConns)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens dbPath, or a private in-memory database for
// ":memory:", and applies pending migrations.
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	o := options{maxOpenConns: DefaultMaxOpenConns}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := openDatabase(dbPath, o)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{queries: queries{q: db}, db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{queries: queries{q: tx}, tx: tx}, nil
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// Note operations

func (s queries) UpsertNote(ctx context.Context, note *Note) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.ContentHash == ([32]byte{}) {
		note.ContentHash = sha256.Sum256([]byte(note.Content))
	}

	query := `
		INSERT INTO notes (id, title, content, content_hash, source_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			content_hash = excluded.content_hash,
			source_path = excluded.source_path,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	_, err := s.q.ExecContext(ctx, query,
		note.ID, note.Title, note.Content, note.ContentHash[:],
		nullString(note.SourcePath), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert note: %w", err)
	}

	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now
	return nil
}

func (s queries) GetNote(ctx context.Context, noteID string) (*Note, error) {
	query := `
		SELECT id, title, content, content_hash, source_path, created_at, updated_at
		FROM notes
		WHERE id = ?
	`
	note, err := scanNote(s.q.QueryRowContext(ctx, query, noteID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return note, nil
}

func (s queries) DeleteNote(ctx context.Context, noteID string) error {
	result, err := s.q.ExecContext(ctx, "DELETE FROM notes WHERE id = ?", noteID)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListNotes returns notes accepted by pred in insertion order
func (s queries) ListNotes(ctx context.Context, pred *filter.Predicate, limit int) ([]*Note, error) {
	if limit <= 0 {
		return []*Note{}, nil
	}

	where, args := predicateSQL(pred)
	query := `
		SELECT n.id, n.title, n.content, n.content_hash, n.source_path, n.created_at, n.updated_at
		FROM notes n
		WHERE 1 = 1` + where + `
		ORDER BY n.seq
		LIMIT ?
	`
	args = append(args, limit)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	notes := make([]*Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNote(row rowScanner) (*Note, error) {
	var note Note
	var hash []byte
	var sourcePath sql.NullString
	if err := row.Scan(
		&note.ID, &note.Title, &note.Content, &hash, &sourcePath,
		&note.CreatedAt, &note.UpdatedAt,
	); err != nil {
		return nil, err
	}
	copy(note.ContentHash[:], hash)
	note.SourcePath = sourcePath.String
	return &note, nil
}

func (s queries) SetNoteTags(ctx context.Context, noteID string, tags []string) error {
	if _, err := s.q.ExecContext(ctx, "DELETE FROM note_tags WHERE note_id = ?", noteID); err != nil {
		return fmt.Errorf("failed to clear tags: %w", err)
	}

	query := `
		INSERT INTO note_tags (note_id, tag, tag_lower) VALUES (?, ?, ?)
		ON CONFLICT(note_id, tag_lower) DO NOTHING
	`
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, err := s.q.ExecContext(ctx, query, noteID, tag, strings.ToLower(tag)); err != nil {
			return fmt.Errorf("failed to insert tag %q: %w", tag, err)
		}
	}
	return nil
}

func (s queries) SetNoteConcepts(ctx context.Context, noteID string, conceptIDs []types.ConceptID) error {
	if _, err := s.q.ExecContext(ctx, "DELETE FROM note_concepts WHERE note_id = ?", noteID); err != nil {
		return fmt.Errorf("failed to clear concepts: %w", err)
	}

	query := `
		INSERT INTO note_concepts (note_id, concept_id) VALUES (?, ?)
		ON CONFLICT(note_id, concept_id) DO NOTHING
	`
	for _, id := range conceptIDs {
		if _, err := s.q.ExecContext(ctx, query, noteID, string(id)); err != nil {
			return fmt.Errorf("failed to associate concept %s: %w", id, err)
		}
	}
	return nil
}

// NoteAssociations loads the concepts and string tags attached to a note
func (s queries) NoteAssociations(ctx context.Context, noteID string) (types.NoteAssociations, error) {
	assoc := types.NoteAssociations{NoteID: noteID}

	var exists bool
	if err := s.q.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM notes WHERE id = ?)", noteID).Scan(&exists); err != nil {
		return assoc, err
	}
	if !exists {
		return assoc, ErrNotFound
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT c.id, c.scheme_id, c.notation
		FROM note_concepts nc
		JOIN concepts c ON c.id = nc.concept_id
		WHERE nc.note_id = ?
		ORDER BY c.notation_lower, c.id
	`, noteID)
	if err != nil {
		return assoc, fmt.Errorf("failed to load concepts: %w", err)
	}
	for rows.Next() {
		var ca types.ConceptAssociation
		var conceptID, schemeID string
		if err := rows.Scan(&conceptID, &schemeID, &ca.Notation); err != nil {
			_ = rows.Close()
			return assoc, err
		}
		ca.ConceptID = types.ConceptID(conceptID)
		ca.SchemeID = types.SchemeID(schemeID)
		assoc.Concepts = append(assoc.Concepts, ca)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return assoc, err
	}
	_ = rows.Close()

	rows, err = s.q.QueryContext(ctx, "SELECT tag FROM note_tags WHERE note_id = ? ORDER BY tag_lower", noteID)
	if err != nil {
		return assoc, fmt.Errorf("failed to load tags: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return assoc, err
		}
		assoc.Tags = append(assoc.Tags, tag)
	}
	return assoc, rows.Err()
}

// Taxonomy operations

func (s queries) UpsertScheme(ctx context.Context, scheme *Scheme) error {
	notation := strings.TrimSpace(scheme.Notation)
	if notation == "" {
		return fmt.Errorf("scheme notation is required")
	}
	if scheme.ID == "" {
		scheme.ID = types.SchemeID(uuid.NewString())
	}

	query := `
		INSERT INTO concept_schemes (id, notation, notation_lower, title, title_lower, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(notation_lower) DO UPDATE SET
			notation = excluded.notation,
			title = excluded.title,
			title_lower = excluded.title_lower
		RETURNING id
	`
	now := time.Now()
	var id string
	err := s.q.QueryRowContext(ctx, query,
		string(scheme.ID), notation, strings.ToLower(notation),
		scheme.Title, strings.ToLower(scheme.Title), now).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to upsert scheme: %w", err)
	}

	scheme.ID = types.SchemeID(id)
	scheme.Notation = notation
	if scheme.CreatedAt.IsZero() {
		scheme.CreatedAt = now
	}
	return nil
}

func (s queries) UpsertConcept(ctx context.Context, concept *Concept) error {
	notation := strings.TrimSpace(concept.Notation)
	if notation == "" {
		return fmt.Errorf("concept notation is required")
	}
	if concept.SchemeID == "" {
		return fmt.Errorf("concept %s: scheme is required", notation)
	}
	if concept.ID == "" {
		concept.ID = types.ConceptID(uuid.NewString())
	}

	query := `
		INSERT INTO concepts (id, scheme_id, notation, notation_lower, pref_label, pref_label_lower, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scheme_id, notation_lower) DO UPDATE SET
			notation = excluded.notation,
			pref_label = excluded.pref_label,
			pref_label_lower = excluded.pref_label_lower
		RETURNING id
	`
	now := time.Now()
	var id string
	err := s.q.QueryRowContext(ctx, query,
		string(concept.ID), string(concept.SchemeID), notation, strings.ToLower(notation),
		concept.PrefLabel, strings.ToLower(concept.PrefLabel), now).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to upsert concept: %w", err)
	}
	concept.ID = types.ConceptID(id)
	concept.Notation = notation
	if concept.CreatedAt.IsZero() {
		concept.CreatedAt = now
	}

	if _, err := s.q.ExecContext(ctx, "DELETE FROM concept_alt_labels WHERE concept_id = ?", id); err != nil {
		return fmt.Errorf("failed to clear alt labels: %w", err)
	}
	for _, label := range concept.AltLabels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO concept_alt_labels (concept_id, label, label_lower) VALUES (?, ?, ?)
			ON CONFLICT(concept_id, label_lower) DO NOTHING
		`, id, label, strings.ToLower(label))
		if err != nil {
			return fmt.Errorf("failed to insert alt label %q: %w", label, err)
		}
	}
	return nil
}

// ResolveConcept finds a concept by notation, then preferred label, then
// alternative label, ignoring case. When several schemes hold a match the
// lowest concept ID wins; callers qualify the notation with a scheme and use
// ResolveConceptInScheme to pick a specific one.
func (s queries) ResolveConcept(ctx context.Context, notation string) (types.ConceptRef, bool, error) {
	key := strings.ToLower(strings.TrimSpace(notation))
	if key == "" {
		return types.ConceptRef{}, false, nil
	}

	lookups := []string{
		`SELECT c.id, c.scheme_id, c.notation FROM concepts c
		 WHERE c.notation_lower = ? ORDER BY c.id LIMIT 1`,
		`SELECT c.id, c.scheme_id, c.notation FROM concepts c
		 WHERE c.pref_label_lower = ? ORDER BY c.id LIMIT 1`,
		`SELECT c.id, c.scheme_id, c.notation FROM concepts c
		 JOIN concept_alt_labels a ON a.concept_id = c.id
		 WHERE a.label_lower = ? ORDER BY c.id LIMIT 1`,
	}
	for _, query := range lookups {
		var id, schemeID, canonical string
		err := s.q.QueryRowContext(ctx, query, key).Scan(&id, &schemeID, &canonical)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return types.ConceptRef{}, false, fmt.Errorf("failed to resolve concept %q: %w", notation, err)
		}
		return types.ConceptRef{
			ID:       types.ConceptID(id),
			SchemeID: types.SchemeID(schemeID),
			Notation: canonical,
		}, true, nil
	}
	return types.ConceptRef{}, false, nil
}

// ResolveConceptInScheme finds a concept by notation within one scheme, ignoring case.
func (s queries) ResolveConceptInScheme(ctx context.Context, schemeID types.SchemeID, notation string) (types.ConceptRef, bool, error) {
	key := strings.ToLower(strings.TrimSpace(notation))
	if key == "" || schemeID == "" {
		return types.ConceptRef{}, false, nil
	}

	var id, canonical string
	err := s.q.QueryRowContext(ctx, `
		SELECT id, notation FROM concepts
		WHERE scheme_id = ? AND notation_lower = ?
	`, string(schemeID), key).Scan(&id, &canonical)
	if err == sql.ErrNoRows {
		return types.ConceptRef{}, false, nil
	}
	if err != nil {
		return types.ConceptRef{}, false, fmt.Errorf("failed to resolve concept %q: %w", notation, err)
	}
	return types.ConceptRef{
		ID:       types.ConceptID(id),
		SchemeID: schemeID,
		Notation: canonical,
	}, true, nil
}

// ResolveScheme finds a scheme by notation, then title, ignoring case.
func (s queries) ResolveScheme(ctx context.Context, notation string) (types.SchemeID, bool, error) {
	key := strings.ToLower(strings.TrimSpace(notation))
	if key == "" {
		return "", false, nil
	}

	lookups := []string{
		"SELECT id FROM concept_schemes WHERE notation_lower = ? ORDER BY id LIMIT 1",
		"SELECT id FROM concept_schemes WHERE title_lower = ? ORDER BY id LIMIT 1",
	}
	for _, query := range lookups {
		var id string
		err := s.q.QueryRowContext(ctx, query, key).Scan(&id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to resolve scheme %q: %w", notation, err)
		}
		return types.SchemeID(id), true, nil
	}
	return "", false, nil
}

// TagExists reports whether any note carries tag or a tag below it
func (s queries) TagExists(ctx context.Context, tag string) (bool, error) {
	key := strings.ToLower(strings.TrimSpace(tag))
	if key == "" {
		return false, nil
	}

	cond, args := notationMatchSQL("tag_lower", key)
	var exists bool
	err := s.q.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM note_tags WHERE "+cond+")", args...).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check tag %q: %w", tag, err)
	}
	return exists, nil
}

// Embedding operations

func (s queries) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	query := `
		INSERT INTO embeddings (note_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(note_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model,
			created_at = excluded.created_at
	`
	now := time.Now()
	_, err := s.q.ExecContext(ctx, query,
		embedding.NoteID, embedding.Vector, embedding.Dimension,
		embedding.Provider, embedding.Model, now)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	embedding.CreatedAt = now
	return nil
}

func (s queries) GetEmbedding(ctx context.Context, noteID string) (*Embedding, error) {
	query := `
		SELECT note_id, vector, dimension, provider, model, created_at
		FROM embeddings
		WHERE note_id = ?
	`
	var e Embedding
	err := s.q.QueryRowContext(ctx, query, noteID).Scan(
		&e.NoteID, &e.Vector, &e.Dimension, &e.Provider, &e.Model, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Status operations

func (s queries) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM notes", &status.NotesCount},
		{"SELECT COUNT(DISTINCT note_id) FROM note_concepts", &status.TaggedNotesCount},
		{"SELECT COUNT(*) FROM concept_schemes", &status.SchemesCount},
		{"SELECT COUNT(*) FROM concepts", &status.ConceptsCount},
		{"SELECT COUNT(*) FROM embeddings", &status.EmbeddingsCount},
	}
	for _, c := range counts {
		if err := s.q.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	version, err := currentVersion(ctx, s.q)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version.String()

	// Calculate database size
	var pageCount, pageSize int
	err = s.q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = s.q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	var ftsTables int
	if err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='notes_fts'").Scan(&ftsTables); err != nil {
		return nil, err
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddingsCount > 0,
		FTSIndexBuilt:       ftsTables > 0,
		VectorExtension:     VectorExtensionAvailable,
	}

	return status, nil
}

// tagBatchSize bounds the bound parameters of one tag lookup
const tagBatchSize = 400

// tagsFor loads display tags for the given notes: concept notations first,
// then string tags, each sorted.
func (s queries) tagsFor(ctx context.Context, noteIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(noteIDs))
	for start := 0; start < len(noteIDs); start += tagBatchSize {
		end := start + tagBatchSize
		if end > len(noteIDs) {
			end = len(noteIDs)
		}
		batch := noteIDs[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]interface{}, 0, 2*len(batch))
		for _, id := range batch {
			args = append(args, id)
		}
		for _, id := range batch {
			args = append(args, id)
		}

		query := `
			SELECT note_id, label FROM (
				SELECT nc.note_id AS note_id, c.notation AS label, 0 AS kind, c.notation_lower AS sort_key
				FROM note_concepts nc JOIN concepts c ON c.id = nc.concept_id
				WHERE nc.note_id IN (` + placeholders + `)
				UNION ALL
				SELECT note_id, tag, 1, tag_lower
				FROM note_tags
				WHERE note_id IN (` + placeholders + `)
			)
			ORDER BY note_id, kind, sort_key
		`
		if err := s.collectTags(ctx, query, args, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s queries) collectTags(ctx context.Context, query string, args []interface{}, out map[string][]string) error {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to load tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var noteID, label string
		if err := rows.Scan(&noteID, &label); err != nil {
			return err
		}
		out[noteID] = append(out[noteID], label)
	}
	return rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
