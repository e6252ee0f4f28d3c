// Package storage provides SQLite-based persistence for notes, their
// taxonomy associations and their embeddings.
//
// The storage layer manages:
//   - Notes (title, content, content hash, source path)
//   - Concept schemes and concepts with hierarchical notations
//   - Note to concept associations and plain string tags
//   - Vector embeddings for notes
//   - Full-text search index over notes
//
// # Database Schema
//
// Tables:
//   - notes: Note text and metadata; seq is the FTS rowid
//   - notes_fts: FTS5 index kept in sync by triggers
//   - embeddings: One vector per note
//   - concept_schemes, concepts, concept_alt_labels: the taxonomy
//   - note_concepts, note_tags: what each note is tagged with
//
// Every notation-like column has a *_lower twin. Case folding happens in Go,
// so hierarchy checks in SQL are plain byte comparisons.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("notes.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	note := &storage.Note{Title: "Deploy", Content: "..."}
//	if err := db.UpsertNote(ctx, note); err != nil {
//	    return err
//	}
//
// # Transactions
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = tx.Rollback() }()
//
//	_ = tx.UpsertNote(ctx, note)
//	_ = tx.SetNoteConcepts(ctx, note.ID, conceptIDs)
//	_ = tx.SetNoteTags(ctx, note.ID, []string{"draft"})
//
//	if err := tx.Commit(); err != nil {
//	    return err
//	}
//
// # Filtered Search
//
// SearchText and SearchVector take a *filter.Predicate, rendered into the
// WHERE clause so filtering happens before ranking and LIMIT:
//
//	results, err := db.SearchText(ctx, "release checklist", 30, pred)
//
// A nil predicate matches every note.
//
// # Build Tags
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Computes cosine distance in SQL through sqlite-vec
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec,fts5"
//
// Pure Go Build (purego tag):
//
//   - Uses modernc.org/sqlite driver
//
//   - Cosine similarity in Go over the filtered candidates
//
//     CGO_ENABLED=0 go build -tags "purego"
package storage
