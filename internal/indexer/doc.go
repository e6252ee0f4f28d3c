// Package indexer loads note files into the store.
//
// A note file is YAML. It may declare concept schemes, notes, or both:
//
//	schemes:
//	  - notation: work
//	    concepts:
//	      - notation: project/alpha
//	        pref_label: Project Alpha
//	notes:
//	  - id: standup
//	    content: Discussed the alpha release.
//	    concepts: ["work:project/alpha"]
//	    tags: [meeting]
//
// # Basic Usage
//
//	idx := indexer.New(store, indexer.WithEmbedder(emb), indexer.WithLogger(logger))
//
//	stats, err := idx.IngestPath(ctx, "/path/to/notes", &indexer.Config{Workers: 4})
//	fmt.Printf("Indexed %d notes in %v\n", stats.NotesIndexed, stats.Duration)
//
// # Pipeline
//
//  1. Discover: every .yaml and .yml file under the path, sorted
//  2. Taxonomy: all schemes and concepts upserted in one transaction
//  3. Incremental decision: notes whose hash matches the stored one are skipped
//  4. Resolve: concept references become concept IDs
//  5. Embed: one EmbedBatch call per batch, batches run concurrently
//  6. Store: one transaction per batch, writes serialized
//
// The note hash covers title, content, concepts and tags, so changing any
// of them re-ingests the note. Config.Force re-ingests everything. A note
// whose stored embedding came from another provider or model is also
// re-ingested.
//
// Notes declared without an ID get one derived from the file and position,
// so re-ingesting a file updates its notes in place.
//
// # Errors
//
// A file that fails to parse is counted in FilesFailed and skipped. A note
// with an unknown concept, or whose batch fails to embed, is counted in
// NotesFailed. Storage failures and cancellation abort the run.
//
// Only one run may be active per Indexer; a concurrent call returns
// ErrIngestInProgress.
package indexer
