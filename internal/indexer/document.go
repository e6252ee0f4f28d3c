package indexer

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDocument marks a note file that cannot be ingested
var ErrInvalidDocument = errors.New("invalid note document")

// Document is the contents of one note file.
//
//	schemes:
//	  - notation: work
//	    title: Work
//	    concepts:
//	      - notation: project/alpha
//	        pref_label: Project Alpha
//	        alt_labels: [apollo]
//	notes:
//	  - id: standup-2024-05-01
//	    title: Standup
//	    content: Discussed the alpha release.
//	    concepts: ["work:project/alpha"]
//	    tags: [meeting]
type Document struct {
	Schemes []SchemeDoc `yaml:"schemes" json:"schemes,omitempty"`
	Notes   []NoteDoc   `yaml:"notes" json:"notes,omitempty"`

	source string
}

// SchemeDoc declares a concept scheme and its concepts
type SchemeDoc struct {
	Notation string       `yaml:"notation" json:"notation"`
	Title    string       `yaml:"title" json:"title,omitempty"`
	Concepts []ConceptDoc `yaml:"concepts" json:"concepts,omitempty"`
}

// ConceptDoc declares one concept
type ConceptDoc struct {
	Notation  string   `yaml:"notation" json:"notation"`
	PrefLabel string   `yaml:"pref_label" json:"pref_label,omitempty"`
	AltLabels []string `yaml:"alt_labels" json:"alt_labels,omitempty"`
}

// NoteDoc declares one note. Concepts are "scheme:notation" or a bare
// notation resolved the same way search filters are.
type NoteDoc struct {
	ID       string   `yaml:"id" json:"id"`
	Title    string   `yaml:"title" json:"title,omitempty"`
	Content  string   `yaml:"content" json:"content"`
	Concepts []string `yaml:"concepts" json:"concepts,omitempty"`
	Tags     []string `yaml:"tags" json:"tags,omitempty"`
}

// Source returns the file the document was read from, if any
func (d *Document) Source() string {
	return d.source
}

// ParseDocument decodes a YAML note document
func ParseDocument(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &doc, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadDocument reads and decodes one note file
func LoadDocument(path string) (*Document, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	doc, err := ParseDocument(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.source = path
	return doc, nil
}

// DiscoverFiles returns every .yaml and .yml file under root, sorted. A
// file path is returned as is. Hidden directories are skipped.
func DiscoverFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Validate checks required fields and duplicate declarations
func (d *Document) Validate() error {
	schemes := make(map[string]struct{}, len(d.Schemes))
	for i, s := range d.Schemes {
		key := strings.ToLower(strings.TrimSpace(s.Notation))
		if key == "" {
			return fmt.Errorf("%w: scheme %d has no notation", ErrInvalidDocument, i)
		}
		if strings.Contains(key, ":") {
			return fmt.Errorf("%w: scheme %q: notation must not contain ':'", ErrInvalidDocument, s.Notation)
		}
		if _, dup := schemes[key]; dup {
			return fmt.Errorf("%w: scheme %q declared twice", ErrInvalidDocument, s.Notation)
		}
		schemes[key] = struct{}{}

		concepts := make(map[string]struct{}, len(s.Concepts))
		for j, c := range s.Concepts {
			ckey := strings.ToLower(strings.TrimSpace(c.Notation))
			if ckey == "" {
				return fmt.Errorf("%w: scheme %q concept %d has no notation", ErrInvalidDocument, s.Notation, j)
			}
			if _, dup := concepts[ckey]; dup {
				return fmt.Errorf("%w: concept %q declared twice in scheme %q", ErrInvalidDocument, c.Notation, s.Notation)
			}
			concepts[ckey] = struct{}{}
		}
	}

	ids := make(map[string]struct{}, len(d.Notes))
	for i, n := range d.Notes {
		if strings.TrimSpace(n.Content) == "" && strings.TrimSpace(n.Title) == "" {
			return fmt.Errorf("%w: note %d has neither title nor content", ErrInvalidDocument, i)
		}
		if n.ID == "" {
			continue
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("%w: note %q declared twice", ErrInvalidDocument, n.ID)
		}
		ids[n.ID] = struct{}{}
	}
	return nil
}

// text is what gets embedded for a note
func (n NoteDoc) text() string {
	if n.Title == "" {
		return n.Content
	}
	if n.Content == "" {
		return n.Title
	}
	return n.Title + "\n\n" + n.Content
}

// hash covers everything stored for the note, so a changed tag or concept
// list triggers re-ingestion just like changed text.
func (n NoteDoc) hash() [32]byte {
	concepts := normalizedSet(n.Concepts)
	tags := normalizedSet(n.Tags)

	h := sha256.New()
	for _, part := range []string{n.Title, n.Content, strings.Join(concepts, "\x1f"), strings.Join(tags, "\x1f")} {
		_, _ = io.WriteString(h, part)
		_, _ = h.Write([]byte{0})
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func normalizedSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// splitConceptRef splits "scheme:notation". scheme is empty for a bare notation.
func splitConceptRef(ref string) (scheme, notation string) {
	ref = strings.TrimSpace(ref)
	if s, n, ok := strings.Cut(ref, ":"); ok {
		return strings.TrimSpace(s), strings.TrimSpace(n)
	}
	return "", ref
}
