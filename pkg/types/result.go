package types

// SearchHit is a single fused search result.
type SearchHit struct {
	NoteID  string   `json:"note_id"`
	Score   float32  `json:"score"` // Normalized to [0, 1]
	Snippet string   `json:"snippet,omitempty"`
	Title   string   `json:"title,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Validate checks if the search hit is valid
func (h *SearchHit) Validate() error {
	if h.NoteID == "" {
		return ErrInvalidNoteID
	}

	if h.Score < 0 || h.Score > 1 {
		return ErrInvalidScore
	}

	return nil
}
