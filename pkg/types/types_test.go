package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotationMatches(t *testing.T) {
	tests := []struct {
		notation  string
		candidate string
		want      bool
	}{
		{"project", "project", true},
		{"project", "PROJECT", true},
		{"project", "project/alpha/sprint3", true},
		{"Project", "project/Alpha", true},
		{"project", "projects", false},
		{"project/alpha", "project", false},
		{"project/alpha", "project/alphabet", false},
		{"", "anything", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s~%s", tt.notation, tt.candidate), func(t *testing.T) {
			assert.Equal(t, tt.want, NotationMatches(tt.notation, tt.candidate))
		})
	}
}

func TestStrictTagFilter_IsEmpty(t *testing.T) {
	f := NewStrictTagFilter()
	assert.True(t, f.IsEmpty())

	f.IncludeUntagged = false
	assert.False(t, f.IsEmpty())

	minCount := 2
	f = NewStrictTagFilter()
	f.MinTagCount = &minCount
	assert.False(t, f.IsEmpty())

	f = NewStrictTagFilter()
	f.MatchNone = true
	assert.False(t, f.IsEmpty())

	var zero StrictTagFilter
	assert.False(t, zero.IsEmpty(), "zero value excludes untagged notes")
}

func TestStrictTagFilterInput_ElementCount(t *testing.T) {
	var nilInput *StrictTagFilterInput
	assert.Equal(t, 0, nilInput.ElementCount())

	in := &StrictTagFilterInput{
		RequiredTags:    []string{"a", "b"},
		AnyTags:         []string{"c"},
		ExcludedSchemes: []string{"s"},
	}
	assert.Equal(t, 4, in.ElementCount())
}

func TestErrorCode(t *testing.T) {
	resolution := &FilterResolutionError{Field: "required_tags", Notation: "x", Reason: "not found"}
	backend := &BackendError{Provider: "lexical", Err: errors.New("disk I/O error")}

	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, CodeFilterResolution, ErrorCode(resolution))
	assert.Equal(t, CodeFilterResolution, ErrorCode(fmt.Errorf("compile: %w", resolution)))
	assert.Equal(t, CodeBackendUnavailable, ErrorCode(backend))
	assert.Equal(t, CodeInvalidQuery, ErrorCode(fmt.Errorf("lexical: %w", ErrInvalidQuery)))
	assert.Equal(t, CodeCanceled, ErrorCode(context.Canceled))
	assert.Equal(t, CodeInternal, ErrorCode(errors.New("boom")))
}

func TestBackendError_Unwrap(t *testing.T) {
	cause := errors.New("database is locked")
	err := &BackendError{Provider: "semantic", Err: cause}

	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "semantic")
}

func TestFilterResolutionError_Message(t *testing.T) {
	err := &FilterResolutionError{Field: "required_tags", Notation: "ghost", Reason: "unknown concept or tag"}
	assert.Equal(t, `filter required_tags: "ghost": unknown concept or tag`, err.Error())

	err = &FilterResolutionError{Field: "filter", Reason: "too many filter elements"}
	assert.Equal(t, "filter filter: too many filter elements", err.Error())
}

func TestSearchHit_Validate(t *testing.T) {
	hit := SearchHit{NoteID: "n1", Score: 0.5}
	assert.NoError(t, hit.Validate())

	hit.Score = 1.5
	assert.ErrorIs(t, hit.Validate(), ErrInvalidScore)

	hit = SearchHit{Score: 0.5}
	assert.ErrorIs(t, hit.Validate(), ErrInvalidNoteID)
}
