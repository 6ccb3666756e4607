package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleClippings = "\ufeff" + `The Daily Stoic (Ryan Holiday)
- Your Highlight on page 13 | Location 188-190 | Added on Monday, 1 January 2024 10:12:33

You control your perceptions.
==========
The Daily Stoic (Ryan Holiday)
- Your Note on page 13 | Location 190 | Added on Monday, 1 January 2024 10:13:02

revisit this one
==========
Dune (Frank Herbert)
- Your Bookmark on page 102 | Location 1560 | Added on Tuesday, 2 January 2024 21:00:00

==========
Dune (Frank Herbert)
- Your Highlight on Location 1561-1562 | Added on Tuesday, 2 January 2024 21:01:10

Fear is the mind-killer.
==========
`

func TestParseClippings(t *testing.T) {
	entries, err := ParseClippings(strings.NewReader(sampleClippings))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, "The Daily Stoic", first.BookTitle)
	assert.Equal(t, "Ryan Holiday", first.BookAuthor)
	assert.Equal(t, "You control your perceptions.", first.Content)
	assert.Equal(t, 13, first.Page)
	assert.Equal(t, "revisit this one", first.Note, "note block attaches to the preceding highlight")

	second := entries[1]
	assert.Equal(t, "Dune", second.BookTitle)
	assert.Equal(t, "Frank Herbert", second.BookAuthor)
	assert.Equal(t, "Fear is the mind-killer.", second.Content)
	assert.Equal(t, 0, second.Page, "location-only entries have no page")
	assert.Empty(t, second.Note)
}

func TestParseClippings_SkipsBookmarks(t *testing.T) {
	entries, err := ParseClippings(strings.NewReader(sampleClippings))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEmpty(t, e.Content)
	}
}

func TestParseClippings_NoteForDifferentBookIsDropped(t *testing.T) {
	input := `Book One (Author A)
- Your Highlight on page 1 | Added on Monday

highlight text
==========
Book Two (Author B)
- Your Note on page 9 | Added on Monday

stray note
==========
`
	entries, err := ParseClippings(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Note)
}

func TestParseClippings_TitleWithoutAuthor(t *testing.T) {
	input := `Meditations
- Your Highlight on page 5 | Added on Monday

Waste no more time arguing about what a good man should be.
==========
`
	entries, err := ParseClippings(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Meditations", entries[0].BookTitle)
	assert.Empty(t, entries[0].BookAuthor)
}

func TestParseClippings_TitleWithParentheses(t *testing.T) {
	input := `Thinking, Fast and Slow (German Edition) (Daniel Kahneman)
- Your Highlight on page 30 | Added on Monday

Nothing in life is as important as you think it is.
==========
`
	entries, err := ParseClippings(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	// The last parenthesized group is the author.
	assert.Equal(t, "Thinking, Fast and Slow (German Edition)", entries[0].BookTitle)
	assert.Equal(t, "Daniel Kahneman", entries[0].BookAuthor)
}

func TestParseClippings_Empty(t *testing.T) {
	entries, err := ParseClippings(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseClippings_MultilineHighlight(t *testing.T) {
	input := `Book (Someone)
- Your Highlight on page 2 | Added on Monday

First paragraph of the passage.
Second paragraph of the passage.
==========
`
	entries, err := ParseClippings(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "First paragraph of the passage.\nSecond paragraph of the passage.", entries[0].Content)
}
