package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHTML = `<html><body>
<h1>The Dispossessed</h1>
<p>Ursula K. Le Guin</p>
<h2>Chapter 1</h2>
<blockquote>There was a wall. It did not look important.</blockquote>
<h2>Chapter 4</h2>
<blockquote>You can't crush ideas by suppressing them.</blockquote>
<blockquote>You can only crush them by ignoring them.</blockquote>
</body></html>`

func TestParseHTML(t *testing.T) {
	entries, err := ParseHTML(strings.NewReader(sampleHTML))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "The Dispossessed", entries[0].BookTitle)
	assert.Equal(t, "Ursula K. Le Guin", entries[0].BookAuthor)
	assert.Equal(t, "Chapter 1", entries[0].Chapter)
	assert.Equal(t, "There was a wall. It did not look important.", entries[0].Content)

	assert.Equal(t, "Chapter 4", entries[1].Chapter)
	assert.Equal(t, "You can't crush ideas by suppressing them.", entries[1].Content)
	assert.Equal(t, "You can only crush them by ignoring them.", entries[2].Content)
}

func TestParseHTML_NoBlockquotes(t *testing.T) {
	entries, err := ParseHTML(strings.NewReader("<html><body><h1>Empty Export</h1><p>no highlights here</p></body></html>"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseHTML_FormattingInsideQuote(t *testing.T) {
	html := `<h1>Book</h1><blockquote>The <b>bold</b> claim.</blockquote>`
	entries, err := ParseHTML(strings.NewReader(html))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	// Inline markup survives as markdown.
	assert.Contains(t, entries[0].Content, "**bold**")
}

func TestContainsHTML(t *testing.T) {
	assert.True(t, ContainsHTML("<p>hello</p>"))
	assert.True(t, ContainsHTML("<blockquote>quote</blockquote>"))
	assert.False(t, ContainsHTML("2 < 3 and 4 > 1"))
	assert.False(t, ContainsHTML("plain text"))
}
