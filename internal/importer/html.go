package importer

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// htmlTagPattern matches common HTML tags to detect if a string contains HTML.
var htmlTagPattern = regexp.MustCompile(`<(p|br|div|span|b|i|strong|em|a|ul|ol|li|h[1-6]|blockquote)[\s>/]`)

// ContainsHTML checks if a string appears to contain HTML markup.
func ContainsHTML(s string) bool {
	return htmlTagPattern.MatchString(strings.ToLower(s))
}

// ParseHTML reads an HTML highlights export and returns its highlights.
//
// The document is converted to Markdown first, then interpreted
// structurally: the first level-1 heading names the book, later headings
// name chapters or sections, and each blockquote is a highlight. This
// covers Kindle notebook exports and most read-later clippers without
// per-vendor parsers.
func ParseHTML(r io.Reader) ([]Entry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}

	markdown, err := htmltomarkdown.ConvertString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("convert html: %w", err)
	}

	return parseMarkdown(markdown), nil
}

func parseMarkdown(markdown string) []Entry {
	var (
		entries   []Entry
		bookTitle string
		author    string
		chapter   string
		quote     []string
	)

	flushQuote := func() {
		if len(quote) == 0 {
			return
		}
		content := strings.TrimSpace(strings.Join(quote, "\n"))
		quote = nil
		if content == "" {
			return
		}
		entries = append(entries, Entry{
			BookTitle:  bookTitle,
			BookAuthor: author,
			Chapter:    chapter,
			Content:    content,
		})
	}

	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "> "), trimmed == ">":
			quote = append(quote, strings.TrimSpace(strings.TrimPrefix(trimmed, ">")))
			continue
		case strings.HasPrefix(trimmed, "# "):
			flushQuote()
			if bookTitle == "" {
				bookTitle = strings.TrimSpace(trimmed[2:])
			} else {
				chapter = strings.TrimSpace(trimmed[2:])
			}
		case strings.HasPrefix(trimmed, "## "), strings.HasPrefix(trimmed, "### "):
			flushQuote()
			chapter = strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
		case trimmed == "":
			flushQuote()
		default:
			// Kindle notebook exports put the author on a plain line
			// directly under the title, before any highlight appears.
			flushQuote()
			if bookTitle != "" && author == "" && len(entries) == 0 {
				author = trimmed
			}
		}
	}
	flushQuote()

	return entries
}
