package importer

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// entrySeparator terminates each block in a My Clippings.txt file.
const entrySeparator = "=========="

var (
	// "Title (Author)" - the author sits in the last parenthesized group.
	titleAuthorPattern = regexp.MustCompile(`^(.*)\(([^()]+)\)\s*$`)
	pagePattern        = regexp.MustCompile(`(?i)page (\d+)`)
)

type clippingKind int

const (
	kindHighlight clippingKind = iota
	kindNote
	kindBookmark
	kindUnknown
)

// ParseClippings reads a Kindle "My Clippings.txt" stream and returns the
// highlights it contains.
//
// Each block looks like:
//
//	The Daily Stoic (Ryan Holiday)
//	- Your Highlight on page 13 | Location 188-190 | Added on Monday, ...
//
//	You control your perceptions.
//	==========
//
// Bookmarks are skipped. A note block is attached to the immediately
// preceding highlight from the same book, which is where Kindle places
// notes taken on a highlight.
func ParseClippings(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var entries []Entry
	var block []string
	first := true

	flush := func() {
		if len(block) == 0 {
			return
		}
		entry, kind := parseBlock(block)
		block = nil
		switch kind {
		case kindHighlight:
			entries = append(entries, entry)
		case kindNote:
			if n := len(entries); n > 0 && entries[n-1].BookTitle == entry.BookTitle {
				entries[n-1].Note = entry.Content
			}
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff") // Kindle writes a BOM
			first = false
		}
		if strings.TrimSpace(line) == entrySeparator {
			flush()
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read clippings: %w", err)
	}
	flush()

	return entries, nil
}

// parseBlock interprets one separator-delimited block.
func parseBlock(lines []string) (Entry, clippingKind) {
	// Drop leading and trailing blank lines.
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 2 {
		return Entry{}, kindUnknown
	}

	var entry Entry
	entry.BookTitle, entry.BookAuthor = parseTitleLine(lines[0])

	meta := lines[1]
	kind := kindUnknown
	switch {
	case strings.Contains(meta, "Your Highlight"):
		kind = kindHighlight
	case strings.Contains(meta, "Your Note"):
		kind = kindNote
	case strings.Contains(meta, "Your Bookmark"):
		kind = kindBookmark
	}
	if m := pagePattern.FindStringSubmatch(meta); m != nil {
		entry.Page, _ = strconv.Atoi(m[1])
	}

	var content []string
	for _, line := range lines[2:] {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			content = append(content, trimmed)
		}
	}
	entry.Content = strings.Join(content, "\n")
	if entry.Content == "" && kind == kindHighlight {
		return Entry{}, kindUnknown
	}

	return entry, kind
}

// parseTitleLine splits "Title (Author)" into its parts. Lines without a
// parenthesized author become title-only entries.
func parseTitleLine(line string) (title, author string) {
	line = strings.TrimSpace(line)
	if m := titleAuthorPattern.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	return line, ""
}
