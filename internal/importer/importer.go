// Package importer parses reading-highlight export files into neutral
// entries. It knows the Kindle "My Clippings.txt" format and generic
// HTML exports; persistence is the caller's job.
package importer

// Entry is one parsed highlight, ready to be stored.
type Entry struct {
	BookTitle  string
	BookAuthor string
	Content    string
	Chapter    string
	Page       int
	Note       string
}
