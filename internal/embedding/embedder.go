// Package embedding generates semantic vectors for highlight text and
// owns the background queue that keeps stored embeddings in sync.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Common errors
var (
	ErrEmptyText      = errors.New("text cannot be empty")
	ErrModelInit      = errors.New("embedding model initialization failed")
	ErrDimension      = errors.New("embedding dimension mismatch")
	ErrEmbedderClosed = errors.New("embedder is closed")
)

// maxInputRunes caps the text passed to the model. Highlights longer than
// this are truncated; the leading text dominates the semantic signal and
// the model's own token window is far smaller anyway.
const maxInputRunes = 1000

// Embedder generates a semantic vector for a piece of text.
type Embedder interface {
	// Embed returns a vector for the given text. The first call may be
	// slow while the model loads; concurrent callers share that load.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector size this embedder produces.
	Dimensions() int

	// Loaded reports whether the model is resident in memory.
	Loaded() bool

	// Close releases model resources.
	Close() error
}

// Truncate limits text to the model input cap without splitting a rune.
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxInputRunes {
		return text
	}
	return string(runes[:maxInputRunes])
}

// ComputeHash computes the SHA-256 hash of text for cache keys.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
