// Package main provides a tool to seed the database with sample highlights.
//
// This creates a test user, a handful of books, tags, and highlights so the
// search and import features can be exercised against realistic data.
//
// Usage:
//
//	DATA_PATH=~/Marginalia/data go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/marginalia-app/marginalia-server/internal/domain"
	"github.com/marginalia-app/marginalia-server/internal/id"
	"github.com/marginalia-app/marginalia-server/internal/store/sqlite"
)

type seedBook struct {
	title      string
	author     string
	highlights []string
}

var books = []seedBook{
	{
		title:  "Meditations",
		author: "Marcus Aurelius",
		highlights: []string{
			"You have power over your mind, not outside events. Realize this, and you will find strength.",
			"The impediment to action advances action. What stands in the way becomes the way.",
			"Waste no more time arguing about what a good man should be. Be one.",
		},
	},
	{
		title:  "Deep Work",
		author: "Cal Newport",
		highlights: []string{
			"Clarity about what matters provides clarity about what does not.",
			"To produce at your peak level you need to work for extended periods with full concentration on a single task.",
		},
	},
	{
		title:  "The Left Hand of Darkness",
		author: "Ursula K. Le Guin",
		highlights: []string{
			"It is good to have an end to journey toward; but it is the journey that matters, in the end.",
			"To learn which questions are unanswerable, and not to answer them: this skill is most needful.",
		},
	},
}

var tags = []string{"stoicism", "focus", "journeys"}

func main() {
	dataPath := os.Getenv("DATA_PATH")
	if dataPath == "" {
		dataPath = os.ExpandEnv("$HOME/Marginalia/data")
	}

	dbPath := filepath.Join(dataPath, "marginalia.db")
	fmt.Printf("Opening database at: %s\n", dbPath)

	s, err := sqlite.Open(dbPath, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	now := time.Now()

	userID := os.Getenv("SEED_USER")
	if userID == "" {
		userID = "user_seed"
	}
	if err := s.EnsureUser(ctx, &domain.User{
		ID:          userID,
		DisplayName: "Seed Reader",
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		log.Fatalf("Failed to ensure user: %v", err)
	}
	fmt.Printf("User ready: %s\n", userID)

	for _, slug := range tags {
		tagID, err := id.Generate("tag")
		if err != nil {
			log.Fatalf("Failed to generate tag ID: %v", err)
		}
		tag := &domain.Tag{ID: tagID, Slug: slug, CreatedAt: now, UpdatedAt: now}
		if err := s.CreateTag(ctx, tag); err != nil {
			// Already seeded on a previous run.
			fmt.Printf("Tag exists, skipping: %s\n", slug)
			continue
		}
		fmt.Printf("Created tag: %s\n", slug)
	}

	totalHighlights := 0
	for _, sb := range books {
		book, created, err := s.FindOrCreateBook(ctx, userID, sb.title, sb.author)
		if err != nil {
			log.Fatalf("Failed to create book %q: %v", sb.title, err)
		}
		if created {
			fmt.Printf("Created book: %s (%s)\n", sb.title, sb.author)
		}

		for _, content := range sb.highlights {
			dup, err := s.FindDuplicateHighlight(ctx, userID, book.ID, content)
			if err != nil {
				log.Fatalf("Failed to check for duplicates: %v", err)
			}
			if dup {
				continue
			}

			hlID, err := id.Generate("hl")
			if err != nil {
				log.Fatalf("Failed to generate highlight ID: %v", err)
			}
			h := &domain.Highlight{
				ID:        hlID,
				OwnerID:   userID,
				BookID:    book.ID,
				Content:   content,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.CreateHighlight(ctx, h); err != nil {
				log.Fatalf("Failed to create highlight: %v", err)
			}
			totalHighlights++
		}
	}

	fmt.Println()
	fmt.Printf("Seeded %d highlights across %d books\n", totalHighlights, len(books))
	fmt.Println("Start the server to index and embed them.")
}
