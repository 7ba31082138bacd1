// Package record holds the data types shared across the embedding pipeline:
// the repository record read from storage, the in-memory update staged for
// write-back, and the persisted processing lock row.
package record

import (
	"fmt"
	"strings"
	"time"
)

// Owner is the minimal repository-owner projection used in embedding text.
type Owner struct {
	Login     string
	AvatarURL string
}

// Record is the external repository row the pipeline reads and writes.
// Field names mirror the `repo` table described in spec.md §6.
type Record struct {
	ID                   string
	GithubID             int64
	Name                 string
	FullName             string
	Description          string
	URL                  string
	Stars                int
	Language             string
	Owner                Owner
	IsPrivate            bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
	Embedding            []float32
	EmbeddingGeneratedAt *time.Time
}

// NeedsEmbedding implements the needs-embedding predicate from spec.md §3:
// embedding absent, or updated after the last embedding was generated.
func (r Record) NeedsEmbedding() bool {
	if len(r.Embedding) == 0 {
		return true
	}
	if r.EmbeddingGeneratedAt == nil {
		return true
	}
	return r.UpdatedAt.After(*r.EmbeddingGeneratedAt)
}

// EmbeddingText builds the fixed document template from spec.md §3:
//
//	Repository: {full_name}
//	[Description: {d}]
//	[Language: {l}]
//	Stars: {s}
//	Owner: {o}
//
// Optional lines are omitted when the corresponding field is absent.
func (r Record) EmbeddingText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n", r.FullName)
	if r.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", r.Description)
	}
	if r.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", r.Language)
	}
	fmt.Fprintf(&b, "Stars: %d\n", r.Stars)
	fmt.Fprintf(&b, "Owner: %s", r.Owner.Login)
	return b.String()
}

// EmbeddingUpdate is the in-memory staged write from spec.md §3.
type EmbeddingUpdate struct {
	RecordID string
	Vector   []float32
	Model    string
}

// ProcessingLock is the persisted lease row from spec.md §3/§4.8.
type ProcessingLock struct {
	ID         string
	RecordID   string
	InstanceID string
	LockedAt   time.Time
	ExpiresAt  time.Time
	Status     string // "processing" | "completed" | "failed"
}

// BatchUpdateResult reports the outcome of a batched write-back (spec §4.11).
// FailedIDs is empty when the whole batch committed in one transaction;
// it is populated only by the per-row fallback path, where each row's
// outcome is known individually.
type BatchUpdateResult struct {
	Total      int
	Successful int
	Failed     int
	FailedIDs  []string
	Duration   time.Duration
}
