package types

import (
	"time"

	"github.com/google/uuid"
)

// SourceType identifies where a document's raw text came from.
type SourceType string

const (
	SourceUpload    SourceType = "upload"
	SourceS3        SourceType = "s3"
	SourceGCS       SourceType = "gcs"
	SourceWeb       SourceType = "web"
	SourceYoutube   SourceType = "youtube"
	SourceWikipedia SourceType = "wikipedia"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceUpload, SourceS3, SourceGCS, SourceWeb, SourceYoutube, SourceWikipedia:
		return true
	}
	return false
}

// DocumentStatus is the processing state of one ingested source.
type DocumentStatus string

const (
	StatusNew        DocumentStatus = "New"
	StatusProcessing DocumentStatus = "Processing"
	StatusCompleted  DocumentStatus = "Completed"
	StatusFailed     DocumentStatus = "Failed"
	StatusCancelled  DocumentStatus = "Cancelled"
)

func (s DocumentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Retryable reports whether a document in this status may be pushed back
// into Processing via one of the retry modes.
func (s DocumentStatus) Retryable() bool {
	return s == StatusFailed || s == StatusCancelled
}

// CanTransition enforces the monotonic part of the status machine.
// Failed/Cancelled -> Processing is the explicit retry exception.
func (s DocumentStatus) CanTransition(to DocumentStatus) bool {
	if s == to {
		return true
	}
	switch s {
	case StatusNew:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusFailed, StatusCancelled:
		return to == StatusProcessing
	case StatusCompleted:
		return to == StatusProcessing
	}
	return false
}

// RetryMode selects how a failed or cancelled document re-enters processing.
type RetryMode string

const (
	// RetryRestart re-chunks and re-runs extraction from chunk 1. Existing
	// entities survive; merge semantics absorb the re-extraction.
	RetryRestart RetryMode = "restart_from_beginning"
	// RetryResume keeps stored chunks and continues after the cursor.
	RetryResume RetryMode = "resume_from_last_position"
	// RetryPurgeRestart deletes entities whose sole provenance is this
	// document, then behaves like RetryRestart.
	RetryPurgeRestart RetryMode = "restart_and_purge_entities"
)

func (m RetryMode) Valid() bool {
	switch m {
	case RetryRestart, RetryResume, RetryPurgeRestart:
		return true
	}
	return false
}

// Document is the node representing one ingested source.
type Document struct {
	ID                uuid.UUID      `json:"id"`
	FileName          string         `json:"fileName"`
	SourceType        SourceType     `json:"sourceType"`
	SourceRef         string         `json:"sourceRef"`
	FileSize          int64          `json:"fileSize"`
	Model             string         `json:"model,omitempty"`
	Status            DocumentStatus `json:"status"`
	TotalChunks       int            `json:"totalChunks"`
	ProcessedChunks   int            `json:"processedChunks"`
	ErrorMessage      string         `json:"errorMessage,omitempty"`
	NodeCount         int            `json:"nodeCount"`
	RelationshipCount int            `json:"relationshipCount"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Chunk is a token-bounded slice of a document's text. Position is 1-based
// and unique per document. ID is the sha1 of the chunk text, which keeps
// chunk identity stable across deterministic re-chunking.
type Chunk struct {
	ID        string `json:"id"`
	Position  int    `json:"position"`
	Text      string `json:"text"`
	Tokens    int    `json:"tokens"`
	CharStart int    `json:"charStart"`
	CharEnd   int    `json:"charEnd"`
	Embedded  bool   `json:"embedded"`
	Processed bool   `json:"processed"`
}

// StatusSnapshot is the pollable/streamable progress view of a document.
type StatusSnapshot struct {
	DocumentID        uuid.UUID      `json:"documentId"`
	FileName          string         `json:"fileName"`
	Status            DocumentStatus `json:"status"`
	ProcessedChunks   int            `json:"processedChunks"`
	TotalChunks       int            `json:"totalChunks"`
	NodeCount         int            `json:"nodeCount"`
	RelationshipCount int            `json:"relationshipCount"`
	ErrorMessage      string         `json:"errorMessage,omitempty"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}
