package vectordb

import (
	"fmt"
	"time"
)

// Config controls the vector store client
type Config struct {
	Host       string
	Port       int
	Collection string
	Timeout    time.Duration
	// MaxCandidates caps k for any single search
	MaxCandidates int
	MaxInFlight   int
	// ExpectedDim is validated against the collection at startup when >0
	ExpectedDim int
}

// Candidate is one ANN hit: a chunk reference plus the raw distance exactly
// as the store reported it. Normalization happens later, in feature
// assembly and fusion.
type Candidate struct {
	ID         string                 `json:"id"`
	Distance   float64                `json:"distance"`
	DocumentID string                 `json:"document_id"`
	Ordinal    int                    `json:"ordinal"`
	Text       string                 `json:"text"`
	TokenCount int                    `json:"token_count"`
	Metadata   map[string]interface{} `json:"metadata"`
	Provenance string                 `json:"provenance"`
}

// Filter narrows a search by tenant or source type; zero value means no
// filtering.
type Filter struct {
	Tenant     string
	SourceType string
}

// RetrievalError reports a search that produced no usable candidates
type RetrievalError struct {
	Cause error
}

func (e *RetrievalError) Error() string { return fmt.Sprintf("vector retrieval: %v", e.Cause) }
func (e *RetrievalError) Unwrap() error { return e.Cause }
