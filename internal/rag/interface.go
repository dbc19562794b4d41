// Package rag holds the namespace-partitioned vector index and the
// retrieval primitives shared by ingestion and question answering.
//
// Every passage lives in exactly one namespace, derived from the session that
// uploaded it. Index implementations must never return a passage from a
// namespace other than the one queried.
package rag

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Record is a passage ready to be written: its vector plus the metadata
// returned on retrieval.
type Record struct {
	// ID identifies the record within its namespace. Re-upserting an ID
	// overwrites the previous record.
	ID     string
	Vector []float32
	// Source is the originating filename.
	Source string
	// Text is the passage content handed to the model.
	Text string
}

// Passage is a retrieval hit.
type Passage struct {
	ID     string  `json:"-"`
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float32 `json:"score"`
}

// NamespaceStats describes a namespace's committed contents.
type NamespaceStats struct {
	VectorCount uint64
}

// HasDocuments reports whether the namespace holds any vectors.
func (s NamespaceStats) HasDocuments() bool { return s.VectorCount > 0 }

// VectorIndex is a nearest-neighbour store partitioned by namespace.
// Implementations must be safe for concurrent use.
type VectorIndex interface {
	// Upsert writes records into namespace. It returns only after the
	// records are visible to DescribeNamespace and Query.
	Upsert(ctx context.Context, namespace string, records []Record) error

	// DescribeNamespace reports how many vectors namespace holds. A
	// namespace that was never written has a zero count, not an error.
	DescribeNamespace(ctx context.Context, namespace string) (NamespaceStats, error)

	// Query returns at most k passages from namespace, most similar first.
	// An empty or unknown namespace yields an empty slice.
	Query(ctx context.Context, namespace string, vector []float32, k int) ([]Passage, error)

	Close() error
}

// Embedder converts text into dense vectors. The result is parallel to texts.
// Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Namespace derives the index namespace for a session.
func Namespace(prefix, sessionID string) string {
	return prefix + "-" + sessionID
}

// recordIDSpace seeds deterministic record IDs.
var recordIDSpace = uuid.MustParse("6f1c2a7e-5b0d-4c39-9a52-3f3e8d7b2c10")

// RecordID returns a stable UUID for source within namespace, so uploading
// the same filename twice into a session replaces the earlier passage.
func RecordID(namespace, source string) string {
	return uuid.NewSHA1(recordIDSpace, []byte(namespace+"/"+strings.TrimSpace(source))).String()
}
