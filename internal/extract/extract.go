// Package extract turns uploaded document bytes into plain text. Formats are
// registered by file extension; adding a format is a Register call.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for extensions with no registered
	// extractor.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrExtraction is returned when a registered extractor cannot read the
	// content, or the document contains no text.
	ErrExtraction = errors.New("text extraction failed")
)

// Func converts a document to plain text. Implementations must not retain
// data.
type Func func(data []byte) (string, error)

// Registry maps lower-case extensions (without the dot) to extractors.
// Registration happens at startup; lookups are read-only afterwards.
type Registry struct {
	byFormat map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byFormat: make(map[string]Func)}
}

// Default returns a registry with every built-in format.
func Default() *Registry {
	r := NewRegistry()
	r.Register("pdf", PDF)
	r.Register("xlsx", XLSX)
	r.Register("xls", XLS)
	r.Register("xml", XML)
	return r
}

// Register binds format to fn, replacing any previous binding.
func (r *Registry) Register(format string, fn Func) {
	r.byFormat[strings.ToLower(strings.TrimPrefix(format, "."))] = fn
}

// Formats lists registered formats in sorted order.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.byFormat))
	for f := range r.byFormat {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// FormatOf returns the lower-case extension of filename without the dot.
func FormatOf(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// For returns the extractor for filename's extension.
func (r *Registry) For(filename string) (Func, error) {
	format := FormatOf(filename)
	fn, ok := r.byFormat[format]
	if !ok || format == "" {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFormat, filename, strings.Join(r.Formats(), ", "))
	}
	return fn, nil
}

// Extract looks up the extractor for filename and runs it. Every failure
// after lookup is reported as ErrExtraction, including documents that yield
// only whitespace.
func (r *Registry) Extract(filename string, data []byte) (string, error) {
	fn, err := r.For(filename)
	if err != nil {
		return "", err
	}
	text, err := run(fn, data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrExtraction, filename, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s: no text content", ErrExtraction, filename)
	}
	return text, nil
}

// run converts parser panics on hostile input into errors.
func run(fn Func, data []byte) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("parser panic: %v", p)
		}
	}()
	return fn(data)
}
