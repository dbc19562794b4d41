package rag

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrGeneration marks any failure of an external provider (embedding,
	// vector index or language model) while serving a request.
	ErrGeneration = errors.New("generation failed")
	// ErrProviderTimeout marks a provider call that exceeded its deadline.
	// Errors matching it also match ErrGeneration.
	ErrProviderTimeout = errors.New("provider timed out")
)

// Provider stages.
const (
	StageEmbed    = "embed"
	StageIndex    = "index"
	StageGenerate = "generate"
)

// ProviderError wraps a failed provider call with the stage it happened in.
type ProviderError struct {
	Stage string
	Err   error
}

// WrapProvider returns err wrapped as a ProviderError, or nil for nil.
func WrapProvider(stage string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Stage: stage, Err: err}
}

func (e *ProviderError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("%s: %s: %v", e.Stage, ErrProviderTimeout, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, ErrGeneration, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is matches ErrGeneration always and ErrProviderTimeout for deadline
// failures.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrGeneration:
		return true
	case ErrProviderTimeout:
		return e.Timeout()
	}
	return false
}

// Timeout reports whether the wrapped failure was a deadline.
func (e *ProviderError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}
