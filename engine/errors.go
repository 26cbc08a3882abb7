package engine

import (
	"errors"
	"fmt"
)

// Kind tags the step a render attempt failed in.
type Kind int

const (
	KindWorkerCreation Kind = iota + 1
	KindSession
	KindNavigationTimeout
	KindNavigation
	KindReadinessTimeout
	KindReadiness
	KindExtraction
	KindPostProcess
)

var kindNames = map[Kind]string{
	KindWorkerCreation:    "worker creation",
	KindSession:           "session",
	KindNavigationTimeout: "navigation timeout",
	KindNavigation:        "navigation",
	KindReadinessTimeout:  "readiness timeout",
	KindReadiness:         "readiness",
	KindExtraction:        "extraction",
	KindPostProcess:       "post-process",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is. A *RenderError matches the sentinel of its Kind.
var (
	ErrWorkerCreation    = errors.New("worker creation failed")
	ErrSession           = errors.New("session setup failed")
	ErrNavigationTimeout = errors.New("navigation timed out")
	ErrNavigation        = errors.New("navigation failed")
	ErrReadinessTimeout  = errors.New("readiness wait timed out")
	ErrReadiness         = errors.New("readiness check failed")
	ErrExtraction        = errors.New("content extraction failed")
	ErrPostProcess       = errors.New("post-processing failed")
)

var sentinels = map[Kind]error{
	KindWorkerCreation:    ErrWorkerCreation,
	KindSession:           ErrSession,
	KindNavigationTimeout: ErrNavigationTimeout,
	KindNavigation:        ErrNavigation,
	KindReadinessTimeout:  ErrReadinessTimeout,
	KindReadiness:         ErrReadiness,
	KindExtraction:        ErrExtraction,
	KindPostProcess:       ErrPostProcess,
}

// RenderError ends exactly one render attempt.
type RenderError struct {
	Kind Kind
	Key  string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %s: %v", e.Key, e.Kind, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

func (e *RenderError) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func fail(kind Kind, key string, err error) error {
	return &RenderError{Kind: kind, Key: key, Err: err}
}
