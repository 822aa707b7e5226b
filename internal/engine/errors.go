package engine

import "errors"

// Fatal and recoverable error kinds. Configuration and environment errors
// return to the caller of Run/RunStory; test failures stay internal and
// drive the retry policy.
var (
	// ErrInvalidState indicates Run was called while running or stopping.
	ErrInvalidState = errors.New("engine is not in a runnable state")

	// ErrNoHealthyCLI indicates no CLI in the fallback chain passed its
	// health check.
	ErrNoHealthyCLI = errors.New("no healthy CLI found in fallback order")

	// ErrUnknownCLI indicates a configured CLI id is not in the registry.
	ErrUnknownCLI = errors.New("unknown CLI identifier")

	// ErrTestCommandFailed indicates one or more acceptance criteria did
	// not pass. Internal; drives retry, never surfaces to callers.
	ErrTestCommandFailed = errors.New("test command failed")

	// ErrNoStory indicates the requested story does not exist in the PRD.
	ErrNoStory = errors.New("story not found in PRD")
)
