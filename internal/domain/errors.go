package domain

import "errors"

// Structural pipeline errors. Per-query search failures are recoverable and
// stay contained inside the fusion retriever; these sentinels mark contract
// violations that abort the current call and leave stored stage results
// untouched.
var (
	// ErrNotLoaded is returned when a stage runs before queries and corpus
	// are present.
	ErrNotLoaded = errors.New("queries and corpus are not loaded")

	// ErrNoStageInput is returned when a stage has neither an explicit input
	// nor a stored upstream result to fall back to.
	ErrNoStageInput = errors.New("no stage input available")

	// ErrMissingCapability is returned when a required collaborator is nil.
	ErrMissingCapability = errors.New("required collaborator is missing")

	// ErrInvalidTopK is returned for non-positive top-k arguments.
	ErrInvalidTopK = errors.New("top-k must be positive")

	// ErrStageInProgress is returned when a stage is invoked while another
	// stage is still running on the same task.
	ErrStageInProgress = errors.New("another stage is already running")

	// ErrUnknownDocument is returned when a ranking references a document id
	// that does not exist in the loaded corpus.
	ErrUnknownDocument = errors.New("ranking references unknown document")

	// ErrEmptyEvaluation is returned when no queries remain after filtering
	// results against the relevance judgments.
	ErrEmptyEvaluation = errors.New("no queries to evaluate")
)
