package roadsense

import "errors"

// Sentinel errors returned across the pipeline.  Callers test for them with
// errors.Is after unwrapping.
var (
	// ErrModelNotLoaded indicates a model file could not be found or its
	// session could not be created.  Fatal when it concerns the primary
	// model, recoverable for the auxiliary model which degrades the
	// pipeline to primary-only operation.
	ErrModelNotLoaded = errors.New("model not loaded")

	// ErrUnknownClass indicates a primary model class id outside the
	// registry's taxonomy.
	ErrUnknownClass = errors.New("unknown class id")

	// ErrUnmappedAuxiliaryClass indicates an auxiliary model class id with
	// no special ID mapping.  This is a registry/model version mismatch and
	// detections carrying it must never be silently dropped.
	ErrUnmappedAuxiliaryClass = errors.New("unmapped auxiliary class id")

	// ErrPersistence indicates a history store read or write failure.  A
	// failed history write is reported but never rolls back a completed
	// inference result.
	ErrPersistence = errors.New("history persistence failure")

	// ErrInvalidFrame indicates a malformed or empty input image.  The
	// affected job is skipped with an error entry and batch processing
	// continues.
	ErrInvalidFrame = errors.New("invalid frame")
)
