// Package errors provides structured error types for the coordinator.
//
// Errors are categorized by Phase (where in the System lifecycle the error
// occurred) and Kind (error category). Every error the coordinator reports
// is a local, synchronous failure caused by an incorrect call sequence;
// nothing here represents a transient condition worth retrying.
//
// Use the convenience constructors:
//
//	err := errors.Duplicate(errors.PhaseBuild, "device", "gpu0")
//	err := errors.Lifecycle(errors.PhaseRun, "device registration requires build phase")
//	err := errors.NotFound("queue", "q7")
//
// All errors implement the standard error interface and support errors.Is,
// which matches on Phase and Kind:
//
//	if stderrors.Is(err, &errors.Error{Phase: errors.PhaseBuild, Kind: errors.KindDuplicate}) {
//	    ...
//	}
package errors
