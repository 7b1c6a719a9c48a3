package ingest

import (
	"errors"
	"fmt"
)

type Kind string

const (
	ArchiveInvalid            Kind = "ArchiveInvalid"
	InvalidArtifactMetadata   Kind = "InvalidArtifactMetadata"
	DependencyCycleDetected   Kind = "DependencyCycleDetected"
	FingerprintMismatch       Kind = "FingerprintMismatch"
	VersionProvenanceMismatch Kind = "VersionProvenanceMismatch"
	UnknownStemcell           Kind = "UnknownStemcell"
	LockTimeout               Kind = "LockTimeout"
	BlobstoreFailure          Kind = "BlobstoreFailure"
	CatalogFailure            Kind = "CatalogFailure"
	Canceled                  Kind = "Canceled"
)

// Error is how every ingestion failure is reported.  Stage is where the
// ingestion was when it failed; Artifact names the package or job at
// fault, if there is one.
type Error struct {
	Kind     Kind
	Stage    State
	Artifact string
	Err      error
}

func (e *Error) Error() string {
	if e.Artifact != "" {
		return fmt.Sprintf("%s (while %s, artifact '%s'): %s", e.Kind, e.Stage, e.Artifact, e.Err)
	}
	return fmt.Sprintf("%s (while %s): %s", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is (or wraps) an ingestion Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

type FingerprintMismatchError struct {
	Name string
	Old  string
	New  string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("'%s' is already registered with fingerprint %s; refusing to replace it with %s", e.Name, e.Old, e.New)
}

type ProvenanceMismatchError struct {
	Release string
	Version string

	CommitHash         string
	UncommittedChanges bool

	ExpectedCommitHash         string
	ExpectedUncommittedChanges bool
}

func (e *ProvenanceMismatchError) Error() string {
	return fmt.Sprintf("%s/%s was built from commit %s (uncommitted changes: %t); this archive claims commit %s (uncommitted changes: %t)",
		e.Release, e.Version, e.ExpectedCommitHash, e.ExpectedUncommittedChanges, e.CommitHash, e.UncommittedChanges)
}

type UnknownStemcellError struct {
	OS      string
	Version string
}

func (e *UnknownStemcellError) Error() string {
	return fmt.Sprintf("no stemcell for %s/%s has been uploaded", e.OS, e.Version)
}
