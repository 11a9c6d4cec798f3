package pseudonymizer

import (
	"errors"

	"bulletin-pseudonymizer/internal/mapping"
)

var (
	// ErrNoIdentity means the document declares no student identity.
	// Expected for cover pages and annexes; callers branch, not alert.
	ErrNoIdentity = errors.New("pseudonymizer: no identity found in document")

	// ErrClassRequired means Restore was called without a class scope. An
	// unscoped restore would write every class's names into one export.
	ErrClassRequired = errors.New("pseudonymizer: class id is required")

	// ErrLastNameRequired is returned by Register when the last name is
	// empty after normalization.
	ErrLastNameRequired = mapping.ErrLastNameRequired

	// ErrRetriesExhausted is returned by Register when pseudonym id
	// generation keeps conflicting, which indicates a corrupted sequence.
	ErrRetriesExhausted = mapping.ErrRetriesExhausted
)
