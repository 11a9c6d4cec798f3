package mapping

import (
	"errors"
	"time"
)

// Record is one persisted pseudonym mapping. The triple (last name, first
// name, class) identifies a student; first name may be absent and then
// counts as its own lookup key, distinct from any non-empty value.
type Record struct {
	PseudonymID       string    `gorm:"primaryKey" json:"pseudonymId"`
	LastNameOriginal  string    `gorm:"not null;uniqueIndex:idx_identity" json:"lastNameOriginal"`
	FirstNameOriginal *string   `gorm:"uniqueIndex:idx_identity" json:"firstNameOriginal"`
	ClassID           string    `gorm:"not null;uniqueIndex:idx_identity" json:"classId"`
	CreatedAt         time.Time `gorm:"not null" json:"createdAt"`
}

// TableName fixes the SQL table name used by gorm.
func (Record) TableName() string { return "mapping_identites" }

// Error values for mapping operations.
var (
	// ErrLastNameRequired is returned when a mapping is requested without a
	// last name (after whitespace normalization).
	ErrLastNameRequired = errors.New("mapping: last name is required")

	// ErrRetriesExhausted is returned when no unique pseudonym id could be
	// generated within the retry budget. It signals extreme write concurrency
	// or a sequence corrupted by partial deletions.
	ErrRetriesExhausted = errors.New("mapping: pseudonym id retries exhausted")
)
