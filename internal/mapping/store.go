// Package mapping persists the reversible relation between a pseudonym id
// and a student's real identity, scoped by class.
//
// The store lives in its own SQLite file, separate from any shareable data:
// it is the only place real names are written to disk, so the file must
// never leave the machine. Creation is idempotent per (last name, first
// name, class) triple, ids are derived from the store's row count with a
// bounded retry on conflicts, and deletion is scoped by class or by person.
//
// All operations serialize through one mutex over a single SQLite
// connection. Text substitution (restore, redaction) runs outside the lock.
package mapping

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"bulletin-pseudonymizer/internal/logger"
	"bulletin-pseudonymizer/internal/metrics"
	"bulletin-pseudonymizer/internal/textmatch"
)

// maxIDRetries bounds pseudonym id generation when inserts keep conflicting.
const maxIDRetries = 10

// insertOutcome discriminates one insert attempt, so the create path never
// matches on error message substrings.
type insertOutcome int

const (
	inserted insertOutcome = iota
	duplicateKey
	failed
)

// Store owns the mapping table.
type Store struct {
	mu     sync.Mutex
	db     *gorm.DB
	prefix string
	log    *logger.Logger
	met    *metrics.Metrics
}

// Open opens (creating if needed) the mapping database at path. prefix is
// prepended to generated pseudonym ids (e.g. "ELEVE_" -> "ELEVE_001").
func Open(path, prefix string, log *logger.Logger, met *metrics.Metrics) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating mapping db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		// Silent: gorm's own error echo includes bind values, which here
		// are real names and must not reach process logs.
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening mapping db: %w", err)
	}

	// The file is accessed through exactly one connection; everything above
	// it serializes through s.mu anyway.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("configuring mapping db pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrating mapping table: %w", err)
	}

	log.Infof("open", "mapping store ready at %s", path)
	return &Store{db: db, prefix: prefix, log: log, met: met}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateOrGet returns the pseudonym id for the given student, creating the
// mapping if none exists. firstName may be empty (stored as NULL, a lookup
// key distinct from any non-empty value). Names are stored NFC-normalized
// with collapsed whitespace; lookups compare case-insensitively on top of
// that, so "DUPONT  Marie" and "Dupont Marie" resolve to the same id.
func (s *Store) CreateOrGet(lastName, firstName, classID string) (string, error) {
	last := normalizeDisplay(lastName)
	first := normalizeDisplay(firstName)
	if last == "" {
		return "", ErrLastNameRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, found, err := s.findLocked(last, first, classID)
	if err != nil {
		return "", err
	}
	if found {
		s.met.MappingsReused.Add(1)
		s.log.Debugf("mapping_reuse", "%s -> %s", last, id)
		return id, nil
	}

	rec := Record{LastNameOriginal: last, ClassID: classID}
	if first != "" {
		rec.FirstNameOriginal = &first
	}

	for attempt := 0; attempt < maxIDRetries; attempt++ {
		rec.PseudonymID, err = s.nextIDLocked()
		if err != nil {
			return "", err
		}

		outcome, err := s.tryInsertLocked(&rec)
		switch outcome {
		case inserted:
			s.met.MappingsCreated.Add(1)
			s.log.Infof("mapping_create", "%s %s -> %s", last, first, rec.PseudonymID)
			return rec.PseudonymID, nil
		case duplicateKey:
			// Either the id raced another writer or the triple already
			// exists. The idempotent winner, if any, is returned as-is;
			// otherwise regenerate the id and try again.
			id, found, ferr := s.findLocked(last, first, classID)
			if ferr != nil {
				return "", ferr
			}
			if found {
				s.met.MappingsReused.Add(1)
				return id, nil
			}
		case failed:
			return "", fmt.Errorf("storing mapping: %w", err)
		}
	}

	return "", fmt.Errorf("generating pseudonym id for class %q after %d attempts: %w",
		classID, maxIDRetries, ErrRetriesExhausted)
}

// findLocked looks up the class's rows and compares keys in Go: SQLite's
// lower() folds ASCII only, and French names carry accents.
func (s *Store) findLocked(last, first, classID string) (string, bool, error) {
	var rows []Record
	if err := s.db.Where("class_id = ?", classID).Find(&rows).Error; err != nil {
		return "", false, fmt.Errorf("looking up mapping: %w", err)
	}

	keyLast := strings.ToLower(last)
	keyFirst := strings.ToLower(first)
	for _, row := range rows {
		if strings.ToLower(row.LastNameOriginal) != keyLast {
			continue
		}
		rowFirst := ""
		if row.FirstNameOriginal != nil {
			rowFirst = strings.ToLower(*row.FirstNameOriginal)
		}
		if rowFirst == keyFirst {
			return row.PseudonymID, true, nil
		}
	}
	return "", false, nil
}

// nextIDLocked derives the next id from the store's current row count. Ids
// are store-global (they are the primary key), so the count is too; a
// per-class count would regenerate ids already taken by other classes.
func (s *Store) nextIDLocked() (string, error) {
	var n int64
	if err := s.db.Model(&Record{}).Count(&n).Error; err != nil {
		return "", fmt.Errorf("counting mappings: %w", err)
	}
	return fmt.Sprintf("%s%03d", s.prefix, n+1), nil
}

func (s *Store) tryInsertLocked(rec *Record) (insertOutcome, error) {
	err := s.db.Create(rec).Error
	switch {
	case err == nil:
		return inserted, nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return duplicateKey, err
	default:
		return failed, err
	}
}

// ReverseLookup returns the identity behind a pseudonym id. A missing id is
// an ordinary (zero, false, nil) result, not an error.
func (s *Store) ReverseLookup(pseudonymID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec Record
	err := s.db.First(&rec, "pseudonym_id = ?", pseudonymID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("looking up pseudonym %s: %w", pseudonymID, err)
	}
	return rec, true, nil
}

// List returns mappings ordered by creation time. An empty classID lists
// every class.
func (s *Store) List(classID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(classID)
}

func (s *Store) listLocked(classID string) ([]Record, error) {
	q := s.db.Order("created_at")
	if classID != "" {
		q = q.Where("class_id = ?", classID)
	}
	var rows []Record
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing mappings: %w", err)
	}
	return rows, nil
}

// DeleteClass removes every mapping of a class and returns the row count.
func (s *Store) DeleteClass(classID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.Where("class_id = ?", classID).Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting class %q mappings: %w", classID, res.Error)
	}
	s.met.MappingsDeleted.Add(res.RowsAffected)
	s.log.Infof("mapping_delete", "class %s: %d mappings removed", classID, res.RowsAffected)
	return res.RowsAffected, nil
}

// DeletePerson removes a single mapping by pseudonym id and returns the row
// count (0 or 1). Callers own the "does this person still have surviving
// records elsewhere" check.
func (s *Store) DeletePerson(pseudonymID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.Where("pseudonym_id = ?", pseudonymID).Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting mapping %s: %w", pseudonymID, res.Error)
	}
	s.met.MappingsDeleted.Add(res.RowsAffected)
	s.log.Infof("mapping_delete", "%s: %d mapping removed", pseudonymID, res.RowsAffected)
	return res.RowsAffected, nil
}

// DeleteAll purges the whole table and returns the row count.
func (s *Store) DeleteAll() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.Where("1 = 1").Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging mappings: %w", res.Error)
	}
	s.met.MappingsDeleted.Add(res.RowsAffected)
	s.log.Infof("mapping_delete", "purge: %d mappings removed", res.RowsAffected)
	return res.RowsAffected, nil
}

// RestoreText replaces every pseudonym id of the class with the student's
// display name: first name when present, last name otherwise. Ids are
// synthetic tokens, so plain literal replacement is enough. An empty classID
// spans every class; callers exporting documents should always scope it.
func (s *Store) RestoreText(text, classID string) (string, error) {
	s.mu.Lock()
	rows, err := s.listLocked(classID)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	restored := int64(0)
	for _, row := range rows {
		n := strings.Count(text, row.PseudonymID)
		if n == 0 {
			continue
		}
		name := row.LastNameOriginal
		if row.FirstNameOriginal != nil && *row.FirstNameOriginal != "" {
			name = *row.FirstNameOriginal
		}
		text = strings.ReplaceAll(text, row.PseudonymID, name)
		restored += int64(n)
	}
	if restored > 0 {
		s.met.TokensRestored.Add(restored)
		s.log.Debugf("restore", "%d pseudonym tokens restored", restored)
	}
	return text, nil
}

// RedactKnown replaces every known student name of the class with its
// pseudonym id: "first last", "last first", then the last name alone,
// word-bounded and case-insensitive. Used to scrub cross-document blobs
// where no single document identity applies. An empty classID spans every
// class.
func (s *Store) RedactKnown(text, classID string) (string, error) {
	s.mu.Lock()
	rows, err := s.listLocked(classID)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	redacted := 0
	for _, row := range rows {
		last := row.LastNameOriginal
		first := ""
		if row.FirstNameOriginal != nil {
			first = *row.FirstNameOriginal
		}

		var cores []string
		if first != "" {
			cores = append(cores,
				regexp.QuoteMeta(first)+`\s+`+regexp.QuoteMeta(last),
				regexp.QuoteMeta(last)+`\s+`+regexp.QuoteMeta(first))
		}
		cores = append(cores, regexp.QuoteMeta(last))

		for _, core := range cores {
			re, err := textmatch.CompileWordPattern(core)
			if err != nil {
				return "", fmt.Errorf("compiling redaction pattern: %w", err)
			}
			var n int
			text, n = textmatch.ReplaceWholeWord(text, re, row.PseudonymID)
			redacted += n
		}
	}
	if redacted > 0 {
		s.log.Debugf("redact", "%d known-name occurrences redacted", redacted)
	}
	return text, nil
}

// normalizeDisplay prepares a name for storage: NFC, trimmed, inner
// whitespace collapsed. Case and accents are preserved for display.
func normalizeDisplay(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}
