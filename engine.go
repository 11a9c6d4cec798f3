// Package pseudonymizer pseudonymizes French school-report documents before
// their text leaves the machine for third-party AI APIs.
//
// A document goes through three steps: the declared student identity is
// extracted from the text, a stable pseudonym id is created or looked up in
// the local mapping store, and a three-pass pipeline replaces every spelling
// of the student's name with that id. The mapping store never leaves the
// machine, so class-scoped exports can restore display names later.
//
// Usage:
//
//	eng, err := pseudonymizer.Open()
//	if err != nil {
//		return err
//	}
//	defer eng.Close()
//
//	res, err := eng.ProcessDocument(documentText, "5A")
//	if errors.Is(err, pseudonymizer.ErrNoIdentity) {
//		// cover page or annex, nothing to scrub
//	}
package pseudonymizer

import (
	"encoding/json"
	"time"

	"bulletin-pseudonymizer/internal/config"
	"bulletin-pseudonymizer/internal/identity"
	"bulletin-pseudonymizer/internal/logger"
	"bulletin-pseudonymizer/internal/mapping"
	"bulletin-pseudonymizer/internal/metrics"
	"bulletin-pseudonymizer/internal/ner"
	"bulletin-pseudonymizer/internal/pipeline"
)

// Identity is the student identity declared in a document.
type Identity struct {
	LastName  string
	FirstName string // empty when the document names a single all-caps form
	FullName  string // the name span exactly as printed
	Gender    string // "Fille", "Garçon" or empty
}

// Mapping is one stored pseudonym relation.
type Mapping struct {
	PseudonymID string    `json:"pseudonymId"`
	LastName    string    `json:"lastName"`
	FirstName   string    `json:"firstName,omitempty"`
	ClassID     string    `json:"classId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Result is the outcome of processing one document.
type Result struct {
	PseudonymID string
	Identity    Identity
	Text        string // the document with every name spelling replaced
}

// Options overrides individual configuration values for embedding
// applications. Zero-valued fields keep the loaded configuration.
type Options struct {
	DBPath          string
	PseudonymPrefix string
	NERCachePath    string
	NERCacheSize    int
	LogLevel        string
}

func (o Options) apply(cfg *config.Config) {
	if o.DBPath != "" {
		cfg.DBPath = o.DBPath
	}
	if o.PseudonymPrefix != "" {
		cfg.PseudonymPrefix = o.PseudonymPrefix
	}
	if o.NERCachePath != "" {
		cfg.NERCachePath = o.NERCachePath
	}
	if o.NERCacheSize > 0 {
		cfg.NERCacheSize = o.NERCacheSize
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
}

// Engine owns the mapping store, the NER tagger and the pipeline. It is the
// only public surface of the subsystem and is safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	log      *logger.Logger
	met      *metrics.Metrics
	store    *mapping.Store
	tagger   *ner.Tagger
	pipeline *pipeline.Pipeline
}

// Open builds an Engine from the layered configuration (defaults, then
// privacy-config.json, then PRIVACY_* environment variables).
func Open() (*Engine, error) {
	return OpenWith(Options{})
}

// OpenWith builds an Engine with opts applied on top of the layered
// configuration.
func OpenWith(opts Options) (*Engine, error) {
	cfg := config.Load()
	opts.apply(cfg)

	log := logger.New("engine", cfg.LogLevel)
	met := metrics.New()

	store, err := mapping.Open(cfg.DBPath, cfg.PseudonymPrefix, logger.New("mapping", cfg.LogLevel), met)
	if err != nil {
		return nil, err
	}

	tagger := ner.New(logger.New("ner", cfg.LogLevel), met, ner.OpenCache(cfg.NERCachePath, cfg.NERCacheSize))
	pipe := pipeline.New(tagger, logger.New("pipeline", cfg.LogLevel), met)

	log.Infof("open", "engine ready (db=%s, prefix=%s)", cfg.DBPath, cfg.PseudonymPrefix)
	return &Engine{
		cfg:      cfg,
		log:      log,
		met:      met,
		store:    store,
		tagger:   tagger,
		pipeline: pipe,
	}, nil
}

// ExtractIdentity finds the declared student identity in documentText. The
// second return value is false when the document declares none.
func (e *Engine) ExtractIdentity(documentText string) (Identity, bool) {
	ident, ok := identity.Extract(documentText)
	if !ok {
		e.met.ExtractionMisses.Add(1)
		return Identity{}, false
	}
	e.met.ExtractionHits.Add(1)
	return publicIdentity(ident), true
}

// Register returns the stable pseudonym id for a student, creating the
// mapping on first sight. firstName may be empty.
func (e *Engine) Register(lastName, firstName, classID string) (string, error) {
	return e.store.CreateOrGet(lastName, firstName, classID)
}

// Pseudonymize replaces every spelling of the student's name in text with
// pseudonymID. An error means the text must still be treated as carrying
// the name.
func (e *Engine) Pseudonymize(text, lastName, firstName, pseudonymID string) (string, error) {
	return e.pipeline.Pseudonymize(text, lastName, firstName, pseudonymID)
}

// ProcessDocument runs the full flow on one document: extract the identity,
// register it under classID, scrub the text. ErrNoIdentity when the document
// declares no student.
func (e *Engine) ProcessDocument(documentText, classID string) (*Result, error) {
	ident, ok := e.ExtractIdentity(documentText)
	if !ok {
		return nil, ErrNoIdentity
	}

	id, err := e.store.CreateOrGet(ident.LastName, ident.FirstName, classID)
	if err != nil {
		return nil, err
	}

	text, err := e.pipeline.Pseudonymize(documentText, ident.LastName, ident.FirstName, id)
	if err != nil {
		return nil, err
	}

	e.met.DocumentsProcessed.Add(1)
	return &Result{PseudonymID: id, Identity: ident, Text: text}, nil
}

// ReverseLookup resolves a pseudonym id back to the stored identity. A
// missing id is (zero, false, nil), not an error.
func (e *Engine) ReverseLookup(pseudonymID string) (Mapping, bool, error) {
	rec, found, err := e.store.ReverseLookup(pseudonymID)
	if err != nil || !found {
		return Mapping{}, found, err
	}
	return publicMapping(rec), true, nil
}

// Mappings lists stored mappings oldest first. An empty classID lists every
// class.
func (e *Engine) Mappings(classID string) ([]Mapping, error) {
	rows, err := e.store.List(classID)
	if err != nil {
		return nil, err
	}
	out := make([]Mapping, len(rows))
	for i, rec := range rows {
		out[i] = publicMapping(rec)
	}
	return out, nil
}

// Restore replaces the class's pseudonym ids in text with display names
// (first name when present, last name otherwise). The class scope is
// mandatory: ErrClassRequired when empty.
func (e *Engine) Restore(text, classID string) (string, error) {
	if classID == "" {
		return "", ErrClassRequired
	}
	return e.store.RestoreText(text, classID)
}

// RedactKnown replaces every known student name of the class with its
// pseudonym id. Meant for cross-document blobs where no single document
// identity applies. An empty classID spans every class.
func (e *Engine) RedactKnown(text, classID string) (string, error) {
	return e.store.RedactKnown(text, classID)
}

// DeleteClass removes every mapping of a class and returns the row count.
// Restoring that class's documents is impossible afterwards.
func (e *Engine) DeleteClass(classID string) (int64, error) {
	return e.store.DeleteClass(classID)
}

// DeletePerson removes one mapping by pseudonym id and returns the row
// count (0 or 1).
func (e *Engine) DeletePerson(pseudonymID string) (int64, error) {
	return e.store.DeletePerson(pseudonymID)
}

// StatsJSON returns the current metrics snapshot as JSON.
func (e *Engine) StatsJSON() ([]byte, error) {
	return json.Marshal(e.met.Snapshot())
}

// Close releases the mapping store and the span cache.
func (e *Engine) Close() error {
	err := e.store.Close()
	if cerr := e.tagger.Close(); err == nil {
		err = cerr
	}
	e.log.Info("close", "engine closed")
	return err
}

func publicIdentity(ident identity.Identity) Identity {
	return Identity{
		LastName:  ident.LastName,
		FirstName: ident.FirstName,
		FullName:  ident.FullName,
		Gender:    ident.Gender,
	}
}

func publicMapping(rec mapping.Record) Mapping {
	m := Mapping{
		PseudonymID: rec.PseudonymID,
		LastName:    rec.LastNameOriginal,
		ClassID:     rec.ClassID,
		CreatedAt:   rec.CreatedAt,
	}
	if rec.FirstNameOriginal != nil {
		m.FirstName = *rec.FirstNameOriginal
	}
	return m
}
