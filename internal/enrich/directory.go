package enrich

import (
	"context"
	"strconv"

	"github.com/linnemanlabs/go-core/log"
)

// PatientDirectory resolves a subject identifier to a patient and care team.
// Lookup never fails: malformed identifiers and backend errors both read as "not found".
type PatientDirectory interface {
	Lookup(ctx context.Context, subjectID string) (*Patient, bool)
}

// PatientStore is the persistence interface behind the directory, keyed by the numeric house id.
type PatientStore interface {
	FindByHouseID(ctx context.Context, houseID int64) (*Patient, bool, error)
}

// LookupOutcome labels how a directory lookup ended.
type LookupOutcome string

const (
	LookupFound     LookupOutcome = "found"
	LookupNotFound  LookupOutcome = "not_found"
	LookupInvalidID LookupOutcome = "invalid_id"
	LookupError     LookupOutcome = "error"
)

// Directory adapts a PatientStore to the PatientDirectory contract. Store
// failures are logged and counted here and never reach the pipeline.
type Directory struct {
	store    PatientStore
	logger   log.Logger
	onLookup func(LookupOutcome)
}

// NewDirectory wraps store. A nil logger is replaced with a no-op logger.
func NewDirectory(store PatientStore, logger log.Logger, hooks Hooks) *Directory {
	if logger == nil {
		logger = log.Nop()
	}
	return &Directory{
		store:    store,
		logger:   logger,
		onLookup: hooks.OnLookup,
	}
}

// Lookup parses subjectID as an unsigned decimal house id and queries the store.
func (d *Directory) Lookup(ctx context.Context, subjectID string) (*Patient, bool) {
	houseID, err := parseHouseID(subjectID)
	if err != nil {
		d.logger.Warn(ctx, "invalid subject id, treating as not found", "subject_id", subjectID)
		d.observe(LookupInvalidID)
		return nil, false
	}

	p, ok, err := d.store.FindByHouseID(ctx, houseID)
	if err != nil {
		d.logger.Error(ctx, err, "directory lookup failed, treating as not found", "subject_id", subjectID)
		d.observe(LookupError)
		return nil, false
	}
	if !ok || p == nil {
		d.observe(LookupNotFound)
		return nil, false
	}

	d.observe(LookupFound)
	return p, true
}

// parseHouseID accepts digits only; ParseInt alone would also take a sign.
func parseHouseID(s string) (int64, error) {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(s, 10, 64)
}

func (d *Directory) observe(o LookupOutcome) {
	if d.onLookup != nil {
		d.onLookup(o)
	}
}
