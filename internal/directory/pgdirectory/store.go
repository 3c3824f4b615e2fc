// Package pgdirectory provides a PostgreSQL implementation of enrich.PatientStore.
package pgdirectory

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linnemanlabs/alertenrich/internal/enrich"
)

var tracer = otel.Tracer("github.com/linnemanlabs/alertenrich/internal/directory/pgdirectory")

//go:embed schema.sql
var schema string

// DefaultTimeout bounds a single lookup when no timeout is configured.
const DefaultTimeout = 2 * time.Second

// Querier is the subset of *pgxpool.Pool used by the store.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads patients and their care team from PostgreSQL.
type Store struct {
	db      Querier
	timeout time.Duration
}

// New returns a Store over db. A non-positive timeout selects DefaultTimeout.
func New(db Querier, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{db: db, timeout: timeout}
}

// Migrate applies the embedded schema. Safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const findByHouseIDQuery = `
SELECT p.id, p.first_name, p.last_name, p.house_id,
       d.id, d.first_name, d.last_name, d.email,
       n.id, n.first_name, n.last_name, n.email
  FROM patients p
  LEFT JOIN doctors d ON d.id = p.doctor_id
  LEFT JOIN nurses  n ON n.id = p.nurse_id
 WHERE p.house_id = $1`

// FindByHouseID resolves the patient with the given house id together with
// the assigned doctor and nurse in a single query.
func (s *Store) FindByHouseID(ctx context.Context, houseID int64) (*enrich.Patient, bool, error) {
	ctx, span := tracer.Start(ctx, "pgdirectory.FindByHouseID", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.Int64("alert.house_id", houseID),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, err := scanPatient(s.db.QueryRow(ctx, findByHouseIDQuery, houseID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("db.found", p != nil))
	if p == nil {
		return nil, false, nil
	}
	return p, true, nil
}

// scanPatient returns (nil, nil) when no row matched.
func scanPatient(row pgx.Row) (*enrich.Patient, error) {
	var (
		p                     enrich.Patient
		first, last           *string
		houseID               *int64
		docID, nurseID        *int64
		docFirst, docLast     *string
		docEmail              *string
		nurseFirst, nurseLast *string
		nurseEmail            *string
	)
	err := row.Scan(
		&p.ID, &first, &last, &houseID,
		&docID, &docFirst, &docLast, &docEmail,
		&nurseID, &nurseFirst, &nurseLast, &nurseEmail,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan patient: %w", err)
	}

	p.FirstName = deref(first)
	p.LastName = deref(last)
	if houseID != nil {
		p.SubjectID = strconv.FormatInt(*houseID, 10)
	}
	p.Doctor = provider(docID, docFirst, docLast, docEmail)
	p.Nurse = provider(nurseID, nurseFirst, nurseLast, nurseEmail)
	return &p, nil
}

// provider builds a CareProvider from LEFT JOIN columns; a NULL id means no assignment.
func provider(id *int64, first, last, email *string) *enrich.CareProvider {
	if id == nil {
		return nil
	}
	return &enrich.CareProvider{
		ID:    *id,
		Name:  strings.TrimSpace(deref(first) + " " + deref(last)),
		Email: deref(email),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
