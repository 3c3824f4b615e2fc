// Package memdirectory provides an in-memory implementation of enrich.PatientStore,
// optionally seeded from a YAML file.
package memdirectory

import (
	"context"
	"sync"

	"github.com/linnemanlabs/alertenrich/internal/enrich"
)

// Store holds patients in memory keyed by house id. Suitable for dev/testing
// and small static deployments.
type Store struct {
	mu       sync.RWMutex
	patients map[int64]*enrich.Patient // house id -> patient
}

// New initializes an empty Store.
func New() *Store {
	return &Store{patients: make(map[int64]*enrich.Patient)}
}

// FindByHouseID returns a copy of the patient registered under houseID.
func (s *Store) FindByHouseID(_ context.Context, houseID int64) (*enrich.Patient, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[houseID]
	if !ok {
		return nil, false, nil
	}
	return clonePatient(p), true, nil
}

// Put stores a copy of p under houseID, replacing any previous entry.
func (s *Store) Put(houseID int64, p *enrich.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[houseID] = clonePatient(p)
}

// Replace swaps the full contents in one step. Readers see either the old or
// the new set, never a mix.
func (s *Store) Replace(patients map[int64]*enrich.Patient) {
	next := make(map[int64]*enrich.Patient, len(patients))
	for id, p := range patients {
		next[id] = clonePatient(p)
	}
	s.mu.Lock()
	s.patients = next
	s.mu.Unlock()
}

// Len returns the number of patients held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patients)
}

func clonePatient(p *enrich.Patient) *enrich.Patient {
	cp := *p
	if p.Doctor != nil {
		d := *p.Doctor
		cp.Doctor = &d
	}
	if p.Nurse != nil {
		n := *p.Nurse
		cp.Nurse = &n
	}
	return &cp
}
