package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/linnemanlabs/alertenrich/internal/alert"
	"github.com/linnemanlabs/alertenrich/internal/enrich"
)

// fakeSource serves queued messages strictly in order, never re-serving one,
// then cancels the run context once drained.
type fakeSource struct {
	mu        sync.Mutex
	msgs      []*Message
	fetchErrs []error // returned before messages, one per Fetch
	commitErr error
	committed []*Message
	fetched   []string
	onDrained context.CancelFunc
}

func (s *fakeSource) Fetch(ctx context.Context) (*Message, error) {
	s.mu.Lock()
	if len(s.fetchErrs) > 0 {
		err := s.fetchErrs[0]
		s.fetchErrs = s.fetchErrs[1:]
		s.mu.Unlock()
		return nil, err
	}
	if len(s.msgs) == 0 {
		s.mu.Unlock()
		if s.onDrained != nil {
			s.onDrained()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	s.fetched = append(s.fetched, string(m.Key))
	s.mu.Unlock()
	return m, nil
}

func (s *fakeSource) Commit(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = append(s.committed, m)
	return nil
}

func (s *fakeSource) Close() error { return nil }

func (s *fakeSource) committedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.committed))
	for _, m := range s.committed {
		out = append(out, string(m.Key))
	}
	return out
}

// fakeSink records published alerts. Publish fails for subject failFor the
// first failTimes attempts, or always when failTimes is negative.
type fakeSink struct {
	mu        sync.Mutex
	published map[string]*enrich.EnrichedAlert
	attempts  []string // ids in attempt order
	failFor   string
	failTimes int
}

func newFakeSink() *fakeSink {
	return &fakeSink{published: make(map[string]*enrich.EnrichedAlert)}
}

func (s *fakeSink) Publish(_ context.Context, id string, a *enrich.EnrichedAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, id)
	if s.failFor != "" && a.SubjectID == s.failFor && s.failTimes != 0 {
		s.failTimes--
		return errors.New("broker unavailable")
	}
	s.published[id] = a
	return nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published)
}

func (s *fakeSink) attemptIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.attempts...)
}

// fakeEnricher fails for failCode the first failTimes attempts, or always when
// failTimes is negative.
type fakeEnricher struct {
	mu        sync.Mutex
	failCode  string
	failTimes int
}

func (e *fakeEnricher) Enrich(_ context.Context, raw *alert.RawEvent) (*enrich.EnrichedAlert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failCode != "" && raw.AlertCode == e.failCode && e.failTimes != 0 {
		e.failTimes--
		return nil, errors.New("enrich exploded")
	}
	return &enrich.EnrichedAlert{SubjectID: raw.SubjectID, Severity: enrich.Classify(raw.AlertCode).Severity}, nil
}
