package attempt

import (
	"context"
	"sort"
	"sync"
	"time"

	"selfcare/internal/heatmeter/models"
	id "selfcare/pkg/domain"
	"selfcare/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded attempt store. Records are append-only apart
// from counter increments, verification stamps, and forced expiry — the
// audit-trail contract means nothing is ever deleted.
type InMemory struct {
	mu       sync.RWMutex
	attempts map[id.AttemptID]*models.Attempt
	// seq breaks CreatedAt ties so "newest wins" stays deterministic even
	// when two records share a timestamp.
	seq    uint64
	seqMap map[id.AttemptID]uint64
}

func NewInMemory() *InMemory {
	return &InMemory{
		attempts: make(map[id.AttemptID]*models.Attempt),
		seqMap:   make(map[id.AttemptID]uint64),
	}
}

func (s *InMemory) Create(ctx context.Context, a *models.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(a)
	return nil
}

// SupersedeAndCreate force-expires every active record of the same
// (user, meter, type) and inserts the new one in a single critical section,
// so a concurrent verify can never observe two active challenges.
func (s *InMemory) SupersedeAndCreate(ctx context.Context, a *models.Attempt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.attempts {
		if existing.UserID == a.UserID && existing.MeterNumber == a.MeterNumber &&
			existing.Type == a.Type && existing.ActiveAt(now) {
			existing.ExpiresAt = now
		}
	}
	s.insertLocked(a)
	return nil
}

// FindActive returns the newest active record for (user, meter, type), or
// sentinel.ErrNotFound.
func (s *InMemory) FindActive(ctx context.Context, userID id.UserID, meter id.MeterNumber, typ models.AttemptType, now time.Time) (*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.matchLocked(userID, meter, typ)
	for _, a := range candidates {
		if a.ActiveAt(now) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// FindLatest returns the newest record for (user, meter, type) regardless of
// state. Resend cooldowns are measured against this record.
func (s *InMemory) FindLatest(ctx context.Context, userID id.UserID, meter id.MeterNumber, typ models.AttemptType) (*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.matchLocked(userID, meter, typ)
	if len(candidates) == 0 {
		return nil, sentinel.ErrNotFound
	}
	cp := *candidates[0]
	return &cp, nil
}

func (s *InMemory) FindByID(ctx context.Context, attemptID id.AttemptID) (*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// IncrementAttempts bumps the counter by one, refusing to pass the cap.
// Returns the updated record, or sentinel.ErrExhausted (with no mutation)
// when the cap is already consumed.
func (s *InMemory) IncrementAttempts(ctx context.Context, attemptID id.AttemptID) (*models.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if a.Exhausted() {
		return nil, sentinel.ErrExhausted
	}
	a.Attempts++
	cp := *a
	return &cp, nil
}

// MarkVerified stamps the attempt. Idempotent.
func (s *InMemory) MarkVerified(ctx context.Context, attemptID id.AttemptID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if a.VerifiedAt == nil {
		a.VerifiedAt = &at
	}
	return nil
}

// Expire forces a record out of the active set (manual review rejection).
func (s *InMemory) Expire(ctx context.Context, attemptID id.AttemptID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if a.ExpiresAt.After(at) {
		a.ExpiresAt = at
	}
	return nil
}

// ListPendingInvoices returns unverified, unexpired invoice attempts, newest
// first, up to limit.
func (s *InMemory) ListPendingInvoices(ctx context.Context, now time.Time, limit int) ([]*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Attempt
	for _, a := range s.attempts {
		if a.Type == models.TypeInvoice && !a.Verified() && a.ExpiresAt.After(now) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return s.seqMap[out[i].ID] > s.seqMap[out[j].ID]
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) insertLocked(a *models.Attempt) {
	cp := *a
	s.seq++
	s.attempts[a.ID] = &cp
	s.seqMap[a.ID] = s.seq
}

// matchLocked returns records for (user, meter, type) sorted newest first.
func (s *InMemory) matchLocked(userID id.UserID, meter id.MeterNumber, typ models.AttemptType) []*models.Attempt {
	var out []*models.Attempt
	for _, a := range s.attempts {
		if a.UserID == userID && a.MeterNumber == meter && a.Type == typ {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return s.seqMap[out[i].ID] > s.seqMap[out[j].ID]
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
