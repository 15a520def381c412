package claim

import (
	"context"
	"sort"
	"sync"
	"time"

	"selfcare/internal/heatmeter/models"
	id "selfcare/pkg/domain"
	"selfcare/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded claim store for tests and single-node dev
// runs. The mutex makes first-claim-primary and set-primary atomic the same
// way the postgres store's transactions do.
type InMemory struct {
	mu     sync.RWMutex
	claims map[id.ClaimID]*models.Claim
}

func NewInMemory() *InMemory {
	return &InMemory{claims: make(map[id.ClaimID]*models.Claim)}
}

// Create inserts a new claim. The store decides IsPrimary: a user's first
// claim becomes primary, later ones do not. Returns sentinel.ErrConflict if
// the (user, meter) pair already has a claim.
func (s *InMemory) Create(ctx context.Context, c *models.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.claims {
		if existing.UserID == c.UserID && existing.MeterNumber == c.MeterNumber {
			return sentinel.ErrConflict
		}
	}

	c.IsPrimary = !s.userHasClaimLocked(c.UserID)
	cp := *c
	s.claims[c.ID] = &cp
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, claimID id.ClaimID) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.claims[claimID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *InMemory) FindByUserAndMeter(ctx context.Context, userID id.UserID, meter id.MeterNumber) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.claims {
		if c.UserID == userID && c.MeterNumber == meter {
			cp := *c
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ListByUser returns the user's claims ordered oldest first.
func (s *InMemory) ListByUser(ctx context.Context, userID id.UserID) ([]*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Claim
	for _, c := range s.claims {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) CountByUser(ctx context.Context, userID id.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, c := range s.claims {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

// SetPrimary atomically clears IsPrimary on every other claim of the user
// and sets it on the target. The target must exist and belong to the user.
func (s *InMemory) SetPrimary(ctx context.Context, userID id.UserID, claimID id.ClaimID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.claims[claimID]
	if !ok || target.UserID != userID {
		return sentinel.ErrNotFound
	}

	for _, c := range s.claims {
		if c.UserID == userID && c.IsPrimary {
			c.IsPrimary = false
			c.UpdatedAt = at
		}
	}
	target.IsPrimary = true
	target.UpdatedAt = at
	return nil
}

// MarkVerified records a successful verification. No-op when the claim is
// already verified.
func (s *InMemory) MarkVerified(ctx context.Context, claimID id.ClaimID, method models.VerificationMethod, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[claimID]
	if !ok {
		return sentinel.ErrNotFound
	}
	c.ApplyVerification(method, at)
	return nil
}

// Delete removes a claim owned by the user.
func (s *InMemory) Delete(ctx context.Context, userID id.UserID, claimID id.ClaimID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[claimID]
	if !ok || c.UserID != userID {
		return sentinel.ErrNotFound
	}
	delete(s.claims, claimID)
	return nil
}

func (s *InMemory) userHasClaimLocked(userID id.UserID) bool {
	for _, c := range s.claims {
		if c.UserID == userID {
			return true
		}
	}
	return false
}
