package registrations

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/etekaf/backend/internal/models"
)

// MemoryStore is an in-process Store with the same uniqueness and conditional-update
// semantics as Repository. Unit tests use it in place of Postgres.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.Registration
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]*models.Registration), now: time.Now}
}

var _ Store = (*MemoryStore)(nil)

func clone(reg *models.Registration) *models.Registration {
	c := *reg
	return &c
}

func (m *MemoryStore) find(match func(*models.Registration) bool) *models.Registration {
	for _, reg := range m.byID {
		if match(reg) {
			return reg
		}
	}
	return nil
}

func (m *MemoryStore) Create(_ context.Context, reg *models.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		switch {
		case existing.NationalCode == reg.NationalCode:
			return ErrDuplicateNationalCode
		case existing.Mobile == reg.Mobile:
			return ErrDuplicateMobile
		case existing.TrackingCode == reg.TrackingCode:
			return ErrDuplicateTrackingCode
		}
	}
	reg.ID = uuid.New()
	reg.CreatedAt = m.now()
	reg.UpdatedAt = reg.CreatedAt
	m.byID[reg.ID] = clone(reg)
	return nil
}

func (m *MemoryStore) get(match func(*models.Registration) bool) (*models.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg := m.find(match); reg != nil {
		return clone(reg), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*models.Registration, error) {
	return m.get(func(r *models.Registration) bool { return r.ID == id })
}

func (m *MemoryStore) GetByTrackingCode(_ context.Context, code string) (*models.Registration, error) {
	return m.get(func(r *models.Registration) bool { return r.TrackingCode == code })
}

func (m *MemoryStore) GetByAuthority(_ context.Context, authority string) (*models.Registration, error) {
	return m.get(func(r *models.Registration) bool {
		return r.PaymentAuthority != nil && *r.PaymentAuthority == authority
	})
}

func (m *MemoryStore) FindByIdentity(_ context.Context, nationalCode, mobile string) (*models.Registration, error) {
	return m.get(func(r *models.Registration) bool {
		return r.NationalCode == nationalCode && r.Mobile == mobile
	})
}

func (m *MemoryStore) FindPending(_ context.Context, nationalCode, mobile string) (*models.Registration, error) {
	return m.get(func(r *models.Registration) bool {
		return r.NationalCode == nationalCode && r.Mobile == mobile && r.PaymentStatus == models.PaymentStatusPending
	})
}

// update applies fn to the first registration matching cond, atomically.
func (m *MemoryStore) update(cond func(*models.Registration) bool, fn func(*models.Registration)) (*models.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg := m.find(cond)
	if reg == nil {
		return nil, ErrNotFound
	}
	fn(reg)
	reg.UpdatedAt = m.now()
	return clone(reg), nil
}

func pendingWithAuthority(authority string) func(*models.Registration) bool {
	return func(r *models.Registration) bool {
		return r.PaymentStatus == models.PaymentStatusPending && r.PaymentAuthority != nil && *r.PaymentAuthority == authority
	}
}

func (m *MemoryStore) SetAuthority(_ context.Context, id uuid.UUID, authority string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.find(func(r *models.Registration) bool {
		return r.ID != id && r.PaymentAuthority != nil && *r.PaymentAuthority == authority
	}) != nil {
		return ErrConflict
	}
	reg := m.find(func(r *models.Registration) bool {
		return r.ID == id && r.PaymentStatus == models.PaymentStatusPending
	})
	if reg == nil {
		return ErrNotFound
	}
	reg.PaymentAuthority = &authority
	reg.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) MarkPaid(_ context.Context, authority string, res models.PaymentResult) (*models.Registration, error) {
	return m.update(pendingWithAuthority(authority), func(r *models.Registration) {
		refID, pan, paidAt := res.RefID, res.CardPan, res.PaidAt
		r.PaymentStatus = models.PaymentStatusPaid
		r.PaymentRefID = &refID
		r.PaymentCardPan = &pan
		r.PaymentDate = &paidAt
	})
}

func (m *MemoryStore) MarkFailed(_ context.Context, authority string) (*models.Registration, error) {
	return m.update(pendingWithAuthority(authority), func(r *models.Registration) {
		r.PaymentStatus = models.PaymentStatusFailed
	})
}

func (m *MemoryStore) ResetFailed(_ context.Context, id uuid.UUID) (*models.Registration, error) {
	return m.update(func(r *models.Registration) bool {
		return r.ID == id && r.PaymentStatus == models.PaymentStatusFailed
	}, func(r *models.Registration) {
		r.PaymentStatus = models.PaymentStatusPending
		r.PaymentAuthority = nil
	})
}

func (m *MemoryStore) List(_ context.Context, f models.RegistrationFilter) ([]models.Registration, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	term := strings.ToLower(strings.TrimSpace(f.Search))
	var matched []models.Registration
	for _, r := range m.byID {
		if f.Status != "" && r.PaymentStatus != f.Status {
			continue
		}
		if term != "" && !matchesSearch(r, term) {
			continue
		}
		matched = append(matched, *r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func matchesSearch(r *models.Registration, term string) bool {
	return strings.Contains(strings.ToLower(r.FirstName), term) ||
		strings.Contains(strings.ToLower(r.LastName), term) ||
		strings.Contains(r.NationalCode, term) ||
		strings.Contains(r.Mobile, term) ||
		strings.Contains(strings.ToLower(r.TrackingCode), term)
}

func (m *MemoryStore) Stats(_ context.Context) (*models.RegistrationStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s models.RegistrationStats
	for _, r := range m.byID {
		s.Total++
		switch r.PaymentStatus {
		case models.PaymentStatusPaid:
			s.Paid++
			s.Revenue += r.PaymentAmount
		case models.PaymentStatusPending:
			s.Pending++
		case models.PaymentStatusFailed:
			s.Failed++
		}
	}
	return &s, nil
}
