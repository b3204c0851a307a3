package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/request-marketplace/internal/models"
)

var (
	// ErrNotFound is returned when the referenced request or provider does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConditionFailed is returned by conditional updates whose precondition
	// did not hold (response cap reached, balance too low, wrong status).
	ErrConditionFailed = errors.New("storage: condition failed")
)

// RequestStore persists client requests. Mutating operations that guard an
// invariant (response cap, status transitions) are expressed as conditional
// updates so concurrent unlock attempts serialize at the store.
type RequestStore interface {
	SaveRequest(ctx context.Context, r *models.ClientRequest) error
	GetRequest(ctx context.Context, id string) (*models.ClientRequest, error)
	ListActiveRequests(ctx context.Context) ([]models.ClientRequest, error)

	// MarkExpired transitions active -> expired. ErrConditionFailed when the
	// request is already expired (the transition is idempotent for callers
	// materializing lazy expiry, which treat that as success).
	MarkExpired(ctx context.Context, id string) error

	// Reactivate resets an expired request to active with a fresh TTL anchor.
	// The response count is deliberately left untouched.
	Reactivate(ctx context.Context, id string, now time.Time) error

	// IncrementResponses adds one response while status is active and the
	// count is below max, returning the new count.
	IncrementResponses(ctx context.Context, id string, max int) (int, error)

	// DecrementResponses compensates a failed debit after a successful increment.
	DecrementResponses(ctx context.Context, id string) error
}

// ProviderStore persists service provider profiles and credit balances.
type ProviderStore interface {
	SaveProvider(ctx context.Context, sp *models.ServiceProvider) error
	GetProvider(ctx context.Context, code string) (*models.ServiceProvider, error)
	ListProviders(ctx context.Context) ([]models.ServiceProvider, error)
	UpdateProviderLocation(ctx context.Context, code string, loc models.Coord, now time.Time) error
	UpdateProviderToken(ctx context.Context, code, token string) error
	CreditBalance(ctx context.Context, code string) (int, error)

	// DebitCredits subtracts amount while balance >= amount, returning the new
	// balance. ErrConditionFailed when the balance is too low.
	DebitCredits(ctx context.Context, code string, amount int) (int, error)
	AddCredits(ctx context.Context, code string, amount int) (int, error)
}

type Store interface {
	RequestStore
	ProviderStore
}

// MemoryStore keeps everything behind one mutex. Good enough for tests and
// redis-less local runs; the conditional-update contract is identical to the
// Postgres implementation.
type MemoryStore struct {
	mu        sync.Mutex
	requests  map[string]*models.ClientRequest
	providers map[string]*models.ServiceProvider
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*models.ClientRequest),
		providers: make(map[string]*models.ServiceProvider),
	}
}

func (m *MemoryStore) SaveRequest(ctx context.Context, r *models.ClientRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*models.ClientRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListActiveRequests(ctx context.Context) ([]models.ClientRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ClientRequest, 0, len(m.requests))
	for _, r := range m.requests {
		if r.Status == models.StatusActive {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkExpired(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != models.StatusActive {
		return ErrConditionFailed
	}
	r.Status = models.StatusExpired
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Reactivate(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != models.StatusExpired {
		return ErrConditionFailed
	}
	r.Status = models.StatusActive
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (m *MemoryStore) IncrementResponses(ctx context.Context, id string, max int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return 0, ErrNotFound
	}
	if r.Status != models.StatusActive || r.ResponseCount >= max {
		return r.ResponseCount, ErrConditionFailed
	}
	r.ResponseCount++
	r.UpdatedAt = time.Now()
	return r.ResponseCount, nil
}

func (m *MemoryStore) DecrementResponses(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if r.ResponseCount > 0 {
		r.ResponseCount--
		r.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemoryStore) SaveProvider(ctx context.Context, sp *models.ServiceProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sp
	m.providers[sp.Code] = &cp
	return nil
}

func (m *MemoryStore) GetProvider(ctx context.Context, code string) (*models.ServiceProvider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.providers[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sp
	return &cp, nil
}

func (m *MemoryStore) ListProviders(ctx context.Context) ([]models.ServiceProvider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ServiceProvider, 0, len(m.providers))
	for _, sp := range m.providers {
		out = append(out, *sp)
	}
	return out, nil
}

func (m *MemoryStore) UpdateProviderLocation(ctx context.Context, code string, loc models.Coord, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.providers[code]
	if !ok {
		return ErrNotFound
	}
	sp.Loc = &loc
	sp.Updated = now
	return nil
}

func (m *MemoryStore) UpdateProviderToken(ctx context.Context, code, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.providers[code]
	if !ok {
		return ErrNotFound
	}
	sp.PushToken = token
	return nil
}

func (m *MemoryStore) CreditBalance(ctx context.Context, code string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.providers[code]
	if !ok {
		return 0, ErrNotFound
	}
	return sp.Balance, nil
}

func (m *MemoryStore) DebitCredits(ctx context.Context, code string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.providers[code]
	if !ok {
		return 0, ErrNotFound
	}
	if sp.Balance < amount {
		return sp.Balance, ErrConditionFailed
	}
	sp.Balance -= amount
	return sp.Balance, nil
}

func (m *MemoryStore) AddCredits(ctx context.Context, code string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.providers[code]
	if !ok {
		return 0, ErrNotFound
	}
	sp.Balance += amount
	return sp.Balance, nil
}
