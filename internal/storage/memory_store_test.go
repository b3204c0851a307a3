package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/request-marketplace/internal/models"
)

func newActiveRequest(id string, count int) *models.ClientRequest {
	return &models.ClientRequest{
		ID:            id,
		ServiceType:   "car",
		Status:        models.StatusActive,
		ResponseCount: count,
		CreatedAt:     time.Now(),
	}
}

func TestIncrementResponsesCap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.SaveRequest(ctx, newActiveRequest("r1", 4)); err != nil {
		t.Fatal(err)
	}
	n, err := s.IncrementResponses(ctx, "r1", 5)
	if err != nil || n != 5 {
		t.Fatalf("first increment: n=%d err=%v", n, err)
	}
	if _, err := s.IncrementResponses(ctx, "r1", 5); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed at cap, got %v", err)
	}
}

func TestIncrementResponsesConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.SaveRequest(ctx, newActiveRequest("r1", 4)); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IncrementResponses(ctx, "r1", 5); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Fatalf("expected exactly 1 successful increment, got %d", succeeded)
	}
	r, err := s.GetRequest(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if r.ResponseCount != 5 {
		t.Fatalf("response count %d exceeds cap", r.ResponseCount)
	}
}

func TestIncrementRejectsExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.SaveRequest(ctx, newActiveRequest("r1", 0))
	if err := s.MarkExpired(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.IncrementResponses(ctx, "r1", 5); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed on expired request, got %v", err)
	}
	// expiring twice fails the precondition
	if err := s.MarkExpired(ctx, "r1"); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed on second expiry, got %v", err)
	}
}

func TestReactivateKeepsResponseCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.SaveRequest(ctx, newActiveRequest("r1", 3))
	_ = s.MarkExpired(ctx, "r1")

	now := time.Now()
	if err := s.Reactivate(ctx, "r1", now); err != nil {
		t.Fatal(err)
	}
	r, _ := s.GetRequest(ctx, "r1")
	if r.Status != models.StatusActive {
		t.Fatalf("status=%s", r.Status)
	}
	if !r.CreatedAt.Equal(now) {
		t.Fatal("reactivate must reset the TTL anchor")
	}
	if r.ResponseCount != 3 {
		t.Fatalf("response count must survive retry, got %d", r.ResponseCount)
	}
	// reactivating an active request fails
	if err := s.Reactivate(ctx, "r1", now); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}
}

func TestDebitCredits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.SaveProvider(ctx, &models.ServiceProvider{Code: "SP1", Balance: 20})

	balance, err := s.DebitCredits(ctx, "SP1", 15)
	if err != nil || balance != 5 {
		t.Fatalf("debit: balance=%d err=%v", balance, err)
	}
	balance, err = s.DebitCredits(ctx, "SP1", 15)
	if !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}
	if balance != 5 {
		t.Fatalf("failed debit must not mutate, balance=%d", balance)
	}
	if _, err := s.DebitCredits(ctx, "ghost", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListActiveRequests(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.SaveRequest(ctx, newActiveRequest("a", 0))
	_ = s.SaveRequest(ctx, newActiveRequest("b", 0))
	_ = s.MarkExpired(ctx, "b")

	got, err := s.ListActiveRequests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected only request a, got %v", got)
	}
}
