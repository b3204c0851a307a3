package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/request-marketplace/internal/lifecycle"
	"github.com/example/request-marketplace/internal/models"
	"github.com/example/request-marketplace/internal/observability"
	"github.com/example/request-marketplace/internal/pricing"
	"github.com/example/request-marketplace/internal/storage"
)

// InsufficientCreditsError carries the shortfall so the caller can prompt a
// top-up. The same unlock call can be retried after topping up; it
// re-validates everything from the start.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Required, e.Available)
}

var ErrInvalidAmount = errors.New("ledger: amount must be greater than 0")

// RespondedNotifier signals the originating client that a provider has
// unlocked; stops the countdown UI. Best-effort, never load-bearing.
type RespondedNotifier interface {
	NotifyResponded(requestID string) error
}

// Service meters provider access to client contact details against the
// per-provider credit balance.
type Service struct {
	Store     storage.Store
	Lifecycle *lifecycle.Service
	Notifier  RespondedNotifier
	Logger    *slog.Logger
}

// Unlock runs the unlock protocol in strict order: load, lazy expiry, cost
// lookup, balance check, then the debit/increment pair. The expiry check
// comes before any credit check, so a provider is never charged for an
// already-expired request.
//
// The store gives no multi-record transactions, so the pair is: increment the
// response count first (conditional on the cap), then debit (conditional on
// the balance); a failed debit is compensated by decrementing the count. A
// reader can therefore never observe a debited balance without its matching
// response, only the harmless inverse for the instant between the two writes.
func (s *Service) Unlock(ctx context.Context, spCode, requestID string) (*models.UnlockResult, error) {
	req, err := s.Store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if err := s.Lifecycle.EnsureActive(ctx, req); err != nil {
		observability.UnlocksDenied.WithLabelValues("expired").Inc()
		return nil, err
	}

	cost := pricing.CreditsForService(req.ServiceType)

	balance, err := s.Store.CreditBalance(ctx, spCode)
	if err != nil {
		return nil, err
	}
	if balance < cost {
		observability.UnlocksDenied.WithLabelValues("insufficient_credits").Inc()
		return nil, &InsufficientCreditsError{Required: cost, Available: balance}
	}

	responses, err := s.Store.IncrementResponses(ctx, requestID, s.Lifecycle.MaxResponses)
	if err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			// lost the race for the last response slot, or expired between
			// the check and the increment; materialize and report expired
			if merr := s.Store.MarkExpired(ctx, requestID); merr == nil {
				observability.RequestsExpired.Inc()
			}
			observability.UnlocksDenied.WithLabelValues("expired").Inc()
			return nil, lifecycle.ErrExpired
		}
		return nil, err
	}

	newBalance, err := s.Store.DebitCredits(ctx, spCode, cost)
	if err != nil {
		// compensate: the response slot must not stay consumed
		if derr := s.Store.DecrementResponses(ctx, requestID); derr != nil {
			s.Logger.Error("compensating decrement failed", "request_id", requestID, "provider", spCode, "error", derr)
		}
		if errors.Is(err, storage.ErrConditionFailed) {
			observability.UnlocksDenied.WithLabelValues("insufficient_credits").Inc()
			return nil, &InsufficientCreditsError{Required: cost, Available: newBalance}
		}
		return nil, err
	}

	observability.UnlocksGranted.Inc()
	observability.CreditsDebited.Add(float64(cost))
	s.Logger.Info("unlock granted",
		"request_id", requestID,
		"provider", spCode,
		"cost", cost,
		"balance", newBalance,
		"responses", responses,
	)

	if s.Notifier != nil {
		if nerr := s.Notifier.NotifyResponded(requestID); nerr != nil {
			s.Logger.Debug("responded signal not delivered", "request_id", requestID, "error", nerr)
		}
	}

	return &models.UnlockResult{
		Granted:   true,
		Cost:      cost,
		Balance:   newBalance,
		Responses: responses,
		Contact: &models.ContactDetails{
			ClientName:    req.ClientName,
			ClientPhone:   req.ClientPhone,
			PickupAddress: req.PickupAddress,
			DestAddress:   req.DestAddress,
			Pickup:        req.Pickup,
			Destination:   req.Destination,
		},
	}, nil
}

// Balance returns the provider's current credit balance.
func (s *Service) Balance(ctx context.Context, spCode string) (int, error) {
	return s.Store.CreditBalance(ctx, spCode)
}

// TopUp credits the provider's balance. Called from the trusted payment
// callback after checkout completes; the core never handles card data.
func (s *Service) TopUp(ctx context.Context, spCode string, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	balance, err := s.Store.AddCredits(ctx, spCode, amount)
	if err != nil {
		return 0, err
	}
	s.Logger.Info("credits topped up", "provider", spCode, "amount", amount, "balance", balance)
	return balance, nil
}
