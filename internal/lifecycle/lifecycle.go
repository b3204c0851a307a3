package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/request-marketplace/internal/geo"
	"github.com/example/request-marketplace/internal/geocode"
	"github.com/example/request-marketplace/internal/models"
	"github.com/example/request-marketplace/internal/observability"
	"github.com/example/request-marketplace/internal/pricing"
	"github.com/example/request-marketplace/internal/storage"
)

var (
	// ErrExpired marks a request past its TTL or response cap. Terminal for
	// the current attempt; only the owning client's retry can clear it.
	ErrExpired = errors.New("lifecycle: request expired")
	// ErrValidation marks input that fails the per-category field rules.
	ErrValidation = errors.New("lifecycle: validation")
	// ErrNotRetryable marks a retry against a request that is still active
	// or has already used up its cumulative response allowance.
	ErrNotRetryable = errors.New("lifecycle: not retryable")
)

// Notifier triggers the new-request fan-out. Delivery is best-effort.
type Notifier interface {
	Notify(req *models.ClientRequest)
}

// Service owns the request state machine: Active -> Expired, with expiry
// evaluated lazily on every access instead of a background sweep.
type Service struct {
	Store        storage.Store
	Geocoder     geocode.Client
	Notifier     Notifier
	TTL          time.Duration
	MaxResponses int
	Logger       *slog.Logger

	// Clock is swappable for tests; defaults to time.Now.
	Clock func() time.Time
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

type CreateInput struct {
	ClientName    string
	ClientPhone   string
	ServiceType   string
	PickupAddress string
	DestAddress   string
	Pickup        *models.Coord
	Destination   *models.Coord
}

// Create validates the input per service category, resolves coordinates where
// the category requires them, persists the request as Active and triggers the
// notification fan-out. A geocoding failure on a required coordinate aborts
// creation; unresolvable suburb/city text is cosmetic and defaults to Unknown.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.ClientRequest, error) {
	if in.ClientName == "" || in.ClientPhone == "" {
		return nil, fmt.Errorf("%w: client name and phone are required", ErrValidation)
	}
	if !pricing.Known(in.ServiceType) {
		return nil, fmt.Errorf("%w: unknown service type %q", ErrValidation, in.ServiceType)
	}

	pickup, err := s.resolveCoord(in.Pickup, in.PickupAddress, pricing.RequiresPickup(in.ServiceType), "pickup")
	if err != nil {
		return nil, err
	}
	dest, err := s.resolveCoord(in.Destination, in.DestAddress, pricing.RequiresDestination(in.ServiceType), "destination")
	if err != nil {
		return nil, err
	}

	suburb, city := geocode.ParseAddress(in.PickupAddress)
	now := s.now()
	req := &models.ClientRequest{
		ID:            uuid.NewString(),
		ClientName:    in.ClientName,
		ClientPhone:   in.ClientPhone,
		ServiceType:   in.ServiceType,
		PickupAddress: in.PickupAddress,
		DestAddress:   in.DestAddress,
		Pickup:        pickup,
		Destination:   dest,
		Suburb:        suburb,
		City:          city,
		Status:        models.StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.SaveRequest(ctx, req); err != nil {
		return nil, err
	}
	observability.RequestsCreated.Inc()
	s.Logger.Info("request created", "request_id", req.ID, "service_type", req.ServiceType, "suburb", req.Suburb)
	if s.Notifier != nil {
		go s.Notifier.Notify(req)
	}
	return req, nil
}

func (s *Service) resolveCoord(given *models.Coord, address string, required bool, field string) (*models.Coord, error) {
	if given != nil {
		return given, nil
	}
	if !required {
		return nil, nil
	}
	if address == "" {
		return nil, fmt.Errorf("%w: %s address is required for this service type", ErrValidation, field)
	}
	if s.Geocoder == nil {
		return nil, fmt.Errorf("%w: no geocoder configured for %s", geocode.ErrUnresolved, field)
	}
	c, err := s.Geocoder.Resolve(address)
	if err != nil {
		if errors.Is(err, geocode.ErrUnresolved) {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		// collaborator I/O failure surfaces as unresolved too: the caller
		// retries the lookup, the request must not be created blind
		return nil, fmt.Errorf("%s: %w: %v", field, geocode.ErrUnresolved, err)
	}
	return &c, nil
}

// expired is the pure expiry predicate: TTL elapsed or response cap reached.
func (s *Service) expired(req *models.ClientRequest, now time.Time) bool {
	return now.Sub(req.CreatedAt) > s.TTL || req.ResponseCount >= s.MaxResponses
}

// EnsureActive evaluates lazy expiry for a loaded request. When a transition
// is due it is materialized with a conditional write, so concurrent readers
// race harmlessly. Returns ErrExpired if the request is not usable.
func (s *Service) EnsureActive(ctx context.Context, req *models.ClientRequest) error {
	if req.Status == models.StatusExpired {
		return ErrExpired
	}
	if !s.expired(req, s.now()) {
		return nil
	}
	if err := s.Store.MarkExpired(ctx, req.ID); err == nil {
		observability.RequestsExpired.Inc()
		s.Logger.Info("request expired lazily", "request_id", req.ID, "responses", req.ResponseCount)
	} else if !errors.Is(err, storage.ErrConditionFailed) {
		// another reader already materialized it; anything else is a real
		// storage failure, but the request is expired either way
		s.Logger.Error("expiry materialization failed", "request_id", req.ID, "error", err)
	}
	req.Status = models.StatusExpired
	return ErrExpired
}

// Status returns the request with lazy expiry applied. Serves the client
// countdown probe; the countdown itself is a UI affordance, expiry is decided
// here regardless of what the client's timer did.
func (s *Service) Status(ctx context.Context, id string) (*models.ClientRequest, error) {
	req, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureActive(ctx, req); err != nil && !errors.Is(err, ErrExpired) {
		return nil, err
	}
	return req, nil
}

// Expire handles the owning client's explicit expire action. Idempotent.
func (s *Service) Expire(ctx context.Context, id string) error {
	err := s.Store.MarkExpired(ctx, id)
	if errors.Is(err, storage.ErrConditionFailed) {
		return nil
	}
	if err == nil {
		observability.RequestsExpired.Inc()
	}
	return err
}

// Retry reactivates an expired request: fresh TTL window, same geo/service
// attributes, response count untouched (the cap is cumulative across
// attempts). Triggers a new fan-out.
func (s *Service) Retry(ctx context.Context, id string) (*models.ClientRequest, error) {
	req, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if req.Status == models.StatusActive {
		if !s.expired(req, now) {
			return nil, fmt.Errorf("%w: request is still active", ErrNotRetryable)
		}
		// timed out but not yet materialized; persist before reactivating
		if err := s.Store.MarkExpired(ctx, req.ID); err != nil && !errors.Is(err, storage.ErrConditionFailed) {
			return nil, err
		}
	}
	if req.ResponseCount >= s.MaxResponses {
		return nil, fmt.Errorf("%w: response cap reached", ErrNotRetryable)
	}
	if err := s.Store.Reactivate(ctx, id, now); err != nil {
		return nil, err
	}
	req, err = s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	observability.RequestsRetried.Inc()
	s.Logger.Info("request retried", "request_id", req.ID, "responses", req.ResponseCount)
	if s.Notifier != nil {
		go s.Notifier.Notify(req)
	}
	return req, nil
}

// ListEligible returns active requests the provider may see on the map:
// service-type match and pickup within radiusKm. Tour requests never appear
// here. Contact details are stripped; they stay behind the unlock protocol.
func (s *Service) ListEligible(ctx context.Context, sp *models.ServiceProvider, radiusKm float64) ([]models.ClientRequest, error) {
	all, err := s.Store.ListActiveRequests(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.ClientRequest, 0, len(all))
	for i := range all {
		req := all[i]
		if err := s.EnsureActive(ctx, &req); err != nil {
			continue
		}
		if pricing.CategoryOf(req.ServiceType) == pricing.CategoryTour {
			continue
		}
		if !geo.IsEligible(sp, &req, radiusKm) {
			continue
		}
		out = append(out, sanitize(req))
	}
	return out, nil
}

// ListTours returns active tour-category requests matching the provider's
// service types. Tours have no pickup, so no distance filter applies.
func (s *Service) ListTours(ctx context.Context, sp *models.ServiceProvider) ([]models.ClientRequest, error) {
	all, err := s.Store.ListActiveRequests(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.ClientRequest, 0)
	for i := range all {
		req := all[i]
		if pricing.CategoryOf(req.ServiceType) != pricing.CategoryTour {
			continue
		}
		if err := s.EnsureActive(ctx, &req); err != nil {
			continue
		}
		if !sp.Offers(req.ServiceType) {
			continue
		}
		out = append(out, sanitize(req))
	}
	return out, nil
}

// sanitize strips everything gated behind the unlock protocol. Pickup
// coordinates survive so the map can pin the request.
func sanitize(req models.ClientRequest) models.ClientRequest {
	req.ClientName = ""
	req.ClientPhone = ""
	req.PickupAddress = ""
	req.DestAddress = ""
	req.Destination = nil
	return req
}
