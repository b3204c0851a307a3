package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/request-marketplace/internal/geocode"
	"github.com/example/request-marketplace/internal/models"
	"github.com/example/request-marketplace/internal/storage"
)

type fakeGeocoder struct {
	coord models.Coord
	err   error
}

func (f *fakeGeocoder) Resolve(address string) (models.Coord, error) {
	if f.err != nil {
		return models.Coord{}, f.err
	}
	return f.coord, nil
}

type captureNotifier struct {
	mu   sync.Mutex
	got  []string
	done chan struct{}
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{done: make(chan struct{}, 16)}
}

func (n *captureNotifier) Notify(req *models.ClientRequest) {
	n.mu.Lock()
	n.got = append(n.got, req.ID)
	n.mu.Unlock()
	n.done <- struct{}{}
}

func (n *captureNotifier) wait(t *testing.T) {
	t.Helper()
	select {
	case <-n.done:
	case <-time.After(2 * time.Second):
		t.Fatal("fan-out was not triggered")
	}
}

func newService(store storage.Store, clock func() time.Time) *Service {
	return &Service{
		Store:        store,
		Geocoder:     &fakeGeocoder{coord: models.Coord{Lat: -26.2041, Lon: 28.0473}},
		TTL:          5 * time.Minute,
		MaxResponses: 5,
		Logger:       slog.Default(),
		Clock:        clock,
	}
}

func rideInput() CreateInput {
	return CreateInput{
		ClientName:    "Thabo",
		ClientPhone:   "+27831234567",
		ServiceType:   "car",
		PickupAddress: "12 Oak Ave, Melville, Johannesburg",
		DestAddress:   "1 Main Rd, Sandton",
	}
}

func TestCreateValidation(t *testing.T) {
	s := newService(storage.NewMemoryStore(), nil)
	ctx := context.Background()

	in := rideInput()
	in.ClientPhone = ""
	if _, err := s.Create(ctx, in); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing phone: got %v", err)
	}

	in = rideInput()
	in.ServiceType = "jetpack"
	if _, err := s.Create(ctx, in); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown service type: got %v", err)
	}

	in = rideInput()
	in.PickupAddress = ""
	if _, err := s.Create(ctx, in); !errors.Is(err, ErrValidation) {
		t.Fatalf("ride without pickup: got %v", err)
	}

	in = rideInput()
	in.DestAddress = ""
	if _, err := s.Create(ctx, in); !errors.Is(err, ErrValidation) {
		t.Fatalf("ride without destination: got %v", err)
	}
}

func TestCreateGeocodeUnresolved(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newService(store, nil)
	s.Geocoder = &fakeGeocoder{err: geocode.ErrUnresolved}

	_, err := s.Create(context.Background(), rideInput())
	if !errors.Is(err, geocode.ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
	all, _ := store.ListActiveRequests(context.Background())
	if len(all) != 0 {
		t.Fatal("no partial request may be created on geocode failure")
	}
}

func TestCreateTourNeedsNoCoordinates(t *testing.T) {
	s := newService(storage.NewMemoryStore(), nil)
	s.Geocoder = &fakeGeocoder{err: geocode.ErrUnresolved} // must never be consulted

	req, err := s.Create(context.Background(), CreateInput{
		ClientName:  "Lerato",
		ClientPhone: "+27820000000",
		ServiceType: "bus-tour",
	})
	if err != nil {
		t.Fatalf("tour create: %v", err)
	}
	if req.Pickup != nil || req.Destination != nil {
		t.Fatal("tour requests carry no coordinates")
	}
	if req.Suburb != geocode.Unknown || req.City != geocode.Unknown {
		t.Fatalf("expected Unknown suburb/city, got %q/%q", req.Suburb, req.City)
	}
}

func TestCreateParsesAddressAndNotifies(t *testing.T) {
	n := newCaptureNotifier()
	s := newService(storage.NewMemoryStore(), nil)
	s.Notifier = n

	req, err := s.Create(context.Background(), rideInput())
	if err != nil {
		t.Fatal(err)
	}
	if req.Suburb != "Melville" || req.City != "Johannesburg" {
		t.Fatalf("suburb=%q city=%q", req.Suburb, req.City)
	}
	if req.Status != models.StatusActive || req.ResponseCount != 0 {
		t.Fatalf("fresh request: status=%s count=%d", req.Status, req.ResponseCount)
	}
	n.wait(t)
}

func TestLazyTTL(t *testing.T) {
	store := storage.NewMemoryStore()
	created := time.Now()
	now := created
	s := newService(store, func() time.Time { return now })

	req, err := s.Create(context.Background(), rideInput())
	if err != nil {
		t.Fatal(err)
	}

	now = created.Add(299 * time.Second)
	got, err := s.Status(context.Background(), req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusActive {
		t.Fatalf("at T+299s expected active, got %s", got.Status)
	}

	now = created.Add(301 * time.Second)
	got, err = s.Status(context.Background(), req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusExpired {
		t.Fatalf("at T+301s expected expired, got %s", got.Status)
	}
	// the transition must have been persisted, not just reported
	persisted, _ := store.GetRequest(context.Background(), req.ID)
	if persisted.Status != models.StatusExpired {
		t.Fatal("lazy expiry must be materialized in the store")
	}
}

func TestRetryResetsTTLNotCount(t *testing.T) {
	store := storage.NewMemoryStore()
	created := time.Now()
	now := created
	s := newService(store, func() time.Time { return now })
	n := newCaptureNotifier()
	s.Notifier = n

	req, err := s.Create(context.Background(), rideInput())
	if err != nil {
		t.Fatal(err)
	}
	n.wait(t)
	for i := 0; i < 3; i++ {
		if _, err := store.IncrementResponses(context.Background(), req.ID, 5); err != nil {
			t.Fatal(err)
		}
	}

	now = created.Add(10 * time.Minute)
	got, err := s.Retry(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.Status != models.StatusActive {
		t.Fatalf("status=%s", got.Status)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatal("retry must start a fresh TTL window")
	}
	if got.ResponseCount != 3 {
		t.Fatalf("response count must stay cumulative, got %d", got.ResponseCount)
	}
	n.wait(t) // retry re-triggers fan-out
}

func TestRetryGuards(t *testing.T) {
	store := storage.NewMemoryStore()
	created := time.Now()
	now := created
	s := newService(store, func() time.Time { return now })
	ctx := context.Background()

	req, err := s.Create(ctx, rideInput())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Retry(ctx, req.ID); !errors.Is(err, ErrNotRetryable) {
		t.Fatalf("retry of an active request: got %v", err)
	}

	// exhaust the response budget, then expire
	for i := 0; i < 5; i++ {
		if _, err := store.IncrementResponses(ctx, req.ID, 5); err != nil {
			t.Fatal(err)
		}
	}
	now = created.Add(10 * time.Minute)
	if _, err := s.Retry(ctx, req.ID); !errors.Is(err, ErrNotRetryable) {
		t.Fatalf("retry past the cap: got %v", err)
	}

	if _, err := s.Retry(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("retry of unknown request: got %v", err)
	}
}

func TestManualExpireIdempotent(t *testing.T) {
	s := newService(storage.NewMemoryStore(), nil)
	ctx := context.Background()
	req, err := s.Create(ctx, rideInput())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Expire(ctx, req.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Expire(ctx, req.ID); err != nil {
		t.Fatalf("second expire must be a no-op, got %v", err)
	}
	if err := s.Expire(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListEligibleAndTours(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newService(store, nil)
	ctx := context.Background()

	ride, err := s.Create(ctx, rideInput())
	if err != nil {
		t.Fatal(err)
	}
	tour, err := s.Create(ctx, CreateInput{ClientName: "Lerato", ClientPhone: "+27820000000", ServiceType: "bus-tour"})
	if err != nil {
		t.Fatal(err)
	}

	sp := &models.ServiceProvider{
		Code:         "SP1",
		ServiceTypes: []string{"car", "bus-tour"},
		Loc:          &models.Coord{Lat: -26.1, Lon: 28.0},
	}

	eligible, err := s.ListEligible(ctx, sp, 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(eligible) != 1 || eligible[0].ID != ride.ID {
		t.Fatalf("expected only the ride request, got %v", eligible)
	}
	if eligible[0].ClientName != "" || eligible[0].ClientPhone != "" || eligible[0].PickupAddress != "" {
		t.Fatal("listing must not leak contact details")
	}
	if eligible[0].Pickup == nil {
		t.Fatal("listing keeps pickup coordinates for map pins")
	}

	tours, err := s.ListTours(ctx, sp)
	if err != nil {
		t.Fatal(err)
	}
	if len(tours) != 1 || tours[0].ID != tour.ID {
		t.Fatalf("expected only the tour request, got %v", tours)
	}

	// a provider not registered for tours sees none
	carOnly := &models.ServiceProvider{Code: "SP2", ServiceTypes: []string{"car"}, Loc: sp.Loc}
	tours, err = s.ListTours(ctx, carOnly)
	if err != nil {
		t.Fatal(err)
	}
	if len(tours) != 0 {
		t.Fatal("tours listing still filters by service type")
	}
}
