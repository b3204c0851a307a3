package dispatch

import (
	"log/slog"

	"github.com/example/request-marketplace/internal/geo"
	"github.com/example/request-marketplace/internal/models"
	"github.com/example/request-marketplace/internal/observability"
)

// Dispatcher delivers one alert to one provider over some transport.
type Dispatcher interface {
	Alert(sp models.ServiceProvider, alert models.RequestAlert) error
}

// Fanout computes the set of eligible providers for a request and pushes a
// summary alert to each. Delivery is best-effort: a failed push never fails
// request creation, the request stays visible to map polling either way.
type Fanout struct {
	Locator     geo.Locator
	Dispatchers []Dispatcher
	RadiusKm    float64
	Logger      *slog.Logger
}

func NewFanout(locator geo.Locator, radiusKm float64, logger *slog.Logger, dispatchers ...Dispatcher) *Fanout {
	return &Fanout{Locator: locator, Dispatchers: dispatchers, RadiusKm: radiusKm, Logger: logger}
}

// Notify fires alerts for a newly created or retried request. Tour requests
// carry no pickup and are skipped; they surface via the tours listing only.
func (f *Fanout) Notify(req *models.ClientRequest) {
	if req.Pickup == nil {
		return
	}
	candidates := f.Locator.Candidates(req.Pickup.Lat, req.Pickup.Lon, f.RadiusKm)
	notified := 0
	for i := range candidates {
		sp := candidates[i]
		if !geo.IsEligible(&sp, req, f.RadiusKm) {
			continue
		}
		alert := models.RequestAlert{
			RequestID:   req.ID,
			ServiceType: req.ServiceType,
			Suburb:      req.Suburb,
			City:        req.City,
			AwayKm:      geo.AwayKm(*sp.Loc, *req.Pickup),
		}
		if f.deliver(sp, alert) {
			notified++
		}
	}
	f.Logger.Info("request fan-out",
		"request_id", req.ID,
		"service_type", req.ServiceType,
		"candidates", len(candidates),
		"notified", notified,
	)
}

// deliver tries each transport in order until one succeeds. WS first when
// registered before push, so providers with the app open skip the push lag.
func (f *Fanout) deliver(sp models.ServiceProvider, alert models.RequestAlert) bool {
	for _, d := range f.Dispatchers {
		if err := d.Alert(sp, alert); err == nil {
			observability.AlertsSent.Inc()
			return true
		}
	}
	observability.AlertsFailed.Inc()
	f.Logger.Warn("alert delivery failed", "provider", sp.Code, "request_id", alert.RequestID)
	return false
}
