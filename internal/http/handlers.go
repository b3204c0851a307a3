package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/request-marketplace/internal/config"
	"github.com/example/request-marketplace/internal/dispatch"
	"github.com/example/request-marketplace/internal/geo"
	"github.com/example/request-marketplace/internal/geocode"
	"github.com/example/request-marketplace/internal/ingest"
	"github.com/example/request-marketplace/internal/ledger"
	"github.com/example/request-marketplace/internal/lifecycle"
	"github.com/example/request-marketplace/internal/models"
	"github.com/example/request-marketplace/internal/payments"
	"github.com/example/request-marketplace/internal/pricing"
	"github.com/example/request-marketplace/internal/storage"
)

type Server struct {
	Store     storage.Store
	Lifecycle *lifecycle.Service
	Ledger    *ledger.Service
	Locator   geo.Locator
	Kafka     *ingest.KafkaProducer
	WSReg     *dispatch.WSRegistry
	Payments  *payments.StripeClient

	browseRadiusKm float64
	logger         *slog.Logger
	validate       *validator.Validate
	mux            *mux.Router
}

// NewServer wires the full service graph from config. Redis, Postgres, Kafka
// and FCM are all optional; each falls back to an in-process substitute so the
// binary runs locally with no env at all.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var locator geo.Locator
	if cfg.RedisAddr != "" {
		locator = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		locator = geo.NewIndex()
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Error("postgres unavailable, falling back to memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	wsreg := dispatch.NewWSRegistry(logger)
	dispatchers := []dispatch.Dispatcher{wsreg}
	if cfg.FCMEndpoint != "" {
		dispatchers = append(dispatchers, dispatch.NewFCMDispatcher(cfg.FCMEndpoint, cfg.FCMKey))
	}
	fanout := dispatch.NewFanout(locator, cfg.NotifyRadiusKm, logger, dispatchers...)

	var geocoder geocode.Client
	if cfg.GeocoderEndpoint != "" {
		geocoder = geocode.NewCachedClient(geocode.NewHTTPClient(cfg.GeocoderEndpoint), time.Hour)
	}

	lc := &lifecycle.Service{
		Store:        store,
		Geocoder:     geocoder,
		Notifier:     fanout,
		TTL:          cfg.RequestTTL,
		MaxResponses: cfg.MaxResponses,
		Logger:       logger,
	}
	lg := &ledger.Service{Store: store, Lifecycle: lc, Notifier: wsreg, Logger: logger}

	s := &Server{
		Store:          store,
		Lifecycle:      lc,
		Ledger:         lg,
		Locator:        locator,
		Kafka:          kp,
		WSReg:          wsreg,
		browseRadiusKm: cfg.BrowseRadiusKm,
		logger:         logger,
		validate:       validator.New(),
		mux:            mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/requests", s.handleCreateRequest).Methods("POST")
	api.HandleFunc("/requests", s.handleListEligible).Methods("GET")
	api.HandleFunc("/requests/{id}", s.handleRequestStatus).Methods("GET")
	api.HandleFunc("/requests/{id}/retry", s.handleRetry).Methods("POST")
	api.HandleFunc("/requests/{id}/expire", s.handleExpire).Methods("POST")
	api.HandleFunc("/requests/{id}/unlock", s.handleUnlock).Methods("POST")
	api.HandleFunc("/tours", s.handleListTours).Methods("GET")
	api.HandleFunc("/providers", s.handleRegisterProvider).Methods("POST")
	api.HandleFunc("/providers/{code}/location", s.handleProviderLocation).Methods("POST")
	api.HandleFunc("/providers/{code}/token", s.handleProviderToken).Methods("POST")
	api.HandleFunc("/providers/{code}/credits", s.handleCreditBalance).Methods("GET")
	api.HandleFunc("/providers/{code}/credits/topup", s.handleTopUp).Methods("POST")
	api.HandleFunc("/providers/{code}/credits/checkout", s.handleCheckout).Methods("POST")
	api.HandleFunc("/payments/confirm", s.handleConfirmPayment).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{key}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createRequestBody struct {
	ClientName    string        `json:"client_name"`
	ClientPhone   string        `json:"client_phone"`
	ServiceType   string        `json:"service_type"`
	PickupAddress string        `json:"pickup_address"`
	DestAddress   string        `json:"destination_address"`
	Pickup        *models.Coord `json:"pickup"`
	Destination   *models.Coord `json:"destination"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req, err := s.Lifecycle.Create(r.Context(), lifecycle.CreateInput{
		ClientName:    body.ClientName,
		ClientPhone:   body.ClientPhone,
		ServiceType:   body.ServiceType,
		PickupAddress: body.PickupAddress,
		DestAddress:   body.DestAddress,
		Pickup:        body.Pickup,
		Destination:   body.Destination,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	req, err := s.Lifecycle.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	req, err := s.Lifecycle.Retry(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	if err := s.Lifecycle.Expire(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type unlockBody struct {
	SPCode string `json:"sp_code"`
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var body unlockBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SPCode == "" {
		writeJSONError(w, http.StatusBadRequest, "sp_code is required")
		return
	}
	res, err := s.Ledger.Unlock(r.Context(), body.SPCode, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleListEligible serves the provider's request map. The provider's stored
// profile drives both filters; radius_km can narrow the browse radius but the
// contact fields are stripped server side no matter what is asked for.
func (s *Server) handleListEligible(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.providerFromQuery(w, r)
	if !ok {
		return
	}
	radius := s.browseRadiusKm
	if v := r.URL.Query().Get("radius_km"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			radius = f
		}
	}
	out, err := s.Lifecycle.ListEligible(r.Context(), sp, radius)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTours(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.providerFromQuery(w, r)
	if !ok {
		return
	}
	out, err := s.Lifecycle.ListTours(r.Context(), sp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) providerFromQuery(w http.ResponseWriter, r *http.Request) (*models.ServiceProvider, bool) {
	code := r.URL.Query().Get("sp_code")
	if code == "" {
		writeJSONError(w, http.StatusBadRequest, "sp_code is required")
		return nil, false
	}
	sp, err := s.Store.GetProvider(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return sp, true
}

type registerProviderBody struct {
	Code         string   `json:"code" validate:"required,alphanum"`
	Name         string   `json:"name" validate:"required"`
	Phone        string   `json:"phone" validate:"required,e164"`
	Email        string   `json:"email" validate:"omitempty,email"`
	ServiceTypes []string `json:"service_types" validate:"required,min=1"`
	PushToken    string   `json:"push_token"`
}

func (s *Server) handleRegisterProvider(w http.ResponseWriter, r *http.Request) {
	var body registerProviderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, st := range body.ServiceTypes {
		if !pricing.Known(st) {
			writeJSONError(w, http.StatusBadRequest, "unknown service type: "+st)
			return
		}
	}
	sp := &models.ServiceProvider{
		Code:         body.Code,
		Name:         body.Name,
		Phone:        body.Phone,
		Email:        body.Email,
		ServiceTypes: body.ServiceTypes,
		PushToken:    body.PushToken,
		Updated:      time.Now(),
	}
	if err := s.Store.SaveProvider(r.Context(), sp); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sp)
}

func (s *Server) handleProviderLocation(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	var loc models.Coord
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	now := time.Now()
	if err := s.Store.UpdateProviderLocation(r.Context(), code, loc, now); err != nil {
		s.writeError(w, err)
		return
	}
	// the local geo index is updated inline; the kafka pipeline keeps the
	// shared redis index in sync for the other instances
	if sp, err := s.Store.GetProvider(r.Context(), code); err == nil {
		s.Locator.Upsert(*sp)
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(models.ProviderLocation{Code: code, Loc: loc, Updated: now}); err != nil {
			s.logger.Warn("location publish failed", "provider", code, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type tokenBody struct {
	PushToken string `json:"push_token"`
}

func (s *Server) handleProviderToken(w http.ResponseWriter, r *http.Request) {
	var body tokenBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PushToken == "" {
		writeJSONError(w, http.StatusBadRequest, "push_token is required")
		return
	}
	if err := s.Store.UpdateProviderToken(r.Context(), mux.Vars(r)["code"], body.PushToken); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreditBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.Ledger.Balance(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

type topUpBody struct {
	Amount int `json:"amount"`
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var body topUpBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	balance, err := s.Ledger.TopUp(r.Context(), mux.Vars(r)["code"], body.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

type checkoutBody struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if s.Payments == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "payments not configured")
		return
	}
	var body checkoutBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AmountCents <= 0 {
		writeJSONError(w, http.StatusBadRequest, "amount_cents must be > 0")
		return
	}
	if body.Currency == "" {
		body.Currency = "zar"
	}
	id, err := s.Payments.CreateTopUp(r.Context(), body.AmountCents, body.Currency, mux.Vars(r)["code"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payment_intent_id": id})
}

type confirmPaymentBody struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	if s.Payments == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "payments not configured")
		return
	}
	var body confirmPaymentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PaymentIntentID == "" {
		writeJSONError(w, http.StatusBadRequest, "payment_intent_id is required")
		return
	}
	spCode, amountCents, ok, err := s.Payments.ConfirmTopUp(r.Context(), body.PaymentIntentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusConflict, "payment not settled")
		return
	}
	// credits are priced at one rand each
	balance, err := s.Ledger.TopUp(r.Context(), spCode, int(amountCents/100))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

var upgrader = websocket.Upgrader{}

// handleWS registers a live session. Providers connect under their code to
// receive request alerts; clients connect under their request ID to receive
// the responded signal.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an error
		s.logger.Warn("ws upgrade failed", "key", key, "error", err)
		return
	}
	s.WSReg.Add(key, conn)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.WSReg.Remove(key)
				conn.Close()
				return
			}
		}
	}()
}

// writeError maps domain errors onto HTTP statuses. Unrecognized errors are
// logged and reported as 500 without leaking internals.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ice *ledger.InsufficientCreditsError
	switch {
	case errors.As(err, &ice):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":     "insufficient credits",
			"required":  ice.Required,
			"available": ice.Available,
		})
	case errors.Is(err, lifecycle.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, geocode.ErrUnresolved):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, lifecycle.ErrExpired):
		writeJSONError(w, http.StatusGone, "request expired")
	case errors.Is(err, lifecycle.ErrNotRetryable):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
