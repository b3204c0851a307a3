package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Request statuses. Expired is terminal unless the owning client retries.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

type ClientRequest struct {
	ID            string    `json:"id"`
	ClientName    string    `json:"client_name"`
	ClientPhone   string    `json:"client_phone"`
	ServiceType   string    `json:"service_type"`
	PickupAddress string    `json:"pickup_address"`
	DestAddress   string    `json:"destination_address,omitempty"`
	Pickup        *Coord    `json:"pickup,omitempty"`
	Destination   *Coord    `json:"destination,omitempty"`
	Suburb        string    `json:"suburb"`
	City          string    `json:"city"`
	Status        string    `json:"status"`
	ResponseCount int       `json:"response_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ServiceProvider struct {
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	Email        string    `json:"email"`
	ServiceTypes []string  `json:"service_types"`
	Loc          *Coord    `json:"loc,omitempty"`
	Balance      int       `json:"balance"`
	PushToken    string    `json:"push_token,omitempty"`
	Updated      time.Time `json:"updated"`
}

// Offers reports whether the provider is registered for the service type.
func (p *ServiceProvider) Offers(serviceType string) bool {
	for _, s := range p.ServiceTypes {
		if s == serviceType {
			return true
		}
	}
	return false
}

// RequestAlert is the summary pushed to an eligible provider when a request
// is created or retried. It deliberately omits the client's name, phone and
// exact addresses; those stay behind the unlock protocol.
type RequestAlert struct {
	RequestID   string  `json:"request_id"`
	ServiceType string  `json:"service_type"`
	Suburb      string  `json:"suburb"`
	City        string  `json:"city"`
	AwayKm      float64 `json:"away_km"`
}

// ContactDetails is the full record revealed by a successful unlock.
type ContactDetails struct {
	ClientName    string `json:"client_name"`
	ClientPhone   string `json:"client_phone"`
	PickupAddress string `json:"pickup_address"`
	DestAddress   string `json:"destination_address,omitempty"`
	Pickup        *Coord `json:"pickup,omitempty"`
	Destination   *Coord `json:"destination,omitempty"`
}

type UnlockResult struct {
	Granted   bool            `json:"granted"`
	Cost      int             `json:"cost,omitempty"`
	Balance   int             `json:"balance,omitempty"`
	Responses int             `json:"responses,omitempty"`
	Contact   *ContactDetails `json:"contact,omitempty"`
}

// ProviderLocation is the kafka payload for SP location updates.
type ProviderLocation struct {
	Code    string    `json:"code"`
	Loc     Coord     `json:"loc"`
	Updated time.Time `json:"updated"`
}
