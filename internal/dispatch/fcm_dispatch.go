package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/request-marketplace/internal/models"
)

// FCMDispatcher posts alert payloads to an FCM HTTPv1 endpoint targeting the
// provider's registered device token.
type FCMDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMDispatcher(endpoint, key string) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMDispatcher) Alert(sp models.ServiceProvider, alert models.RequestAlert) error {
	if sp.PushToken == "" {
		return fmt.Errorf("provider %s has no push token", sp.Code)
	}
	body := map[string]interface{}{
		"message": map[string]interface{}{
			"token": sp.PushToken,
			"data": map[string]string{
				"request_id":   alert.RequestID,
				"service_type": alert.ServiceType,
				"suburb":       alert.Suburb,
				"away_km":      fmt.Sprintf("%.1f", alert.AwayKm),
			},
		},
	}
	b, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fcm push status %d", resp.StatusCode)
	}
	return nil
}
