package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/carpool/internal/models"
)

// FCMDispatcher posts events as JSON to an FCM HTTPv1 endpoint using a server
// key or oauth token, reaching participants without a live socket.
type FCMDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMDispatcher(endpoint, key string) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMDispatcher) Notify(userID string, ev models.Event) error {
	body := map[string]interface{}{"message": map[string]interface{}{"token": userID, "data": ev}}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", f.Endpoint, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	_, err := f.Client.Do(req)
	return err
}
