package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SendWebhook posts a JSON payload to the configured webhook URL, signing
// the body with HMAC-SHA256 when a secret is set.
func (d *Dispatcher) SendWebhook(ctx context.Context, event string, payload any) error {
	if d.webhook.URL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	envelope := map[string]any{
		"event":     event,
		"service":   d.serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"payload":   payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, channelTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Keepwatch/1.0")

	if d.webhook.Secret != "" {
		mac := hmac.New(sha256.New, []byte(d.webhook.Secret))
		mac.Write(body)
		req.Header.Set("X-Keepwatch-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	client := &http.Client{Timeout: channelTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
