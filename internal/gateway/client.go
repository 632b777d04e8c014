package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// doRequest executes a single HTTP call with an optional JSON body and
// returns the status code and raw response body. Response bodies are read
// fully so the caller can both log and parse them.
func doRequest(ctx context.Context, client *http.Client, method, url string, payload any, headers map[string]string) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

// authHeaders returns the API key / client id header pair for payment API calls
func (s *Service) authHeaders() map[string]string {
	return map[string]string{
		"netvalve-client-id": s.cfg.ClientID,
		"netvalve-api-key":   s.cfg.APIKey,
	}
}

func bearerHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
