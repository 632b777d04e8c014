package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-bridge/config"
)

func newTestService(cfg config.GatewayConfig) *Service {
	return NewService(cfg)
}

func TestCreateSessionDirectRedirectWins(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	svc := newTestService(config.GatewayConfig{
		Environment:   "sandbox",
		PaymentAPIURL: srv.URL,
		HPPDirectURL:  "https://pay.example.com/order/123",
		HPFScriptSrc:  "https://cdn.example.com/sdk.js",
	})

	res, err := svc.CreateSession(context.Background(), SessionRequest{})
	require.NoError(t, err)
	assert.Equal(t, FlowHPP, res.Flow)
	require.NotNil(t, res.HPP)
	assert.Equal(t, "https://pay.example.com/order/123", res.HPP.RedirectURL)
	assert.True(t, res.SessionPatch.RequiresRedirect)
	assert.False(t, called, "direct redirect must not call the gateway")
}

func TestCreateSessionStaticScriptOverride(t *testing.T) {
	svc := newTestService(config.GatewayConfig{
		Environment:        "sandbox",
		HPFScriptSrc:       "https://cdn.example.com/sdk.js",
		HPFScriptIntegrity: "sha384-abc",
	})

	res, err := svc.CreateSession(context.Background(), SessionRequest{CurrencyCode: "eur"})
	require.NoError(t, err)
	assert.Equal(t, FlowHPF, res.Flow)
	require.NotNil(t, res.HPF)
	assert.Equal(t, "https://cdn.example.com/sdk.js", res.HPF.ScriptSrc)
	assert.Equal(t, "sha384-abc", res.HPF.Integrity)
	assert.Equal(t, "config", res.HPF.Source)
	assert.Equal(t, "EUR", res.CurrencyCode)
	assert.True(t, res.SessionPatch.HPFInitialized)
}

func TestCreateSessionPrimaryAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/hpf/initializeSession", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{
			"netvalveScriptSrc": "https://tokenfield.example.com/sdk.js?jwtToken=jwt-123",
			"paymentToken":      "tok-456",
			"traceId":           "trace-1",
		})
	}))
	defer srv.Close()

	svc := newTestService(config.GatewayConfig{
		Environment:   "sandbox",
		PaymentAPIURL: srv.URL,
	})

	res, err := svc.CreateSession(context.Background(), SessionRequest{})
	require.NoError(t, err)
	require.NotNil(t, res.HPF)
	assert.Equal(t, "initialize_session", res.HPF.Source)
	assert.Equal(t, "jwt-123", res.HPF.JWTToken)
	assert.Equal(t, "tok-456", res.HPF.PaymentToken)
	assert.Equal(t, "tok-456", res.SessionPatch.HPFPaymentToken)
}

func TestCreateSessionBackofficeScriptCatalog(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer api.Close()

	backoffice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/backoffice/users/sign-in":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "net", body["checkForBot"])
			json.NewEncoder(w).Encode(map[string]any{"accessToken": "bo-token", "expiresIn": 3600})
		case "/backoffice/hpf/script":
			assert.Equal(t, "Bearer bo-token", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode([]map[string]any{
				{"id": 1, "netvalveScriptSrc": "https://old.example.com/sdk.js", "status": "ACTIVE", "createdDate": "2024-01-01"},
				{"id": 2, "netvalveScriptSrc": "https://new.example.com/sdk.js", "status": "ACTIVE", "createdDate": "2025-06-01"},
				{"id": 3, "netvalveScriptSrc": "https://deleted.example.com/sdk.js", "status": "ACTIVE", "deleted": true, "createdDate": "2025-07-01"},
				{"id": 4, "netvalveScriptSrc": "http://insecure.example.com/sdk.js", "status": "ACTIVE", "createdDate": "2025-08-01"},
				{"id": 5, "netvalveScriptSrc": "https://inactive.example.com/sdk.js", "status": "DISABLED", "createdDate": "2025-08-01"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer backoffice.Close()

	svc := newTestService(config.GatewayConfig{
		Environment:        "sandbox",
		PaymentAPIURL:      api.URL,
		BackofficeAPIURL:   backoffice.URL,
		BackofficeUsername: "ops",
		BackofficePassword: "secret",
	})

	res, err := svc.CreateSession(context.Background(), SessionRequest{})
	require.NoError(t, err)
	require.NotNil(t, res.HPF)
	assert.Equal(t, "backoffice", res.HPF.Source)
	assert.Equal(t, "https://new.example.com/sdk.js", res.HPF.ScriptSrc)
	assert.Equal(t, int64(2), res.HPF.ScriptID)
}

func TestFetchHPFScriptPrefersDefault(t *testing.T) {
	backoffice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "netvalveScriptSrc": "https://newest.example.com/sdk.js", "status": "ACTIVE", "createdDate": "2025-08-01"},
			{"id": 2, "netvalveScriptSrc": "https://default.example.com/sdk.js", "status": "ACTIVE", "isDefault": true, "createdDate": "2024-01-01"},
		})
	}))
	defer backoffice.Close()

	svc := newTestService(config.GatewayConfig{BackofficeAPIURL: backoffice.URL})
	info, err := svc.fetchHPFScript(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, "https://default.example.com/sdk.js", info.ScriptSrc)
}

func TestCreateSessionHPPFallback(t *testing.T) {
	backoffice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/backoffice/users/sign-in":
			json.NewEncoder(w).Encode(map[string]any{"accessToken": "bo-token", "expiresIn": 3600})
		case "/backoffice/hpf/script":
			json.NewEncoder(w).Encode([]map[string]any{})
		}
	}))
	defer backoffice.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer api.Close()

	var orderPayload map[string]any
	hpp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hpp/order" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "Bearer bo-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&orderPayload))
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"redirectUrl":   "https://pay.example.com/hpp/abc",
				"orderId":       "ord-9",
				"transactionId": "tx-9",
			},
		})
	}))
	defer hpp.Close()

	svc := newTestService(config.GatewayConfig{
		Environment:        "production",
		PaymentAPIURL:      api.URL,
		BackofficeAPIURL:   backoffice.URL,
		BackofficeUsername: "ops",
		BackofficePassword: "secret",
		HPPBaseURL:         hpp.URL,
		SiteID:             "site-1",
		MIDUSD:             "mid-usd",
	})

	res, err := svc.CreateSession(context.Background(), SessionRequest{
		CurrencyCode: "USD",
		Amount:       49.99,
		CartID:       "cart-1",
	})
	require.NoError(t, err)
	assert.Equal(t, FlowHPP, res.Flow)
	require.NotNil(t, res.HPP)
	assert.Equal(t, "https://pay.example.com/hpp/abc", res.HPP.RedirectURL)
	assert.Equal(t, "ord-9", res.HPP.OrderID)
	assert.Equal(t, "tx-9", res.HPP.TransactionID)
	require.NotNil(t, res.Endpoint)
	assert.Equal(t, hpp.URL+"/hpp/order", res.Endpoint.URL)
	assert.True(t, res.SessionPatch.RequiresRedirect)

	assert.Equal(t, "SALE", orderPayload["mode"])
	assert.Equal(t, "USD", orderPayload["currency"])
	assert.Equal(t, "mid-usd", orderPayload["netvalveMidId"])
	assert.Equal(t, "site-1", orderPayload["siteId"])
	assert.Equal(t, "cart-1", orderPayload["clientOrderId"])
}

func TestCreateSessionSandboxFallbackScript(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	svc := newTestService(config.GatewayConfig{
		Environment:      "sandbox",
		PaymentAPIURL:    failing.URL,
		BackofficeAPIURL: failing.URL,
		HPPBaseURL:       failing.URL,
	})

	res, err := svc.CreateSession(context.Background(), SessionRequest{CurrencyCode: "USD", Amount: 10})
	require.NoError(t, err)
	require.NotNil(t, res.HPF)
	assert.Equal(t, "fallback", res.HPF.Source)
	assert.Equal(t, sandboxDefaultHPFScriptSrc, res.HPF.ScriptSrc)
	assert.True(t, res.SessionPatch.HPFFallbackScript)
	assert.NotEmpty(t, res.Diagnostic)
}

func TestCreateSessionTerminalFailure(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/backoffice/users/sign-in":
			json.NewEncoder(w).Encode(map[string]any{"accessToken": "bo-token", "expiresIn": 3600})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer failing.Close()

	svc := newTestService(config.GatewayConfig{
		Environment:        "production",
		PaymentAPIURL:      failing.URL,
		BackofficeAPIURL:   failing.URL,
		HPPBaseURL:         failing.URL,
		BackofficeUsername: "ops",
		BackofficePassword: "secret",
		SiteID:             "site-1",
		MIDUSD:             "mid-usd",
	})

	_, err := svc.CreateSession(context.Background(), SessionRequest{CurrencyCode: "USD", Amount: 10})
	require.Error(t, err)

	var sessionErr *SessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.True(t, sessionErr.Debug.BackofficeTokenObtained)
	assert.False(t, sessionErr.Debug.HPFScriptFound)
	assert.NotEmpty(t, sessionErr.Debug.HPPAttempts)
	assert.NotEmpty(t, sessionErr.Diagnostic)
	for _, attempt := range sessionErr.Debug.HPPAttempts {
		assert.Equal(t, http.MethodPost, attempt.Method)
		assert.Equal(t, http.StatusInternalServerError, attempt.Status)
	}
}

func TestBuildHPPCandidatesDedupes(t *testing.T) {
	svc := newTestService(config.GatewayConfig{
		HPPOrderHost: "https://hpp.example.com/",
		HPPBaseURL:   "https://hpp.example.com",
		HPPOrderPath: "hpp/order",
	})
	candidates := svc.buildHPPCandidates()
	assert.Equal(t, []string{
		"https://hpp.example.com/hpp/order",
		"https://hpp.example.com/order",
	}, candidates)
}

func TestNormalizeHPPRedirect(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{"root redirectUrl", map[string]any{"redirectUrl": "https://a"}, "https://a"},
		{"root snake", map[string]any{"redirect_url": "https://b"}, "https://b"},
		{"nested payload", map[string]any{"payload": map[string]any{"paymentUrl": "https://c"}}, "https://c"},
		{"nested order url", map[string]any{"order": map[string]any{"url": "https://d"}}, "https://d"},
		{"non-http ignored", map[string]any{"url": "not-a-url"}, ""},
		{"missing", map[string]any{"status": "ok"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := normalizeHPPRedirect(tc.body)
			if tc.want == "" {
				assert.Nil(t, info)
				return
			}
			require.NotNil(t, info)
			assert.Equal(t, tc.want, info.RedirectURL)
		})
	}
}
