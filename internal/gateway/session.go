package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"payment-bridge/internal/util"
)

// SessionRequest carries the checkout context used to establish a hosted
// payment session. All fields are optional; the HPP fallback needs amount
// and currency to build an order.
type SessionRequest struct {
	Version      string  `json:"version,omitempty"`
	CurrencyCode string  `json:"currency_code,omitempty"`
	Amount       float64 `json:"amount,omitempty"`
	CartID       string  `json:"cart_id,omitempty"`
	OrderDesc    string  `json:"order_desc,omitempty"`
	SuccessURL   string  `json:"success_url,omitempty"`
	CancelURL    string  `json:"cancel_url,omitempty"`
	FailedURL    string  `json:"failed_url,omitempty"`
	PendingURL   string  `json:"pending_url,omitempty"`
}

// HPFInfo describes a hosted payment fields script the storefront should load.
type HPFInfo struct {
	ScriptSrc    string `json:"script_src"`
	Integrity    string `json:"integrity,omitempty"`
	Version      string `json:"version,omitempty"`
	ScriptID     int64  `json:"script_id,omitempty"`
	PaymentToken string `json:"payment_token,omitempty"`
	JWTToken     string `json:"jwt_token,omitempty"`
	TraceID      string `json:"trace_id,omitempty"`
	Source       string `json:"source"`
}

// HPPInfo describes a hosted payment page redirect.
type HPPInfo struct {
	RedirectURL   string `json:"redirect_url"`
	OrderID       string `json:"order_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// HPPEndpoint records which endpoint produced a hosted page redirect.
type HPPEndpoint struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// SessionPatch is merged into the provider's payment session data by the
// caller so later authorization calls can see what the session produced.
type SessionPatch struct {
	HPFInitialized    bool   `json:"hpf_initialized,omitempty"`
	HPFPaymentToken   string `json:"hpf_payment_token,omitempty"`
	HPFFallbackScript bool   `json:"hpf_fallback_script,omitempty"`
	RequiresRedirect  bool   `json:"requires_redirect,omitempty"`
	RedirectURL       string `json:"redirect_url,omitempty"`
	HPPOrderID        string `json:"hpp_order_id,omitempty"`
	HPPTransactionID  string `json:"hpp_transaction_id,omitempty"`
}

// SessionResult is the successful outcome of the session waterfall. Exactly
// one of HPF or HPP is set, matching Flow.
type SessionResult struct {
	Provider     string       `json:"provider"`
	Environment  string       `json:"environment"`
	CurrencyCode string       `json:"currency_code,omitempty"`
	SiteID       string       `json:"site_id,omitempty"`
	ClientID     string       `json:"client_id,omitempty"`
	MIDID        string       `json:"mid_id,omitempty"`
	Flow         string       `json:"flow"`
	HPF          *HPFInfo     `json:"hpf,omitempty"`
	HPP          *HPPInfo     `json:"hpp,omitempty"`
	Endpoint     *HPPEndpoint `json:"netvalve_endpoint,omitempty"`
	SessionPatch SessionPatch `json:"payment_session_patch"`
	Diagnostic   string       `json:"diagnostic,omitempty"`
}

// HPPAttempt records one hosted page candidate call for diagnostics.
type HPPAttempt struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// SessionDebug is attached to terminal session failures so operators can see
// how far the waterfall got.
type SessionDebug struct {
	BackofficeTokenObtained bool       `json:"backoffice_token_obtained"`
	HPFScriptFound          bool       `json:"hpf_script_found"`
	HPPFallbackSuccess      bool       `json:"hpp_fallback_success"`
	HPPFallbackReason       string     `json:"hpp_fallback_reason,omitempty"`
	HPPAttempts             []HPPAttempt `json:"hpp_attempts,omitempty"`
}

// SessionError is the terminal failure of the session waterfall.
type SessionError struct {
	Message    string       `json:"message"`
	Diagnostic string       `json:"diagnostic"`
	Debug      SessionDebug `json:"debug"`
}

func (e *SessionError) Error() string { return e.Message }

type hppFallbackResult struct {
	ok       bool
	reason   string
	info     *HPPInfo
	endpoint *HPPEndpoint
	attempts []HPPAttempt
}

// CreateSession runs the session acquisition waterfall: direct hosted page
// URL override, static script override, the primary initializeSession API,
// the backoffice script catalog, the hosted page order fallback, and finally
// the configured fallback script. A *SessionError is returned only when every
// step fails.
func (s *Service) CreateSession(ctx context.Context, req SessionRequest) (*SessionResult, error) {
	ctx, span := util.StartSpan(ctx, "gateway.CreateSession")
	defer span.End()

	base := SessionResult{
		Provider:     "netvalve",
		Environment:  s.environment(),
		CurrencyCode: strings.ToUpper(req.CurrencyCode),
		SiteID:       s.cfg.SiteID,
		ClientID:     s.cfg.ClientID,
		MIDID:        s.midForCurrency(req.CurrencyCode),
	}

	// Step 0: operator-pinned hosted page URL short-circuits everything.
	if direct := strings.TrimSpace(s.cfg.HPPDirectURL); direct != "" {
		util.SessionWaterfallTotal.WithLabelValues("direct_redirect").Inc()
		s.logger.Info("session: using configured hosted page redirect", zap.String("url", direct))
		res := base
		res.Flow = FlowHPP
		res.HPP = &HPPInfo{RedirectURL: direct}
		res.SessionPatch = SessionPatch{RequiresRedirect: true, RedirectURL: direct}
		return &res, nil
	}

	// Step 1: operator-pinned script source.
	if src := strings.TrimSpace(s.cfg.HPFScriptSrc); src != "" {
		util.SessionWaterfallTotal.WithLabelValues("static_script").Inc()
		s.logger.Info("session: using configured script source", zap.String("src", src))
		res := base
		res.Flow = FlowHPF
		res.HPF = &HPFInfo{
			ScriptSrc: src,
			Integrity: s.cfg.HPFScriptIntegrity,
			Source:    "config",
		}
		res.SessionPatch = SessionPatch{HPFInitialized: true}
		return &res, nil
	}

	// Step 2: primary initializeSession API.
	if hpf, err := s.initializeHPFSession(ctx); err == nil {
		util.SessionWaterfallTotal.WithLabelValues("primary_api").Inc()
		res := base
		res.Flow = FlowHPF
		res.HPF = hpf
		res.SessionPatch = SessionPatch{HPFInitialized: true, HPFPaymentToken: hpf.PaymentToken}
		return &res, nil
	} else {
		s.logger.Warn("session: initializeSession failed", zap.Error(err))
	}

	// Step 3: backoffice script catalog.
	token := s.getBackofficeToken(ctx)
	var scriptFound bool
	if token != "" {
		if hpf, err := s.fetchHPFScript(ctx, token); err == nil {
			util.SessionWaterfallTotal.WithLabelValues("backoffice").Inc()
			scriptFound = true
			res := base
			res.Flow = FlowHPF
			res.HPF = hpf
			res.SessionPatch = SessionPatch{HPFInitialized: true}
			return &res, nil
		} else {
			s.logger.Warn("session: backoffice script lookup failed", zap.Error(err))
		}
	}

	// Step 4: hosted page order fallback.
	hpp := s.tryHPPFallback(ctx, token, req)
	if hpp.ok {
		util.SessionWaterfallTotal.WithLabelValues("hpp_fallback").Inc()
		res := base
		res.Flow = FlowHPP
		res.HPP = hpp.info
		res.Endpoint = hpp.endpoint
		res.SessionPatch = SessionPatch{
			RequiresRedirect: true,
			RedirectURL:      hpp.info.RedirectURL,
			HPPOrderID:       hpp.info.OrderID,
			HPPTransactionID: hpp.info.TransactionID,
		}
		return &res, nil
	}

	diagnostic := buildSessionDiagnostic(token != "", scriptFound, hpp)

	// Step 5: last-resort fallback script, still a working checkout for the
	// common sandbox case.
	if fallback := s.fallbackScriptSrc(); fallback != "" {
		util.SessionWaterfallTotal.WithLabelValues("fallback_script").Inc()
		s.logger.Warn("session: falling back to static script", zap.String("src", fallback), zap.String("diagnostic", diagnostic))
		res := base
		res.Flow = FlowHPF
		res.HPF = &HPFInfo{ScriptSrc: fallback, Source: "fallback"}
		res.SessionPatch = SessionPatch{HPFInitialized: true, HPFFallbackScript: true}
		res.Diagnostic = diagnostic
		return &res, nil
	}

	util.SessionWaterfallTotal.WithLabelValues("failed").Inc()
	return nil, &SessionError{
		Message:    "unable to establish a hosted payment session",
		Diagnostic: diagnostic,
		Debug: SessionDebug{
			BackofficeTokenObtained: token != "",
			HPFScriptFound:          scriptFound,
			HPPFallbackSuccess:      hpp.ok,
			HPPFallbackReason:       hpp.reason,
			HPPAttempts:             hpp.attempts,
		},
	}
}

type initializeSessionResponse struct {
	NetvalveScriptSrc string `json:"netvalveScriptSrc"`
	PaymentToken      string `json:"paymentToken"`
	TraceID           string `json:"traceId"`
}

// initializeHPFSession calls the primary payment API and recovers the session
// JWT from the returned script URL's query string.
func (s *Service) initializeHPFSession(ctx context.Context) (*HPFInfo, error) {
	endpoint := s.paymentAPIURL() + "/hpf/initializeSession"
	status, body, err := doRequest(ctx, s.apiClient, http.MethodGet, endpoint, nil, s.authHeaders())
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("initializeSession returned %d: %s", status, truncate(string(body), 200))
	}

	var parsed initializeSessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("initializeSession returned non-JSON body: %w", err)
	}
	if parsed.NetvalveScriptSrc == "" {
		return nil, fmt.Errorf("initializeSession response missing script source")
	}

	info := &HPFInfo{
		ScriptSrc:    parsed.NetvalveScriptSrc,
		PaymentToken: parsed.PaymentToken,
		TraceID:      parsed.TraceID,
		Source:       "initialize_session",
	}
	if u, err := url.Parse(parsed.NetvalveScriptSrc); err == nil {
		info.JWTToken = u.Query().Get("jwtToken")
	}
	return info, nil
}

type signInResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// getBackofficeToken returns a cached backoffice access token, signing in
// when the cache is empty or near expiry. Failures return an empty token so
// the waterfall can keep going.
func (s *Service) getBackofficeToken(ctx context.Context) string {
	if s.cfg.BackofficeUsername == "" || s.cfg.BackofficePassword == "" {
		return ""
	}
	token, err := s.backofficeToken.GetOrRefresh(ctx, s.signInBackoffice)
	if err != nil {
		s.logger.Warn("session: backoffice sign-in failed", zap.Error(err))
		return ""
	}
	return token
}

func (s *Service) signInBackoffice(ctx context.Context) (string, time.Duration, error) {
	endpoint := s.backofficeURL() + "/backoffice/users/sign-in"
	payload := map[string]string{
		"userName":    s.cfg.BackofficeUsername,
		"password":    s.cfg.BackofficePassword,
		"checkForBot": "net",
	}
	status, body, err := doRequest(ctx, s.apiClient, http.MethodPost, endpoint, payload, nil)
	if err != nil {
		return "", 0, err
	}
	if status >= 400 {
		return "", 0, fmt.Errorf("backoffice sign-in returned %d: %s", status, truncate(string(body), 200))
	}

	var parsed signInResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, fmt.Errorf("backoffice sign-in returned non-JSON body: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", 0, fmt.Errorf("backoffice sign-in response missing access token")
	}

	var ttl time.Duration
	if parsed.ExpiresIn > 0 {
		ttl = time.Duration(parsed.ExpiresIn) * time.Second
	}
	return parsed.AccessToken, ttl, nil
}

type hpfScript struct {
	ID          int64  `json:"id"`
	ScriptSrc   string `json:"netvalveScriptSrc"`
	Integrity   string `json:"integrity"`
	Version     string `json:"version"`
	Status      string `json:"status"`
	Deleted     bool   `json:"deleted"`
	IsDefault   bool   `json:"isDefault"`
	CreatedDate string `json:"createdDate"`
}

// fetchHPFScript lists the backoffice script catalog and picks the active
// default script, or the newest active one when no default is flagged.
func (s *Service) fetchHPFScript(ctx context.Context, token string) (*HPFInfo, error) {
	endpoint := s.backofficeURL() + "/backoffice/hpf/script"
	status, body, err := doRequest(ctx, s.apiClient, http.MethodGet, endpoint, nil, bearerHeaders(token))
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("script catalog returned %d: %s", status, truncate(string(body), 200))
	}

	var scripts []hpfScript
	if err := json.Unmarshal(body, &scripts); err != nil {
		// Some deployments wrap the list in a data envelope.
		var wrapped struct {
			Data []hpfScript `json:"data"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, fmt.Errorf("script catalog returned non-JSON body: %w", err)
		}
		scripts = wrapped.Data
	}

	usable := scripts[:0:0]
	for _, sc := range scripts {
		if sc.Status == "ACTIVE" && !sc.Deleted && strings.HasPrefix(sc.ScriptSrc, "https://") {
			usable = append(usable, sc)
		}
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("no active hosted fields script in catalog")
	}

	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].CreatedDate > usable[j].CreatedDate
	})
	pick := usable[0]
	for _, sc := range usable {
		if sc.IsDefault {
			pick = sc
			break
		}
	}

	return &HPFInfo{
		ScriptSrc: pick.ScriptSrc,
		Integrity: pick.Integrity,
		Version:   pick.Version,
		ScriptID:  pick.ID,
		Source:    "backoffice",
	}, nil
}

// buildHPPCandidates expands the configured hosted page host and path
// overrides into a deduplicated host x path matrix.
func (s *Service) buildHPPCandidates() []string {
	var hosts []string
	if h := strings.TrimSpace(s.cfg.HPPOrderHost); h != "" {
		hosts = append(hosts, h)
	}
	hosts = append(hosts, s.hppBaseURL())

	paths := []string{}
	if p := strings.TrimSpace(s.cfg.HPPOrderPath); p != "" {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		paths = append(paths, p)
	}
	paths = append(paths, "/hpp/order", "/order")

	seen := make(map[string]bool)
	var out []string
	for _, h := range hosts {
		h = strings.TrimRight(h, "/")
		if h == "" {
			continue
		}
		for _, p := range paths {
			candidate := h + p
			if !seen[candidate] {
				seen[candidate] = true
				out = append(out, candidate)
			}
		}
	}
	return out
}

var hppRedirectKeys = []string{"redirectUrl", "redirect_url", "url", "paymentUrl", "payment_url"}
var hppNestedKeys = []string{"data", "payload", "order"}

// normalizeHPPRedirect digs a redirect URL plus order/transaction ids out of
// the loosely specified hosted page order response.
func normalizeHPPRedirect(body map[string]any) *HPPInfo {
	scopes := []map[string]any{body}
	for _, key := range hppNestedKeys {
		if nested, ok := body[key].(map[string]any); ok {
			scopes = append(scopes, nested)
		}
	}

	var redirect string
	for _, scope := range scopes {
		for _, key := range hppRedirectKeys {
			if v, ok := scope[key].(string); ok && strings.HasPrefix(v, "http") {
				redirect = v
				break
			}
		}
		if redirect != "" {
			break
		}
	}
	if redirect == "" {
		return nil
	}

	info := &HPPInfo{RedirectURL: redirect}
	for _, scope := range scopes {
		if info.OrderID == "" {
			info.OrderID = stringField(scope, "orderId", "order_id", "id")
		}
		if info.TransactionID == "" {
			info.TransactionID = stringField(scope, "transactionId", "transaction_id")
		}
	}
	return info
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// tryHPPFallback posts an order to each hosted page candidate endpoint until
// one yields a redirect URL. Every attempt is recorded for diagnostics.
func (s *Service) tryHPPFallback(ctx context.Context, bearer string, req SessionRequest) hppFallbackResult {
	if strings.EqualFold(strings.TrimSpace(s.cfg.HPPFallbackEnabled), "false") {
		return hppFallbackResult{reason: "hpp_fallback_disabled"}
	}
	if bearer == "" {
		return hppFallbackResult{reason: "hpp_fallback_no_bearer_token"}
	}
	if req.Amount <= 0 {
		return hppFallbackResult{reason: "hpp_fallback_missing_amount"}
	}
	mid := s.midForCurrency(req.CurrencyCode)
	if mid == "" || s.cfg.SiteID == "" {
		return hppFallbackResult{reason: "hpp_fallback_missing_site_or_mid"}
	}

	currency := strings.ToUpper(req.CurrencyCode)
	returnBase := s.returnBaseURL()
	payload := map[string]any{
		"mode":          pickString(s.cfg.HPPMode, "SALE"),
		"siteId":        s.cfg.SiteID,
		"netvalveMidId": mid,
		"amount":        round2(req.Amount),
		"currency":      currency,
		"clientOrderId": pickString(req.CartID, fmt.Sprintf("cart_%d", time.Now().Unix())),
		"orderDesc":     req.OrderDesc,
		"successUrl":    pickString(req.SuccessURL, s.cfg.HPPSuccessURL, returnBase+"/checkout/success"),
		"cancelUrl":     pickString(req.CancelURL, s.cfg.HPPCancelURL, returnBase+"/checkout/cancel"),
		"failedUrl":     pickString(req.FailedURL, s.cfg.HPPFailedURL, returnBase+"/checkout/failed"),
		"pendingUrl":    pickString(req.PendingURL, s.cfg.HPPPendingURL, returnBase+"/checkout/pending"),
	}

	headers := bearerHeaders(bearer)
	var attempts []HPPAttempt
	for _, candidate := range s.buildHPPCandidates() {
		status, body, err := doRequest(ctx, s.hppClient, http.MethodPost, candidate, payload, headers)
		if err != nil {
			attempts = append(attempts, HPPAttempt{Method: http.MethodPost, URL: candidate, Status: 0, Body: err.Error()})
			continue
		}
		attempts = append(attempts, HPPAttempt{Method: http.MethodPost, URL: candidate, Status: status, Body: truncate(string(body), 500)})
		if status >= 400 {
			continue
		}

		var parsed map[string]any
		if err := json.Unmarshal(body, &parsed); err != nil {
			continue
		}
		if info := normalizeHPPRedirect(parsed); info != nil {
			s.logger.Info("session: hosted page fallback succeeded", zap.String("endpoint", candidate))
			return hppFallbackResult{
				ok:       true,
				info:     info,
				endpoint: &HPPEndpoint{Method: http.MethodPost, URL: candidate},
				attempts: attempts,
			}
		}
	}

	return hppFallbackResult{reason: "hpp_fallback_no_redirect_url", attempts: attempts}
}

func buildSessionDiagnostic(tokenObtained, scriptFound bool, hpp hppFallbackResult) string {
	var lines []string
	if tokenObtained {
		lines = append(lines, "backoffice token: obtained")
	} else {
		lines = append(lines, "backoffice token: unavailable")
	}
	if scriptFound {
		lines = append(lines, "hosted fields script: found")
	} else {
		lines = append(lines, "hosted fields script: not found")
	}
	if hpp.ok {
		lines = append(lines, "hosted page fallback: succeeded")
	} else {
		reason := hpp.reason
		if reason == "" {
			reason = "unknown"
		}
		lines = append(lines, "hosted page fallback: "+reason)
		for _, a := range hpp.attempts {
			lines = append(lines, fmt.Sprintf("  %s %s -> %d", a.Method, a.URL, a.Status))
		}
	}
	return strings.Join(lines, "\n")
}
