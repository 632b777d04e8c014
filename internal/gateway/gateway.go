// Package gateway implements the NetValve card-payment gateway client:
// the session-initialization waterfall, the sale/authorization paths with
// redundant decline classification, capture/refund/cancel operations, and
// the inbound webhook classifier.
package gateway

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"payment-bridge/config"
	"payment-bridge/internal/cache"
	"payment-bridge/internal/util"

	"go.uber.org/zap"
)

const (
	approvedResponseCode = "GTW_1000"
	approvedBankCode     = "BNK_2000"

	sandboxBackofficeURL    = "https://backoffice-api.uat.sandbox-netvalve.com"
	productionBackofficeURL = "https://backoffice-api.netvalve.com"
	sandboxPaymentAPIURL    = "https://payment-api.uat.sandbox-netvalve.com"
	productionPaymentAPIURL = "https://api.netvalve.com"
	sandboxHPPBaseURL       = "https://hpp-api.uat.sandbox-netvalve.com"
	productionHPPBaseURL    = "https://hpp-api.netvalve.com"

	sandboxDefaultHPFScriptSrc = "https://tokenfield.uat.sandbox-netvalve.com/sdk/index.DUbZDKWj.js"
)

// bankDeclineReasons maps known bank decline codes to human-readable
// reasons. Presence of any of these codes marks a sale declined even when
// the primary response code looks approved.
var bankDeclineReasons = map[string]string{
	"05": "Card declined by issuing bank",
	"51": "Insufficient funds",
	"14": "Invalid card number",
	"54": "Card expired",
	"41": "Card reported lost",
	"43": "Card reported stolen",
	"61": "Exceeds withdrawal limit",
	"62": "Restricted card",
	"65": "Exceeds withdrawal frequency",
}

var declineMessageRE = regexp.MustCompile(
	`(?i)declin|insufficient|invalid|not supported|failed|do not honor|expired|lost|stolen|restricted`)

var loopbackIPRE = regexp.MustCompile(
	`^(::1|::ffff:127\.0\.0\.1|127\.0\.0\.1|0\.0\.0\.0)$`)

// Service is the NetValve gateway client. It owns the backoffice token and
// public-IP caches; construct one per process and share it across handlers.
type Service struct {
	cfg    config.GatewayConfig
	logger *zap.Logger

	apiClient  *http.Client // session/backoffice lookups
	hppClient  *http.Client // hpp order creation and fund movements
	saleClient *http.Client // sale calls get the longest timeout
	ipClient   *http.Client // public-IP lookups are auxiliary, keep them short

	backofficeToken *cache.Value
	publicIP        *cache.Value
}

// NewService creates a gateway service
func NewService(cfg config.GatewayConfig) *Service {
	return &Service{
		cfg:    cfg,
		logger: util.GetLogger(),

		apiClient:  &http.Client{Timeout: 10 * time.Second},
		hppClient:  &http.Client{Timeout: 15 * time.Second},
		saleClient: &http.Client{Timeout: 30 * time.Second},
		ipClient:   &http.Client{Timeout: 3 * time.Second},

		backofficeToken: cache.NewValue(time.Hour, 5*time.Minute),
		publicIP:        cache.NewValue(10*time.Minute, 0),
	}
}

func (s *Service) isSandbox() bool {
	return strings.TrimSpace(s.cfg.Environment) == "sandbox"
}

func (s *Service) environment() string {
	if env := strings.TrimSpace(s.cfg.Environment); env != "" {
		return env
	}
	return "production"
}

func (s *Service) paymentAPIURL() string {
	if url := strings.TrimSpace(s.cfg.PaymentAPIURL); url != "" {
		return url
	}
	if url := strings.TrimSpace(s.cfg.BaseURL); url != "" {
		return url
	}
	if s.isSandbox() {
		return sandboxPaymentAPIURL
	}
	return productionPaymentAPIURL
}

func (s *Service) backofficeURL() string {
	if url := strings.TrimSpace(s.cfg.BackofficeAPIURL); url != "" {
		return url
	}
	if s.isSandbox() {
		return sandboxBackofficeURL
	}
	return productionBackofficeURL
}

func (s *Service) hppBaseURL() string {
	if url := strings.TrimSpace(s.cfg.HPPBaseURL); url != "" {
		return url
	}
	if s.isSandbox() {
		if url := strings.TrimSpace(s.cfg.SandboxHPPBaseURL); url != "" {
			return url
		}
		return sandboxHPPBaseURL
	}
	if url := strings.TrimSpace(s.cfg.ProductionHPPBaseURL); url != "" {
		return url
	}
	return productionHPPBaseURL
}

func (s *Service) fallbackScriptSrc() string {
	if src := strings.TrimSpace(s.cfg.HPFFallbackScriptSrc); src != "" {
		return src
	}
	if s.isSandbox() {
		return sandboxDefaultHPFScriptSrc
	}
	return ""
}

// midForCurrency resolves the currency-scoped merchant id, falling back
// through USD, EUR, PHP when the currency has no dedicated MID.
func (s *Service) midForCurrency(currencyCode string) string {
	switch strings.ToUpper(currencyCode) {
	case "EUR":
		return s.cfg.MIDEUR
	case "USD":
		return s.cfg.MIDUSD
	case "PHP":
		return s.cfg.MIDPHP
	}
	for _, mid := range []string{s.cfg.MIDUSD, s.cfg.MIDEUR, s.cfg.MIDPHP} {
		if mid != "" {
			return mid
		}
	}
	return ""
}

func (s *Service) returnBaseURL() string {
	if url := strings.TrimSpace(s.cfg.ReturnBaseURL); url != "" {
		return url
	}
	return "http://localhost:8000"
}

// pickString returns the first non-empty trimmed candidate, or ""
func pickString(candidates ...string) string {
	for _, c := range candidates {
		if trimmed := strings.TrimSpace(c); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
