package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"payment-bridge/internal/util"
)

var orderDescSanitizeRE = regexp.MustCompile(`[^\w\s,.\-]`)
var spaceCollapseRE = regexp.MustCompile(`\s+`)

// Aliases under which gateways report a combined card expiry.
var cardExpiryAliases = []string{
	"cardExpiryDate", "card_expiry_date", "cardExpiry", "card_expiry",
	"expiryDate", "expiry_date", "expiry", "expirationDate",
	"expiration_date", "expDate", "exp_date",
}

var cardExpiryMonthAliases = []string{"expiryMonth", "expiry_month", "expMonth", "exp_month", "cardExpiryMonth"}
var cardExpiryYearAliases = []string{"expiryYear", "expiry_year", "expYear", "exp_year", "cardExpiryYear"}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// sanitizeOrderDescription strips characters gateways reject from order
// descriptions, collapses whitespace, and caps the length at 100.
func sanitizeOrderDescription(desc string) string {
	clean := orderDescSanitizeRE.ReplaceAllString(desc, "")
	clean = strings.TrimSpace(spaceCollapseRE.ReplaceAllString(clean, " "))
	if len(clean) > 100 {
		clean = clean[:100]
	}
	return clean
}

// ProcessPayment submits a sale to the gateway using the token held in the
// session data. paymentType selects the toggle sent to the gateway; the
// token pick order is the same for both.
func (s *Service) ProcessPayment(ctx context.Context, data CheckoutSessionData, paymentType string) SaleResult {
	ctx, span := util.StartSpan(ctx, "gateway.ProcessPayment")
	defer span.End()

	start := time.Now()
	util.SaleAttemptsTotal.WithLabelValues(paymentType).Inc()
	defer func() { util.SaleLatency.Observe(time.Since(start).Seconds()) }()

	token := pickString(data.NetvalveToken, data.PaymentToken, data.HPFPaymentToken)
	if token == "" {
		return SaleResult{Success: false, ResponseMessage: "missing payment token"}
	}

	currency := strings.ToUpper(pickString(data.CurrencyCode, data.Currency, "USD"))
	mid := s.midForCurrency(currency)
	amount := round2(data.Amount)
	clientOrderID := pickString(data.ClientOrderID, data.OrderID, data.CheckoutID, data.CartID)
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}

	payload := map[string]any{
		"paymentType":   paymentType,
		"paymentToken":  token,
		"amount":        amount,
		"currency":      currency,
		"siteId":        s.cfg.SiteID,
		"netvalveMidId": mid,
		"clientOrderId": clientOrderID,
	}
	if desc := sanitizeOrderDescription(data.OrderDescription); desc != "" {
		payload["orderDesc"] = desc
	}
	addCustomerFields(payload, data)
	payload["customerIp"] = s.saleClientIP(ctx, data.ClientIPAddress)

	endpoint := s.paymentAPIURL() + "/sale"
	status, body, err := doRequest(ctx, s.saleClient, http.MethodPost, endpoint, payload, s.authHeaders())
	if err != nil {
		s.logger.Error("sale request failed", zap.Error(err), zap.String("client_order_id", clientOrderID))
		return SaleResult{
			Success:         false,
			ResponseMessage: fmt.Sprintf("gateway request failed: %v", err),
			ClientOrderID:   clientOrderID,
			Amount:          amount,
			Currency:        currency,
			SiteID:          s.cfg.SiteID,
			MIDID:           mid,
		}
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		raw = map[string]any{"raw_body": truncate(string(body), 500)}
	}

	result := classifySaleResponse(status, raw)
	result.ClientOrderID = clientOrderID
	result.PaymentToken = token
	result.SiteID = s.cfg.SiteID
	result.MIDID = mid
	result.Amount = amount
	result.Currency = currency
	extractCardMetadata(&result, raw, data)

	if result.Success {
		s.logger.Info("sale approved",
			zap.String("transaction_id", result.TransactionID),
			zap.String("client_order_id", clientOrderID),
			zap.Float64("amount", amount),
			zap.String("currency", currency))
	} else {
		s.logger.Warn("sale declined",
			zap.String("response_code", result.ResponseCode),
			zap.String("bank_response_code", result.BankResponseCode),
			zap.String("decline_reason", result.DeclineReason),
			zap.String("client_order_id", clientOrderID))
	}
	return result
}

// addCustomerFields maps session customer fields onto the gateway's
// camelCase sale payload keys, skipping empties.
func addCustomerFields(payload map[string]any, data CheckoutSessionData) {
	set := func(key, value string) {
		if v := strings.TrimSpace(value); v != "" {
			payload[key] = v
		}
	}
	set("customerEmail", data.CustomerEmail)
	set("customerFirstName", data.CustomerFirstName)
	set("customerLastName", data.CustomerLastName)
	set("cardHolderName", pickString(data.CardHolderName,
		strings.TrimSpace(data.CustomerFirstName+" "+data.CustomerLastName)))
	set("customerPhone", data.CustomerPhone)
	set("customerAddress", data.CustomerAddress)
	set("customerCity", data.CustomerCity)
	set("customerState", data.CustomerState)
	set("customerZipCode", data.CustomerZipCode)
	set("customerCountryCode", strings.ToUpper(data.CustomerCountryCode))
}

// saleClientIP returns a usable client IP for the sale payload. Loopback or
// missing addresses are replaced with this host's public IP since gateway
// risk checks reject them.
func (s *Service) saleClientIP(ctx context.Context, clientIP string) string {
	clientIP = strings.TrimSpace(clientIP)
	if clientIP != "" && !loopbackIPRE.MatchString(clientIP) {
		return clientIP
	}
	if public := s.resolvePublicIP(ctx); public != "" {
		return public
	}
	if clientIP != "" {
		return clientIP
	}
	return "127.0.0.1"
}

// classifySaleResponse decides approval from four redundant signals: the
// code type, the response message, BNK_-prefixed codes, and the bank
// response code. Any decline signal wins over an approved-looking primary
// code, since the gateway has been seen reporting GTW_1000 on declines.
func classifySaleResponse(httpStatus int, raw map[string]any) SaleResult {
	responseCode := stringField(raw, "responseCode", "response_code", "code")
	codeType := stringField(raw, "responseCodeType", "codeType", "code_type")
	message := stringField(raw, "responseMessage", "response_message", "message")
	bankCode := stringField(raw, "bankResponseCode", "bank_response_code", "bankCode")

	result := SaleResult{
		TransactionID:    stringField(raw, "transactionID", "transactionId", "transaction_id"),
		OrderID:          stringField(raw, "orderId", "order_id"),
		ResponseCode:     responseCode,
		ResponseMessage:  message,
		BankResponseCode: bankCode,
		Raw:              raw,
	}
	if errs, ok := raw["errors"].(map[string]any); ok {
		result.GatewayErrors = errs
	}

	decline := func(signal, reason string) SaleResult {
		util.SaleDeclinesTotal.WithLabelValues(signal).Inc()
		result.Success = false
		result.DeclineReason = reason
		return result
	}

	if httpStatus >= 400 {
		return decline("http_status", fmt.Sprintf("gateway returned HTTP %d", httpStatus))
	}

	upperType := strings.ToUpper(codeType)
	for _, marker := range []string{"DECLINE", "FAILED", "REJECT"} {
		if strings.Contains(upperType, marker) {
			return decline("code_type", pickString(message, "declined by gateway"))
		}
	}

	if message != "" && declineMessageRE.MatchString(message) {
		return decline("message_pattern", message)
	}

	for _, code := range []string{responseCode, bankCode} {
		if strings.HasPrefix(code, "BNK_") && code != approvedBankCode {
			return decline("bank_prefixed_code", pickString(message, "declined with code "+code))
		}
	}

	if reason, known := bankDeclineReasons[bankCode]; known {
		return decline("bank_response_code", reason)
	}

	if responseCode != approvedResponseCode {
		return decline("response_code", pickString(message, "unexpected response code "+responseCode))
	}

	result.Success = true
	return result
}

// extractCardMetadata pulls masked card details out of the sale response,
// preferring response fields over what the session already knew.
func extractCardMetadata(result *SaleResult, raw map[string]any, data CheckoutSessionData) {
	scopes := []map[string]any{raw}
	for _, key := range []string{"card", "cardDetails", "card_details", "data"} {
		if nested, ok := raw[key].(map[string]any); ok {
			scopes = append(scopes, nested)
		}
	}

	for _, scope := range scopes {
		if result.CardNumber == "" {
			result.CardNumber = stringField(scope, "maskedCardNumber", "masked_card_number", "cardNumber", "card_number", "maskedPan")
		}
		if result.CardType == "" {
			result.CardType = stringField(scope, "cardType", "card_type", "cardBrand", "card_brand", "brand")
		}
		if result.CardHolderName == "" {
			result.CardHolderName = stringField(scope, "cardHolderName", "card_holder_name", "cardholderName")
		}
		if result.CardExpiry == "" {
			result.CardExpiry = extractCardExpiry(scope)
		}
	}

	if result.CardNumber == "" {
		result.CardNumber = data.CardNumber
	}
	if result.CardType == "" {
		result.CardType = data.CardType
	}
	if result.CardExpiry == "" {
		result.CardExpiry = data.CardExpiry
	}
	if result.CardHolderName == "" {
		result.CardHolderName = data.CardHolderName
	}
}

// extractCardExpiry normalizes the many shapes gateways report expiry in
// (combined aliases or split month/year fields) to MM/YYYY.
func extractCardExpiry(scope map[string]any) string {
	if v := stringField(scope, cardExpiryAliases...); v != "" {
		return normalizeCardExpiry(v)
	}

	month := stringField(scope, cardExpiryMonthAliases...)
	year := stringField(scope, cardExpiryYearAliases...)
	if month == "" || year == "" {
		return ""
	}
	if len(month) == 1 {
		month = "0" + month
	}
	return month + "/" + widenExpiryYear(year)
}

// widenExpiryYear pads truncated years to four digits: "27" becomes "2027"
// and a bare "9" becomes "2009".
func widenExpiryYear(year string) string {
	switch len(year) {
	case 2:
		return "20" + year
	case 1:
		return "200" + year
	}
	return year
}

func normalizeCardExpiry(v string) string {
	v = strings.TrimSpace(v)
	sep := "/"
	if !strings.Contains(v, "/") {
		if strings.Contains(v, "-") {
			sep = "-"
		} else {
			return v
		}
	}
	parts := strings.SplitN(v, sep, 2)
	if len(parts) != 2 {
		return v
	}
	month, year := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if len(month) == 1 {
		month = "0" + month
	}
	return month + "/" + widenExpiryYear(year)
}
