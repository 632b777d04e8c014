package gateway

// Payment session statuses
const (
	StatusAuthorized   = "authorized"
	StatusCaptured     = "captured"
	StatusPending      = "pending"
	StatusRequiresMore = "requires_more"
	StatusError        = "error"
	StatusCanceled     = "canceled"
)

// Sale payment types
const (
	PaymentTypeCard  = "CARD"
	PaymentTypeToken = "TOKEN"
)

// Session flows
const (
	FlowHPF = "hpf"
	FlowHPP = "hpp"
)

// CheckoutSessionData is the typed view of the data a checkout accumulates
// across session initialization, card entry, and authorization. Orchestrator
// methods take it by value and return an annotated copy; the input is never
// mutated.
type CheckoutSessionData struct {
	ID string `json:"id,omitempty"`

	Amount       float64 `json:"amount,omitempty"`
	CurrencyCode string  `json:"currency_code,omitempty"`
	CartID       string  `json:"cart_id,omitempty"`

	// Payment tokens
	NetvalveToken   string `json:"netvalve_token,omitempty"`
	PaymentToken    string `json:"payment_token,omitempty"`
	HPFPaymentToken string `json:"hpf_payment_token,omitempty"`

	// Authorization flags
	AlreadyCaptured   bool `json:"already_captured,omitempty"`
	Authorized        bool `json:"authorized,omitempty"`
	IsAuthorized      bool `json:"is_authorized,omitempty"`
	HPFCompleted      bool `json:"hpf_completed,omitempty"`
	CardFormSubmitted bool `json:"card_form_submitted,omitempty"`

	// Transaction proof identifiers
	TransactionID         string `json:"transaction_id,omitempty"`
	OrderID               string `json:"order_id,omitempty"`
	CheckoutID            string `json:"checkout_id,omitempty"`
	NetvalveTransactionID string `json:"netvalve_transaction_id,omitempty"`
	NetvalveOrderID       string `json:"netvalve_order_id,omitempty"`

	// Customer fields forwarded to the sale payload
	CustomerEmail       string `json:"customer_email,omitempty"`
	CustomerFirstName   string `json:"customer_first_name,omitempty"`
	CustomerLastName    string `json:"customer_last_name,omitempty"`
	CardHolderName      string `json:"card_holder_name,omitempty"`
	CustomerPhone       string `json:"customer_phone,omitempty"`
	CustomerAddress     string `json:"customer_address,omitempty"`
	CustomerCity        string `json:"customer_city,omitempty"`
	CustomerState       string `json:"customer_state,omitempty"`
	CustomerZipCode     string `json:"customer_zip_code,omitempty"`
	CustomerCountryCode string `json:"customer_country_code,omitempty"`

	OrderDescription string `json:"order_description,omitempty"`
	ClientOrderID    string `json:"client_order_id,omitempty"`
	ClientIPAddress  string `json:"client_ip_address,omitempty"`
	CardExpiry       string `json:"card_expiry,omitempty"`
	CardNumber       string `json:"card_number,omitempty"`
	CardType         string `json:"card_type,omitempty"`

	// Gateway-derived annotations
	Status               string         `json:"status,omitempty"`
	PaymentType          string         `json:"payment_type,omitempty"`
	PaymentFlow          string         `json:"payment_flow,omitempty"`
	RequiresPaymentInput bool           `json:"requires_payment_input"`
	AuthorizedAt         string         `json:"authorized_at,omitempty"`
	Message              string         `json:"message,omitempty"`
	ErrorMessage         string         `json:"error_message,omitempty"`
	SiteID               string         `json:"site_id,omitempty"`
	MIDID                string         `json:"mid_id,omitempty"`
	Currency             string         `json:"currency,omitempty"`
	GatewayErrors        map[string]any `json:"errors,omitempty"`

	SaleAttempted            bool   `json:"netvalve_sale_attempted,omitempty"`
	SaleSucceeded            bool   `json:"netvalve_sale_success,omitempty"`
	NetvalveResponseCode     string `json:"netvalve_response_code,omitempty"`
	NetvalveResponseMessage  string `json:"netvalve_response_message,omitempty"`
	NetvalveBankResponseCode string `json:"netvalve_bank_response_code,omitempty"`
	NetvalveDeclineReason    string `json:"netvalve_decline_reason,omitempty"`
}

// HasPaymentConfirmation reports whether the session carries any
// authorization proof: a true auth flag or a non-empty proof identifier.
func (d CheckoutSessionData) HasPaymentConfirmation() bool {
	if d.Authorized || d.IsAuthorized || d.HPFCompleted || d.CardFormSubmitted {
		return true
	}
	for _, proof := range []string{
		d.NetvalveToken, d.TransactionID, d.NetvalveTransactionID,
		d.OrderID, d.CheckoutID,
	} {
		if proof != "" {
			return true
		}
	}
	return false
}

// hasExternalProof reports whether the session carries a transaction or
// order identifier proving a prior gateway authorization (hosted-page
// callback or webhook).
func (d CheckoutSessionData) hasExternalProof() bool {
	for _, proof := range []string{
		d.TransactionID, d.NetvalveTransactionID, d.OrderID, d.NetvalveOrderID,
	} {
		if proof != "" {
			return true
		}
	}
	return false
}

// SaleResult is the structured outcome of a single gateway sale call.
// Success is the combined classification; the remaining fields preserve the
// gateway's own verdict for audit and decline messaging.
type SaleResult struct {
	Success bool `json:"success"`

	TransactionID    string `json:"transaction_id,omitempty"`
	OrderID          string `json:"order_id,omitempty"`
	ResponseCode     string `json:"response_code,omitempty"`
	ResponseMessage  string `json:"response_message,omitempty"`
	BankResponseCode string `json:"bank_response_code,omitempty"`
	DeclineReason    string `json:"decline_reason,omitempty"`

	ClientOrderID string  `json:"client_order_id,omitempty"`
	PaymentToken  string  `json:"payment_token,omitempty"`
	SiteID        string  `json:"site_id,omitempty"`
	MIDID         string  `json:"mid_id,omitempty"`
	Amount        float64 `json:"amount,omitempty"`
	Currency      string  `json:"currency,omitempty"`

	GatewayErrors  map[string]any `json:"gateway_errors,omitempty"`
	CardNumber     string         `json:"card_number,omitempty"`
	CardType       string         `json:"card_type,omitempty"`
	CardExpiry     string         `json:"card_expiry,omitempty"`
	CardHolderName string         `json:"card_holder_name,omitempty"`

	Raw map[string]any `json:"raw,omitempty"`
}

// AuthorizationResult is the variant returned by AuthorizePayment:
// Status is authorized or requires_more, Data is the annotated session copy.
type AuthorizationResult struct {
	Status string              `json:"status"`
	Data   CheckoutSessionData `json:"data"`
}

// Fund-movement statuses
const (
	FundsStatusCaptured     = "captured"
	FundsStatusCaptureError = "capture_error"
	FundsStatusRefunded     = "refunded"
	FundsStatusRefundError  = "refund_error"
	FundsStatusCanceled     = "canceled"
	FundsStatusCancelError  = "cancel_error"
)

// FundsResult is the structured outcome of a capture, refund, or cancel
// call. Transport and parse failures land in the *_error statuses; the
// methods never return a Go error.
type FundsResult struct {
	Status          string         `json:"status"`
	TransactionID   string         `json:"transaction_id"`
	RefundedAmount  float64        `json:"refunded_amount,omitempty"`
	ResponseCode    string         `json:"response_code,omitempty"`
	ResponseMessage string         `json:"response_message,omitempty"`
	Error           string         `json:"error,omitempty"`
	Data            map[string]any `json:"data"`
}
