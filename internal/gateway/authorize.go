package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"payment-bridge/internal/util"
)

// AuthorizePayment decides whether the checkout session is authorized,
// running a gateway sale when the session holds a token that has not been
// charged yet. The paths are checked in strict priority order:
//
//  1. no payment confirmation at all: ask for payment input
//  2. a prior sale already succeeded: authorized, never charge twice
//  3. hosted fields completed: run a CARD sale
//  4. a stored token differs from the hosted-fields token: run a TOKEN sale
//  5. an external transaction or order id proves a gateway-side auth: mark
//     authorized locally without another sale
//  6. otherwise we cannot verify payment: ask for more input
func (s *Service) AuthorizePayment(ctx context.Context, data CheckoutSessionData) AuthorizationResult {
	ctx, span := util.StartSpan(ctx, "gateway.AuthorizePayment")
	defer span.End()

	if !data.HasPaymentConfirmation() {
		return s.requiresMore(data, "awaiting payment details", true)
	}

	if data.SaleSucceeded && data.NetvalveTransactionID != "" {
		s.logger.Info("authorize: sale already succeeded, skipping charge",
			zap.String("transaction_id", data.NetvalveTransactionID))
		return s.buildAuthorized(data, nil, "prior_sale")
	}

	if data.HPFCompleted {
		sale := s.ProcessPayment(ctx, data, PaymentTypeCard)
		if sale.Success {
			return s.buildAuthorized(data, &sale, "hpf_sale")
		}
		return s.buildDecline(data, sale)
	}

	if data.NetvalveToken != "" && data.NetvalveToken != data.HPFPaymentToken {
		sale := s.ProcessPayment(ctx, data, PaymentTypeToken)
		if sale.Success {
			return s.buildAuthorized(data, &sale, "token_sale")
		}
		return s.buildDecline(data, sale)
	}

	if data.hasExternalProof() {
		s.logger.Info("authorize: accepting external transaction proof",
			zap.String("transaction_id", pickString(data.TransactionID, data.NetvalveTransactionID)),
			zap.String("order_id", pickString(data.OrderID, data.NetvalveOrderID)))
		return s.buildAuthorized(data, nil, "external_proof")
	}

	return s.requiresMore(data, "unable to verify payment", true)
}

func (s *Service) requiresMore(data CheckoutSessionData, message string, needsInput bool) AuthorizationResult {
	data.Status = StatusRequiresMore
	data.RequiresPaymentInput = needsInput
	data.Message = message
	return AuthorizationResult{Status: StatusRequiresMore, Data: data}
}

// buildAuthorized annotates the session as authorized. When a fresh sale
// result is present its identifiers and card metadata are folded in.
func (s *Service) buildAuthorized(data CheckoutSessionData, sale *SaleResult, source string) AuthorizationResult {
	data.Status = StatusAuthorized
	data.Authorized = true
	data.IsAuthorized = true
	data.RequiresPaymentInput = false
	data.AuthorizedAt = time.Now().UTC().Format(time.RFC3339)
	data.PaymentFlow = pickString(data.PaymentFlow, FlowHPF)
	data.SiteID = pickString(data.SiteID, s.cfg.SiteID)
	data.Currency = pickString(data.Currency, data.CurrencyCode)
	data.ErrorMessage = ""
	data.Message = "payment authorized (" + source + ")"

	if sale != nil {
		data.SaleAttempted = true
		data.SaleSucceeded = true
		data.NetvalveTransactionID = pickString(sale.TransactionID, data.NetvalveTransactionID)
		data.NetvalveOrderID = pickString(sale.OrderID, data.NetvalveOrderID)
		data.NetvalveResponseCode = sale.ResponseCode
		data.NetvalveResponseMessage = sale.ResponseMessage
		data.NetvalveBankResponseCode = sale.BankResponseCode
		data.PaymentType = pickString(data.PaymentType, "card")
		data.MIDID = pickString(sale.MIDID, data.MIDID)
		if sale.CardNumber != "" {
			data.CardNumber = sale.CardNumber
		}
		if sale.CardType != "" {
			data.CardType = sale.CardType
		}
		if sale.CardExpiry != "" {
			data.CardExpiry = sale.CardExpiry
		}
		if sale.CardHolderName != "" {
			data.CardHolderName = sale.CardHolderName
		}
	}
	return AuthorizationResult{Status: StatusAuthorized, Data: data}
}

// buildDecline annotates the session with the decline detail and asks the
// storefront for fresh payment input.
func (s *Service) buildDecline(data CheckoutSessionData, sale SaleResult) AuthorizationResult {
	detail := pickString(sale.ResponseMessage, "payment declined")
	switch {
	case sale.DeclineReason != "" && sale.DeclineReason != sale.ResponseMessage:
		detail = fmt.Sprintf("%s (%s)", detail, sale.DeclineReason)
	case sale.BankResponseCode != "":
		detail = fmt.Sprintf("%s (bank code %s)", detail, sale.BankResponseCode)
	}

	data.Status = StatusRequiresMore
	data.RequiresPaymentInput = true
	data.ErrorMessage = detail
	data.Message = detail
	data.SaleAttempted = true
	data.SaleSucceeded = false
	data.NetvalveResponseCode = sale.ResponseCode
	data.NetvalveResponseMessage = sale.ResponseMessage
	data.NetvalveBankResponseCode = sale.BankResponseCode
	data.NetvalveDeclineReason = sale.DeclineReason

	s.logger.Warn("authorize: payment declined", zap.String("detail", detail))
	return AuthorizationResult{Status: StatusRequiresMore, Data: data}
}
