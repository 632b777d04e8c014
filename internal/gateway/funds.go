package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"payment-bridge/internal/util"
)

// CapturePayment captures a previously authorized transaction. Sessions
// already marked captured return a no-op success without a gateway call so
// a replayed capture never double-settles.
func (s *Service) CapturePayment(ctx context.Context, data CheckoutSessionData, amount float64) FundsResult {
	ctx, span := util.StartSpan(ctx, "gateway.CapturePayment")
	defer span.End()

	if data.AlreadyCaptured || data.Status == StatusCaptured {
		s.logger.Info("capture: transaction already captured",
			zap.String("transaction_id", data.NetvalveTransactionID))
		util.FundsOperationsTotal.WithLabelValues("capture", FundsStatusCaptured).Inc()
		return FundsResult{
			Status:        FundsStatusCaptured,
			TransactionID: pickString(data.NetvalveTransactionID, data.TransactionID),
			Data:          map[string]any{},
		}
	}

	return s.fundsCall(ctx, "capture", "/capture", FundsStatusCaptured, FundsStatusCaptureError, data, amount)
}

// RefundPayment refunds a captured transaction, fully or partially.
func (s *Service) RefundPayment(ctx context.Context, data CheckoutSessionData, amount float64) FundsResult {
	ctx, span := util.StartSpan(ctx, "gateway.RefundPayment")
	defer span.End()

	res := s.fundsCall(ctx, "refund", "/refund", FundsStatusRefunded, FundsStatusRefundError, data, amount)
	if res.Status == FundsStatusRefunded {
		res.RefundedAmount = round2(amount)
	}
	return res
}

// CancelPayment voids an authorized-but-uncaptured transaction.
func (s *Service) CancelPayment(ctx context.Context, data CheckoutSessionData) FundsResult {
	ctx, span := util.StartSpan(ctx, "gateway.CancelPayment")
	defer span.End()

	return s.fundsCall(ctx, "cancel", "/void", FundsStatusCanceled, FundsStatusCancelError, data, 0)
}

// fundsCall is the shared capture/refund/void request path. Transport and
// gateway failures are folded into the error status; callers never see a Go
// error, matching how settlement paths consume these results.
func (s *Service) fundsCall(ctx context.Context, operation, path, okStatus, errStatus string, data CheckoutSessionData, amount float64) FundsResult {
	txID := pickString(data.NetvalveTransactionID, data.TransactionID)
	fail := func(msg string) FundsResult {
		util.FundsOperationsTotal.WithLabelValues(operation, errStatus).Inc()
		s.logger.Error(operation+" failed", zap.String("transaction_id", txID), zap.String("error", msg))
		return FundsResult{Status: errStatus, TransactionID: txID, Error: msg, Data: map[string]any{}}
	}

	if txID == "" {
		return fail("missing transaction id")
	}
	txInt, err := strconv.Atoi(txID)
	if err != nil {
		return fail(fmt.Sprintf("transaction id %q is not numeric", txID))
	}

	payload := map[string]any{"transactionID": txInt}
	if amount > 0 {
		payload["amount"] = round2(amount)
	}

	endpoint := s.paymentAPIURL() + path
	status, body, err := doRequest(ctx, s.hppClient, http.MethodPost, endpoint, payload, s.authHeaders())
	if err != nil {
		return fail(fmt.Sprintf("gateway request failed: %v", err))
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		raw = map[string]any{"raw_body": truncate(string(body), 500)}
	}
	responseCode := stringField(raw, "responseCode", "response_code", "code")
	message := stringField(raw, "responseMessage", "response_message", "message")

	if status >= 400 {
		return fail(fmt.Sprintf("gateway returned HTTP %d: %s", status, pickString(message, truncate(string(body), 200))))
	}

	util.FundsOperationsTotal.WithLabelValues(operation, okStatus).Inc()
	s.logger.Info(operation+" succeeded",
		zap.String("transaction_id", txID),
		zap.String("response_code", responseCode))
	return FundsResult{
		Status:          okStatus,
		TransactionID:   txID,
		ResponseCode:    responseCode,
		ResponseMessage: message,
		Data:            raw,
	}
}
