package http

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/confirm"
	"github.com/Zyzgsfi/agentpay/http/internal/helpers"
)

// maxErrorBody caps how much of a failed paid response is kept for the error.
const maxErrorBody = 4 << 10

// ErrNoLedger is returned when a 402 arrives and the transport cannot pay.
var ErrNoLedger = errors.New("x402: no ledger configured")

// X402Transport is a RoundTripper that pays for 402 responses.
//
// On a 402 it picks a requirement, refuses if it costs more than MaxAmount,
// submits exactly one transfer, waits for it to become final and repeats
// the original request with the proof. A failed payment is never retried.
type X402Transport struct {
	// Base is the underlying RoundTripper (typically http.DefaultTransport).
	Base http.RoundTripper

	// Ledger pays.
	Ledger x402.Ledger

	// MaxAmount is the per-call limit in atomic units. Nil means no limit.
	MaxAmount *big.Int

	// Confirmation bounds the wait for the payment to become final.
	Confirmation x402.ConfirmationConfig

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnPaymentAttempt is called right before the transfer is submitted.
	OnPaymentAttempt x402.PaymentCallback

	// OnPaymentSuccess is called when the paid request succeeded.
	OnPaymentSuccess x402.PaymentCallback

	// OnPaymentFailure is called when any step after the challenge fails.
	OnPaymentFailure x402.PaymentCallback
}

// RoundTrip implements http.RoundTripper.
func (t *X402Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := bufferBody(req); err != nil {
		return nil, err
	}

	resp, err := base.RoundTrip(cloneWithBody(req))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	challenge, err := helpers.ParsePaymentRequirements(resp)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	url := req.URL.String()
	event := x402.PaymentEvent{Method: "HTTP", URL: url}

	if t.Ledger == nil {
		return nil, ErrNoLedger
	}

	selection, err := x402.SelectRequirement(challenge.PaymentRequirements, t.Ledger.Network(), t.MaxAmount)
	if err != nil {
		logger.Warn("payment refused", "url", url, "error", err)
		t.fail(event, time.Now(), err)
		return nil, err
	}

	chosen := selection.Requirement
	event.Amount = selection.Amount.String()
	event.Asset = chosen.Asset
	event.Network = chosen.Network
	event.Recipient = chosen.PayTo
	event.Payer = t.Ledger.Address()

	startTime := time.Now()
	if t.OnPaymentAttempt != nil {
		attempt := event
		attempt.Type = x402.PaymentEventAttempt
		attempt.Timestamp = startTime
		t.OnPaymentAttempt(attempt)
	}

	ctx := req.Context()
	logger.Info("paying for resource", "url", url, "amount", event.Amount, "payTo", chosen.PayTo)
	txID, err := t.Ledger.SubmitTransfer(ctx, selection.Amount, chosen.PayTo, chosen.Asset)
	if err != nil {
		err = x402.NewPaymentError(x402.ErrCodeNetworkError, "failed to submit payment", err)
		t.fail(event, startTime, err)
		return nil, err
	}
	event.Transaction = txID

	polls := 0
	waiter := confirm.NewWaiter(t.Ledger,
		confirm.WithConfig(t.confirmation()),
		confirm.WithLogger(logger),
		confirm.WithPollHook(func(int, *x402.TransactionReceipt, error) { polls++ }),
	)
	if _, err := waiter.Wait(ctx, txID); err != nil {
		event.Polls = polls
		if confirm.IsTerminal(err) {
			logger.Error("payment not confirmed", "txHash", txID, "polls", polls, "error", err)
		} else {
			logger.Warn("confirmation wait abandoned, transfer may still settle", "txHash", txID, "polls", polls, "error", err)
		}
		t.fail(event, startTime, err)
		return nil, err
	}
	event.Polls = polls

	paymentHeader, err := helpers.BuildPaymentHeader(&x402.PaymentProof{
		TxHash: txID,
		Amount: selection.Amount.String(),
		PayTo:  chosen.PayTo,
		Asset:  chosen.Asset,
		Payer:  t.Ledger.Address(),
	})
	if err != nil {
		t.fail(event, startTime, err)
		return nil, err
	}

	reqRetry := cloneWithBody(req)
	reqRetry.Header.Set(x402.HeaderPayment, paymentHeader)

	respRetry, err := base.RoundTrip(reqRetry)
	if err != nil {
		t.fail(event, startTime, err)
		return nil, err
	}

	if respRetry.StatusCode < 200 || respRetry.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(respRetry.Body, maxErrorBody))
		respRetry.Body.Close()
		err := x402.NewPaymentError(x402.ErrCodeServiceRequestFailed, "Service request failed", x402.ErrServiceRequestFailed).
			WithStatus(respRetry.StatusCode).
			WithDetails("txHash", txID).
			WithDetails("body", string(body))
		logger.Error("paid request failed", "url", url, "status", respRetry.StatusCode, "txHash", txID)
		t.fail(event, startTime, err)
		return nil, err
	}

	if t.OnPaymentSuccess != nil {
		success := event
		success.Type = x402.PaymentEventSuccess
		success.Timestamp = time.Now()
		success.Duration = time.Since(startTime)
		t.OnPaymentSuccess(success)
	}
	return respRetry, nil
}

func (t *X402Transport) confirmation() x402.ConfirmationConfig {
	if t.Confirmation.MaxAttempts <= 0 {
		return x402.DefaultConfirmation
	}
	return t.Confirmation
}

func (t *X402Transport) fail(event x402.PaymentEvent, start time.Time, err error) {
	if t.OnPaymentFailure == nil {
		return
	}
	event.Type = x402.PaymentEventFailure
	event.Timestamp = time.Now()
	event.Duration = time.Since(start)
	event.Error = err
	t.OnPaymentFailure(event)
}

// bufferBody makes the request body replayable for the paid retry.
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.Body, _ = req.GetBody()
	return nil
}

func cloneWithBody(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			clone.Body = body
		}
	}
	return clone
}
