package facilitator

import (
	"context"
	"log/slog"
	"time"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/verifier"
)

// Service is a facilitator backed by a ReceiptSource.
type Service struct {
	source   x402.ReceiptSource
	verifier *verifier.Verifier
	logger   *slog.Logger
	now      func() time.Time
}

var _ Interface = (*Service)(nil)

// NewService creates a facilitator that checks proofs against source.
// opts configure the underlying verifier.
func NewService(source x402.ReceiptSource, logger *slog.Logger, opts ...verifier.Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]verifier.Option{verifier.WithLogger(logger)}, opts...)
	return &Service{
		source:   source,
		verifier: verifier.New(source, opts...),
		logger:   logger,
		now:      time.Now,
	}
}

// Verify implements Interface.
func (s *Service) Verify(ctx context.Context, proof x402.PaymentProof, requirement x402.PaymentRequirement) (*VerifyResponse, error) {
	result, err := s.verifier.VerifyProof(ctx, proof, requirement)
	if err != nil {
		s.logger.Warn("facilitator verification failed", "txHash", proof.TxHash, "code", x402.CodeOf(err))
		return nil, err
	}
	return &VerifyResponse{
		Valid:           true,
		TransactionHash: result.Transaction.TxHash,
		BlockNumber:     result.Transaction.BlockNumber,
		GasUsed:         result.Transaction.GasUsed,
		Timestamp:       result.Receipt.Timestamp,
		Payer:           proof.Payer,
	}, nil
}

// Settle implements Interface. The transfer already happened on the
// ledger, so settling re-verifies and records the time.
func (s *Service) Settle(ctx context.Context, proof x402.PaymentProof, requirement x402.PaymentRequirement) (*SettleResponse, error) {
	verified, err := s.Verify(ctx, proof, requirement)
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment settled", "txHash", verified.TransactionHash)
	return &SettleResponse{
		Settled:         true,
		TransactionHash: verified.TransactionHash,
		SettlementTime:  s.now().UTC().Format(time.RFC3339),
		Status:          SettlementStatusCompleted,
	}, nil
}

// Status implements Interface. Unknown transactions return an error
// wrapping x402.ErrReceiptNotFound.
func (s *Service) Status(ctx context.Context, txHash string) (*PaymentStatus, error) {
	receipt, err := s.source.GetReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	return &PaymentStatus{
		TransactionHash: txHash,
		Status:          receipt.Status,
		BlockNumber:     receipt.BlockNumber,
		GasUsed:         receipt.GasUsed,
		Timestamp:       s.now().UTC().Format(time.RFC3339),
		Transfers:       receipt.Transfers,
	}, nil
}
