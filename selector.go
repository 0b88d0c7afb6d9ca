package x402

import (
	"math/big"
	"sort"
	"strings"
)

// Selection is the requirement a payer decided to satisfy.
type Selection struct {
	Requirement PaymentRequirement
	Amount      *big.Int
}

// SelectRequirement chooses which requirement of a challenge to pay.
//
// Requirements on a network other than the payer's are skipped; a
// requirement without a network, or a payer without one, always matches.
// Among the rest the cheapest wins, ties keep challenge order. The
// selection fails with ErrPaymentLimitExceeded when maxAmount is set and
// the cheapest option is above it.
func SelectRequirement(requirements []PaymentRequirement, network string, maxAmount *big.Int) (*Selection, error) {
	if len(requirements) == 0 {
		return nil, NewPaymentError(ErrCodeInvalidRequirements, "no payment requirements provided", ErrInvalidRequirements)
	}

	type candidate struct {
		req    PaymentRequirement
		amount *big.Int
		index  int
	}

	var candidates []candidate
	var offered []string
	for i, req := range requirements {
		offered = append(offered, req.Network+":"+req.Asset)

		amount, ok := ParseAtomic(req.Amount)
		if !ok || amount.Sign() == 0 {
			continue
		}
		if req.PayTo == "" {
			continue
		}
		if network != "" && req.Network != "" && req.Network != network {
			continue
		}
		candidates = append(candidates, candidate{req: req, amount: amount, index: i})
	}

	if len(candidates) == 0 {
		return nil, NewPaymentError(ErrCodeInvalidRequirements, "no payable requirement", ErrInvalidRequirements).
			WithDetails("network", network).
			WithDetails("options", strings.Join(offered, ", "))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].amount.Cmp(candidates[j].amount) < 0
	})
	best := candidates[0]

	if maxAmount != nil && best.amount.Cmp(maxAmount) > 0 {
		return nil, NewPaymentError(ErrCodePaymentLimitExceeded, "payment amount exceeds limit", ErrPaymentLimitExceeded).
			WithDetails("amount", best.amount.String()).
			WithDetails("max", maxAmount.String())
	}

	return &Selection{Requirement: best.req, Amount: best.amount}, nil
}

// MatchesRequirement reports whether a proof names the same payee, asset and
// amount as the requirement. Addresses compare with SameAddress on the
// requirement's network; amounts compare numerically.
func MatchesRequirement(proof *PaymentProof, req *PaymentRequirement) bool {
	if !SameAddress(req.Network, proof.PayTo, req.PayTo) || !SameAddress(req.Network, proof.Asset, req.Asset) {
		return false
	}
	paid, ok := ParseAtomic(proof.Amount)
	if !ok {
		return false
	}
	want, ok := ParseAtomic(req.Amount)
	if !ok {
		return false
	}
	return paid.Cmp(want) == 0
}
