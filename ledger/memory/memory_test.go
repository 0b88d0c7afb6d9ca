package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	x402 "github.com/Zyzgsfi/agentpay"
)

func TestLedger_ConfirmAfter(t *testing.T) {
	ctx := context.Background()
	l := New(x402.NetworkBaseSepolia, "0xpayer", WithConfirmAfter(3))

	txID, err := l.SubmitTransfer(ctx, big.NewInt(50000), "0xpayee", "0xusdc")
	if err != nil {
		t.Fatalf("SubmitTransfer() error = %v", err)
	}

	for i := 1; i <= 2; i++ {
		r, err := l.GetReceipt(ctx, txID)
		if err != nil {
			t.Fatalf("GetReceipt() error = %v", err)
		}
		if r.Status != x402.TxStatusPending {
			t.Errorf("poll %d: status = %s; want pending", i, r.Status)
		}
	}

	r, err := l.GetReceipt(ctx, txID)
	if err != nil {
		t.Fatalf("GetReceipt() error = %v", err)
	}
	if r.Status != x402.TxStatusSuccess {
		t.Errorf("status = %s; want success", r.Status)
	}
	if len(r.Transfers) != 1 || r.Transfers[0].Amount.Int64() != 50000 || r.Transfers[0].To != "0xpayee" {
		t.Errorf("transfers = %+v", r.Transfers)
	}
	if l.Polls(txID) != 3 || l.Submissions() != 1 {
		t.Errorf("polls = %d, submissions = %d", l.Polls(txID), l.Submissions())
	}
}

func TestLedger_Failures(t *testing.T) {
	ctx := context.Background()

	l := New(x402.NetworkBaseSepolia, "0xpayer", WithFinalStatus(x402.TxStatusFailed))
	txID, _ := l.SubmitTransfer(ctx, big.NewInt(1), "0xpayee", "0xusdc")
	if r, _ := l.GetReceipt(ctx, txID); r.Status != x402.TxStatusFailed {
		t.Errorf("status = %s; want failed", r.Status)
	}

	if _, err := l.GetReceipt(ctx, "0xunknown"); !errors.Is(err, x402.ErrReceiptNotFound) {
		t.Errorf("unknown tx error = %v", err)
	}

	l.SetUnavailable(true)
	if _, err := l.GetReceipt(ctx, txID); !errors.Is(err, x402.ErrLedgerUnavailable) {
		t.Errorf("offline error = %v", err)
	}

	boom := errors.New("insufficient funds")
	l = New(x402.NetworkBaseSepolia, "0xpayer", WithSubmitError(boom))
	if _, err := l.SubmitTransfer(ctx, big.NewInt(1), "0xpayee", "0xusdc"); !errors.Is(err, boom) {
		t.Errorf("SubmitTransfer() error = %v", err)
	}
	if l.Submissions() != 1 {
		t.Errorf("Submissions() = %d; want 1", l.Submissions())
	}
}

func TestLedger_Put(t *testing.T) {
	l := New("", "")
	l.Put(x402.TransactionReceipt{TxHash: "0xabc", Status: x402.TxStatusPending})
	for i := 0; i < 5; i++ {
		r, err := l.GetReceipt(context.Background(), "0xabc")
		if err != nil || r.Status != x402.TxStatusPending {
			t.Fatalf("GetReceipt() = %+v, %v", r, err)
		}
	}
}

func TestLedger_Balance(t *testing.T) {
	ctx := context.Background()
	l := New(x402.NetworkBaseSepolia, "0xpayer",
		WithBalance("0xusdc", big.NewInt(100000)),
		WithBalance(NativeAsset, big.NewInt(5e17)))

	b, err := l.Balance(ctx, "0xusdc")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if b.Token.Int64() != 100000 || b.Native.Int64() != 5e17 || b.Address != "0xpayer" || b.Asset != "0xusdc" {
		t.Errorf("balance = %+v", b)
	}

	if _, err := l.SubmitTransfer(ctx, big.NewInt(60000), "0xpayee", "0xusdc"); err != nil {
		t.Fatalf("SubmitTransfer() error = %v", err)
	}
	if _, err := l.SubmitTransfer(ctx, big.NewInt(60000), "0xpayee", "0xusdc"); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("overdraft error = %v; want ErrInsufficientFunds", err)
	}
	if b, _ := l.Balance(ctx, "0xusdc"); b.Token.Int64() != 40000 {
		t.Errorf("balance after transfer = %s; want 40000", b.Token)
	}

	// Unfunded assets are not metered.
	if _, err := l.SubmitTransfer(ctx, big.NewInt(1), "0xpayee", "0xdai"); err != nil {
		t.Errorf("unmetered transfer error = %v", err)
	}
	if b, _ := l.Balance(ctx, "0xdai"); b.Token.Sign() != 0 {
		t.Errorf("unfunded balance = %s; want 0", b.Token)
	}

	l.SetUnavailable(true)
	if _, err := l.Balance(ctx, "0xusdc"); !errors.Is(err, x402.ErrLedgerUnavailable) {
		t.Errorf("offline error = %v; want ErrLedgerUnavailable", err)
	}
}
