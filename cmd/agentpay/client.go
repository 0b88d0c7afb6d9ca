package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"

	x402 "github.com/Zyzgsfi/agentpay"
	"github.com/Zyzgsfi/agentpay/agent"
	x402http "github.com/Zyzgsfi/agentpay/http"
)

func runClient(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	url := fs.String("url", "http://localhost:3000/api/premium-data", "Resource to call")
	maxPayment := fs.String("max", "", "Maximum to pay per request in whole tokens (overrides agent.max_payment)")
	method := fs.String("method", "", "HTTP method (default GET, or POST when -data is set)")
	data := fs.String("data", "", "JSON request body")
	directory := fs.String("directory", "http://localhost:3000", "Main server whose directory -service is looked up in")
	service := fs.String("service", "", "Hire the best-reputed agent offering this capability instead of calling -url")
	_ = fs.Parse(args)

	var body interface{}
	if *data != "" {
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(*data), &raw); err != nil {
			return fmt.Errorf("-data is not valid JSON: %w", err)
		}
		body = raw
	}
	if *method == "" {
		*method = http.MethodGet
		if body != nil {
			*method = http.MethodPost
		}
	}

	rt, err := setup(ctx, common)
	if err != nil {
		return err
	}
	defer rt.close()
	if *maxPayment == "" {
		*maxPayment = rt.cfg.Agent.MaxPayment
	}

	if *service != "" {
		hire, err := hireFor(ctx, rt, *maxPayment, *directory, *service, body)
		if err != nil {
			return err
		}
		fmt.Printf("Hired %s (%s, reputation %d)\n", hire.Agent.Name, hire.Agent.Endpoint, hire.Agent.Reputation)
		return printResult(hire.Receipt, hire.Response)
	}

	client, err := x402http.NewClient(
		x402http.WithLedger(rt.ledger),
		x402http.WithMaxPayment(*maxPayment),
		x402http.WithConfirmation(rt.cfg.Confirmation.Value()),
		x402http.WithLogger(rt.logger),
		x402http.WithPaymentCallbacks(rt.onPayment, rt.onPayment, rt.onPayment),
	)
	if err != nil {
		return err
	}

	var out json.RawMessage
	receipt, err := client.Call(ctx, *method, *url, body, &out)
	if err != nil {
		return err
	}
	return printResult(receipt, out)
}

// hireFor looks capability up in the directory at directoryURL and buys it
// from the best-reputed agent offering it.
func hireFor(ctx context.Context, rt *runtime, maxPayment, directoryURL, capability string, data interface{}) (*agent.Hire, error) {
	buyer, err := agent.New(agent.Config{
		Ledger:       rt.ledger,
		MaxPayment:   maxPayment,
		Confirmation: rt.cfg.Confirmation.Value(),
		OnPayment:    rt.onPayment,
		Logger:       rt.logger,
	})
	if err != nil {
		return nil, err
	}
	return buyer.HireFor(ctx, directoryURL, capability, data)
}

func printResult(receipt *x402.VerificationReceipt, out json.RawMessage) error {
	if receipt != nil {
		fmt.Printf("Paid %s (tx %s)\n", receipt.Amount, receipt.TxHash)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
