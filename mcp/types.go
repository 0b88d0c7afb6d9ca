// Package mcp carries x402 payments over the Model Context Protocol.
//
// A paid tools/call is answered with a JSON-RPC error whose code is 402 and
// whose data is the x402.PaymentRequired challenge. The caller pays, then
// repeats the call with the proof in params._meta["x402/payment"]. A paid
// result carries the verification receipt in result._meta["x402/payment-response"].
package mcp

const (
	// MetaPayment is the _meta key of the payment proof.
	MetaPayment = "x402/payment"

	// MetaPaymentResponse is the _meta key of the verification receipt.
	MetaPaymentResponse = "x402/payment-response"

	// CodePaymentRequired is the JSON-RPC error code of a challenge or rejection.
	CodePaymentRequired = 402
)

// ToolResource returns the resource URL of the named tool.
func ToolResource(tool string) string {
	return "mcp://tools/" + tool
}
