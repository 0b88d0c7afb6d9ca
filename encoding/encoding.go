// Package encoding converts x402 header values to and from their wire form.
//
// Header values are plain JSON. DecodeProof also accepts base64-encoded
// JSON, which some x402 clients send.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	x402 "github.com/Zyzgsfi/agentpay"
)

// EncodeProof converts a PaymentProof to the X-Payment header value.
func EncodeProof(proof x402.PaymentProof) (string, error) {
	data, err := json.Marshal(proof)
	if err != nil {
		return "", fmt.Errorf("failed to marshal proof: %w", err)
	}
	return string(data), nil
}

// DecodeProof parses an X-Payment header value. Unknown fields are ignored.
// The result is only structurally decoded; field checks are the caller's job.
func DecodeProof(header string) (x402.PaymentProof, error) {
	var proof x402.PaymentProof

	raw, err := headerBytes(header)
	if err != nil {
		return proof, err
	}
	if err := json.Unmarshal(raw, &proof); err != nil {
		return proof, fmt.Errorf("failed to unmarshal proof: %w", err)
	}
	return proof, nil
}

// EncodeReceipt converts a VerificationReceipt to the X-Payment-Response header value.
func EncodeReceipt(receipt x402.VerificationReceipt) (string, error) {
	data, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return string(data), nil
}

// DecodeReceipt parses an X-Payment-Response header value.
func DecodeReceipt(header string) (x402.VerificationReceipt, error) {
	var receipt x402.VerificationReceipt
	if err := json.Unmarshal([]byte(header), &receipt); err != nil {
		return receipt, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	return receipt, nil
}

// DecodeRequirements parses a 402 response body.
func DecodeRequirements(body []byte) (x402.PaymentRequired, error) {
	var required x402.PaymentRequired
	if err := json.Unmarshal(body, &required); err != nil {
		return required, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}
	return required, nil
}

func headerBytes(header string) ([]byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty header")
	}
	if strings.HasPrefix(header, "{") {
		return []byte(header), nil
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("header is neither JSON nor base64: %w", err)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(decoded), []byte("{")) {
		return nil, fmt.Errorf("decoded header is not a JSON object")
	}
	return decoded, nil
}
