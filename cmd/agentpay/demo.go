package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	x402gin "github.com/Zyzgsfi/agentpay/http/gin"
)

// Demo business logic behind the paid routes. Every response reports the
// transaction that paid for it.

type demoResponse struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result"`
	Cost    string      `json:"cost"`
	TxHash  string      `json:"txHash,omitempty"`
}

func respond(c *gin.Context, cost string, result interface{}) {
	resp := demoResponse{Success: true, Result: result, Cost: cost + " USDC"}
	if payment := x402gin.GetPayment(c); payment != nil {
		resp.TxHash = payment.Proof.TxHash
	}
	c.JSON(http.StatusOK, resp)
}

func processData(now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Data interface{} `json:"data"`
		}
		_ = c.ShouldBindJSON(&in)
		processed := "NO DATA"
		if in.Data != nil {
			processed = strings.ToUpper(fmt.Sprint(in.Data))
		}
		respond(c, "0.05", gin.H{
			"original":  in.Data,
			"processed": processed,
			"timestamp": now().UTC().Format(time.RFC3339),
		})
	}
}

func aiCompute(now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		in := struct {
			Prompt string `json:"prompt"`
			Model  string `json:"model"`
		}{Model: "gpt-4"}
		_ = c.ShouldBindJSON(&in)
		respond(c, "0.10", gin.H{
			"model":     in.Model,
			"prompt":    in.Prompt,
			"response":  "AI response to: " + in.Prompt,
			"tokens":    len(strings.Fields(in.Prompt)) * 4,
			"timestamp": now().UTC().Format(time.RFC3339),
		})
	}
}

func generateImage(now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		in := struct {
			Prompt string `json:"prompt"`
			Size   string `json:"size"`
		}{Size: "512x512"}
		_ = c.ShouldBindJSON(&in)
		t := now().UTC()
		respond(c, "0.25", gin.H{
			"prompt":    in.Prompt,
			"size":      in.Size,
			"url":       fmt.Sprintf("https://example.com/generated-image-%d.png", t.UnixMilli()),
			"timestamp": t.Format(time.RFC3339),
		})
	}
}

func storeData(now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		in := struct {
			Data json.RawMessage `json:"data"`
			TTL  int             `json:"ttl"`
		}{TTL: 3600}
		_ = c.ShouldBindJSON(&in)
		t := now().UTC()
		respond(c, "0.02", gin.H{
			"id":        fmt.Sprintf("data-%d", t.UnixMilli()),
			"size":      len(in.Data),
			"ttl":       in.TTL,
			"expiresAt": t.Add(time.Duration(in.TTL) * time.Second).Format(time.RFC3339),
			"timestamp": t.Format(time.RFC3339),
		})
	}
}

func premiumData(now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Premium data accessed successfully",
			"data": gin.H{
				"timestamp": now().UTC().Format(time.RFC3339),
				"premium":   true,
				"content":   "This is premium content that requires payment",
			},
		})
	}
}
