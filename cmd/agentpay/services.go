package main

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Zyzgsfi/agentpay/agent"
)

// serviceProfiles are the service sets an agent can be started with.
var serviceProfiles = map[string]func(now func() time.Time) []agent.ServiceDefinition{
	"ai":   aiServices,
	"data": dataServices,
}

func aiServices(now func() time.Time) []agent.ServiceDefinition {
	return []agent.ServiceDefinition{
		{
			Name: "text-generation", Endpoint: "/generate-text", Price: "0.15",
			Description: "Generate text using AI models",
			Handler:     generateText(now),
		},
		{
			Name: "image-analysis", Endpoint: "/analyze-image", Price: "0.20",
			Description: "Analyze images using computer vision",
			Handler:     analyzeImage(now),
		},
		{
			Name: "translation", Endpoint: "/translate", Price: "0.10",
			Description: "Translate text between languages",
			Handler:     translateText(now),
		},
		{
			Name: "sentiment-analysis", Endpoint: "/analyze-sentiment", Price: "0.07",
			Description: "Analyze sentiment of text",
			Handler:     analyzeSentiment(now),
		},
	}
}

func dataServices(now func() time.Time) []agent.ServiceDefinition {
	return []agent.ServiceDefinition{
		{
			Name: "text-processing", Endpoint: "/process-text", Price: "0.05",
			Description: "Process and analyze text data",
			Handler:     processText(now),
		},
		{
			Name: "number-crunching", Endpoint: "/crunch-numbers", Price: "0.08",
			Description: "Perform statistical analysis on numerical data",
			Handler:     crunchNumbers(now),
		},
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func generateText(now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		in := struct {
			Prompt      string  `json:"prompt"`
			MaxTokens   int     `json:"maxTokens"`
			Temperature float64 `json:"temperature"`
		}{MaxTokens: 100, Temperature: 0.7}
		if err := c.ShouldBindJSON(&in); err != nil || in.Prompt == "" {
			badRequest(c, "Prompt required")
			return
		}
		tokens := len(strings.Fields(in.Prompt)) * 4
		if tokens > in.MaxTokens {
			tokens = in.MaxTokens
		}
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"prompt":   in.Prompt,
			"response": fmt.Sprintf("Here is the AI-generated text you requested. [Prompt: %q]", in.Prompt),
			"metadata": gin.H{
				"model":       "simulated-gpt-4",
				"tokens":      tokens,
				"temperature": in.Temperature,
			},
			"timestamp": now().UTC().Format(time.RFC3339),
		})
	}
}

func analyzeImage(now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		in := struct {
			ImageURL     string `json:"imageUrl"`
			AnalysisType string `json:"analysisType"`
		}{AnalysisType: "general"}
		if err := c.ShouldBindJSON(&in); err != nil || in.ImageURL == "" {
			badRequest(c, "Image URL required")
			return
		}
		objects, colors := []string{"person", "car"}, []string{"blue"}
		if in.AnalysisType == "detailed" {
			objects = append(objects, "tree", "building", "sky")
			colors = append(colors, "green", "white")
		}
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"imageUrl":     in.ImageURL,
			"analysisType": in.AnalysisType,
			"analysis": gin.H{
				"objects":        objects,
				"dominantColors": colors,
				"resolution":     "1024x768",
				"format":         "JPEG",
			},
			"timestamp": now().UTC().Format(time.RFC3339),
		})
	}
}

var phrasebook = map[string]map[string]string{
	"hello":     {"es": "hola", "fr": "bonjour", "de": "hallo", "it": "ciao"},
	"goodbye":   {"es": "adiós", "fr": "au revoir", "de": "auf wiedersehen", "it": "ciao"},
	"thank you": {"es": "gracias", "fr": "merci", "de": "danke", "it": "grazie"},
}

func translateText(now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		in := struct {
			Text     string `json:"text"`
			FromLang string `json:"fromLang"`
			ToLang   string `json:"toLang"`
		}{FromLang: "auto", ToLang: "en"}
		if err := c.ShouldBindJSON(&in); err != nil || in.Text == "" {
			badRequest(c, "Text to translate required")
			return
		}
		translated, ok := phrasebook[strings.ToLower(in.Text)][in.ToLang]
		if !ok {
			translated = fmt.Sprintf("[%s] %s", strings.ToUpper(in.ToLang), in.Text)
		}
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"original":     in.Text,
			"translated":   translated,
			"fromLanguage": in.FromLang,
			"toLanguage":   in.ToLang,
			"timestamp":    now().UTC().Format(time.RFC3339),
		})
	}
}

var (
	positiveWords = map[string]bool{"good": true, "great": true, "excellent": true, "amazing": true, "wonderful": true, "fantastic": true, "love": true}
	negativeWords = map[string]bool{"bad": true, "terrible": true, "awful": true, "horrible": true, "disgusting": true, "hate": true}
)

// sentiment scores text in [-0.9, 0.9] by counting polar words.
func sentiment(text string) (label string, score float64, positive, negative, total int) {
	words := strings.Fields(strings.ToLower(text))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:")
		if positiveWords[w] {
			positive++
		}
		if negativeWords[w] {
			negative++
		}
	}
	switch {
	case positive > negative:
		score = 0.5 + float64(positive-negative)*0.1
		if score > 0.9 {
			score = 0.9
		}
		return "positive", score, positive, negative, len(words)
	case negative > positive:
		score = -0.5 - float64(negative-positive)*0.1
		if score < -0.9 {
			score = -0.9
		}
		return "negative", score, positive, negative, len(words)
	default:
		return "neutral", 0, positive, negative, len(words)
	}
}

func analyzeSentiment(now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Text string `json:"text"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || in.Text == "" {
			badRequest(c, "Text required for sentiment analysis")
			return
		}
		label, score, pos, neg, total := sentiment(in.Text)
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"text":      in.Text,
			"sentiment": label,
			"score":     score,
			"details": gin.H{
				"positiveWords": pos,
				"negativeWords": neg,
				"totalWords":    total,
			},
			"timestamp": now().UTC().Format(time.RFC3339),
		})
	}
}

func processText(now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		in := struct {
			Text      string `json:"text"`
			Operation string `json:"operation"`
		}{Operation: "analyze"}
		if err := c.ShouldBindJSON(&in); err != nil || in.Text == "" {
			badRequest(c, "Text input required")
			return
		}

		var result gin.H
		switch in.Operation {
		case "analyze":
			sentences := strings.FieldsFunc(in.Text, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
			label, _, _, _, _ := sentiment(in.Text)
			result = gin.H{
				"wordCount": len(strings.Fields(in.Text)),
				"charCount": len(in.Text),
				"sentences": len(sentences),
				"sentiment": label,
			}
		case "uppercase":
			result = gin.H{"processed": strings.ToUpper(in.Text)}
		case "lowercase":
			result = gin.H{"processed": strings.ToLower(in.Text)}
		case "reverse":
			r := []rune(in.Text)
			for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
				r[i], r[j] = r[j], r[i]
			}
			result = gin.H{"processed": string(r)}
		default:
			badRequest(c, "Invalid operation")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"operation": in.Operation,
			"input":     in.Text,
			"result":    result,
			"timestamp": now().UTC().Format(time.RFC3339),
		})
	}
}

func crunchNumbers(now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Numbers []float64 `json:"numbers"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || len(in.Numbers) == 0 {
			badRequest(c, "Array of numbers required")
			return
		}
		sorted := append([]float64(nil), in.Numbers...)
		sort.Float64s(sorted)
		var sum float64
		for _, n := range sorted {
			sum += n
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"result": gin.H{
				"count":  len(sorted),
				"sum":    sum,
				"mean":   sum / float64(len(sorted)),
				"median": sorted[len(sorted)/2],
				"min":    sorted[0],
				"max":    sorted[len(sorted)-1],
			},
			"timestamp": now().UTC().Format(time.RFC3339),
		})
	}
}
