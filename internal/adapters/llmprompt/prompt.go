package llmprompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/utils"
)

// System is the system message for chat style models
const System = "You are a phishing detection system for a corporate mail gateway. Respond only with JSON."

const promptFormat = `Analyze the following email and decide whether it is a phishing attempt:
credential harvesting, payment fraud, impersonation of a brand or colleague,
or a lure towards a malicious link or attachment.
Respond with a JSON object containing:
- is_phish: boolean (true if phishing, false if not)
- score: number between 0 and 1 (higher means more likely to be phishing)
- confidence: number between 0 and 1 (how confident you are in your assessment)
- explanation: string (brief explanation of the decisive signals)

Email:
From: %s
To: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

// Response is the JSON object the models are asked to produce
type Response struct {
	IsPhish     bool    `json:"is_phish"`
	Score       float64 `json:"score"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// Format renders the analysis prompt with the body truncated to maxBody bytes
func Format(email *core.Email, maxBody int, tp *utils.TextProcessor) string {
	body := email.Body
	if tp != nil {
		body = tp.ProcessText(body, maxBody)
	}
	return fmt.Sprintf(promptFormat, email.From, email.To, email.Subject, body)
}

// ParseVerdict decodes a model reply, tolerating prose around the JSON object
func ParseVerdict(text, model string) (*core.LLMVerdict, error) {
	var resp Response
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		start := strings.IndexByte(text, '{')
		end := strings.LastIndexByte(text, '}')
		if start < 0 || end <= start {
			return nil, fmt.Errorf("failed to extract JSON from LLM response: %w", err)
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &resp); err != nil {
			return nil, fmt.Errorf("failed to parse LLM response as JSON: %w", err)
		}
	}
	return &core.LLMVerdict{
		IsPhish:     resp.IsPhish,
		Score:       resp.Score,
		Confidence:  resp.Confidence,
		Explanation: resp.Explanation,
		ModelUsed:   model,
	}, nil
}
