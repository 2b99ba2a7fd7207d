package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type emailPayload struct {
	Sender    string       `json:"sender"`
	Recipient string       `json:"recipient"`
	Subject   string       `json:"subject"`
	Body      string       `json:"body"`
	Headers   headerValues `json:"headers"`
	Raw       string       `json:"raw"`
}

// headerValues accepts both {"To": "a"} and {"To": ["a", "b"]}
type headerValues map[string][]string

func (h *headerValues) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(map[string][]string, len(raw))
	for k, v := range raw {
		var list []string
		if err := json.Unmarshal(v, &list); err == nil {
			out[k] = list
			continue
		}
		var single string
		if err := json.Unmarshal(v, &single); err != nil {
			return fmt.Errorf("header %q: %w", k, err)
		}
		out[k] = []string{single}
	}
	*h = out
	return nil
}

// DecodeEmails normalizes a bare email object, {"emails": [...]} or a JSON array
// into a list of emails owned by userID.
func DecodeEmails(data []byte, userID string) ([]*Email, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInputInvalid)
	}

	var items []emailPayload
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		if list, ok := envelope["emails"]; ok {
			if err := json.Unmarshal(list, &items); err != nil {
				return nil, fmt.Errorf("%w: emails: %v", ErrInputInvalid, err)
			}
		} else {
			var single emailPayload
			if err := json.Unmarshal(data, &single); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
			}
			items = []emailPayload{single}
		}
	default:
		return nil, fmt.Errorf("%w: payload must be an object or an array", ErrInputInvalid)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no emails in payload", ErrInputInvalid)
	}

	emails := make([]*Email, 0, len(items))
	for _, it := range items {
		e := &Email{
			From:    it.Sender,
			To:      it.Recipient,
			Subject: it.Subject,
			Body:    it.Body,
			Headers: it.Headers,
			UserID:  userID,
		}
		if it.Raw != "" {
			e.Raw = []byte(it.Raw)
		}
		emails = append(emails, e)
	}
	return emails, nil
}

type scoreRequestPayload struct {
	Type      string             `json:"type"`
	EmailBody string             `json:"email_body"`
	Features  map[string]float64 `json:"features"`
}

// DecodeScoreRequests decodes {"requests": [...]} into tagged scorer requests.
// A request without a type is a raw body request when email_body is set.
func DecodeScoreRequests(data []byte) ([]ScoreRequest, error) {
	var envelope struct {
		Requests []scoreRequestPayload `json:"requests"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
	}
	if len(envelope.Requests) == 0 {
		return nil, fmt.Errorf("%w: no requests", ErrInputInvalid)
	}

	reqs := make([]ScoreRequest, 0, len(envelope.Requests))
	for i, p := range envelope.Requests {
		switch {
		case p.Type == "structured_features" || (p.Type == "" && p.Features != nil):
			reqs = append(reqs, StructuredFeaturesRequest{Features: FeatureVectorFromMap(p.Features)})
		case p.Type == "raw_body" || (p.Type == "" && p.EmailBody != ""):
			reqs = append(reqs, RawBodyRequest{EmailBody: p.EmailBody})
		default:
			return nil, fmt.Errorf("%w: request %d has unknown type %q", ErrInputInvalid, i, p.Type)
		}
	}
	return reqs, nil
}
