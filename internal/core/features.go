package core

import "math"

// FeatureNames is the column order the classifier was trained on
var FeatureNames = []string{
	"has_suspicious_tld",
	"sender_domain_age",
	"has_display_name_mismatch",
	"subject_length",
	"body_length",
	"has_urgent_keywords",
	"has_financial_keywords",
	"num_links",
	"num_external_links",
	"has_shortened_urls",
	"has_suspicious_attachments",
	"html_to_text_ratio",
	"has_hidden_text",
	"num_images",
	"is_reply",
	"time_of_day",
	"has_spf_pass",
	"has_dkim_pass",
}

// FeatureVector is the fixed-width numeric description of an email
type FeatureVector struct {
	HasSuspiciousTLD         float64 `json:"has_suspicious_tld"`
	SenderDomainAge          float64 `json:"sender_domain_age"`
	HasDisplayNameMismatch   float64 `json:"has_display_name_mismatch"`
	SubjectLength            float64 `json:"subject_length"`
	BodyLength               float64 `json:"body_length"`
	HasUrgentKeywords        float64 `json:"has_urgent_keywords"`
	HasFinancialKeywords     float64 `json:"has_financial_keywords"`
	NumLinks                 float64 `json:"num_links"`
	NumExternalLinks         float64 `json:"num_external_links"`
	HasShortenedURLs         float64 `json:"has_shortened_urls"`
	HasSuspiciousAttachments float64 `json:"has_suspicious_attachments"`
	HTMLToTextRatio          float64 `json:"html_to_text_ratio"`
	HasHiddenText            float64 `json:"has_hidden_text"`
	NumImages                float64 `json:"num_images"`
	IsReply                  float64 `json:"is_reply"`
	TimeOfDay                float64 `json:"time_of_day"`
	HasSPFPass               float64 `json:"has_spf_pass"`
	HasDKIMPass              float64 `json:"has_dkim_pass"`
}

// Values returns the features in FeatureNames order
func (f FeatureVector) Values() []float64 {
	return []float64{
		f.HasSuspiciousTLD,
		f.SenderDomainAge,
		f.HasDisplayNameMismatch,
		f.SubjectLength,
		f.BodyLength,
		f.HasUrgentKeywords,
		f.HasFinancialKeywords,
		f.NumLinks,
		f.NumExternalLinks,
		f.HasShortenedURLs,
		f.HasSuspiciousAttachments,
		f.HTMLToTextRatio,
		f.HasHiddenText,
		f.NumImages,
		f.IsReply,
		f.TimeOfDay,
		f.HasSPFPass,
		f.HasDKIMPass,
	}
}

// Map returns the features keyed by name
func (f FeatureVector) Map() map[string]float64 {
	values := f.Values()
	m := make(map[string]float64, len(values))
	for i, name := range FeatureNames {
		m[name] = values[i]
	}
	return m
}

// FeatureVectorFromMap builds a vector from named values; unknown names are ignored and
// missing names stay zero.
func FeatureVectorFromMap(m map[string]float64) FeatureVector {
	var f FeatureVector
	ptrs := []*float64{
		&f.HasSuspiciousTLD,
		&f.SenderDomainAge,
		&f.HasDisplayNameMismatch,
		&f.SubjectLength,
		&f.BodyLength,
		&f.HasUrgentKeywords,
		&f.HasFinancialKeywords,
		&f.NumLinks,
		&f.NumExternalLinks,
		&f.HasShortenedURLs,
		&f.HasSuspiciousAttachments,
		&f.HTMLToTextRatio,
		&f.HasHiddenText,
		&f.NumImages,
		&f.IsReply,
		&f.TimeOfDay,
		&f.HasSPFPass,
		&f.HasDKIMPass,
	}
	for i, name := range FeatureNames {
		if v, ok := m[name]; ok {
			*ptrs[i] = v
		}
	}
	return f
}

// Finite reports whether every feature is a finite number
func (f FeatureVector) Finite() bool {
	for _, v := range f.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ScoreRequest is a scorer input variant: RawBodyRequest or StructuredFeaturesRequest
type ScoreRequest interface {
	scoreRequest()
}

// RawBodyRequest scores the email body text
type RawBodyRequest struct {
	EmailBody string
	// Subject and Sender are optional context for scorers that read the whole message.
	Subject string
	Sender  string
}

// StructuredFeaturesRequest scores a precomputed feature vector
type StructuredFeaturesRequest struct {
	Features FeatureVector
}

func (RawBodyRequest) scoreRequest()            {}
func (StructuredFeaturesRequest) scoreRequest() {}
