package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// tokenPattern matches runs of two or more word characters
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Vectorizer is a fitted TF-IDF transform exported by the trainer
type Vectorizer struct {
	Vocabulary  map[string]int `json:"vocabulary"`
	IDF         []float64      `json:"idf"`
	NgramRange  [2]int         `json:"ngram_range"`
	SublinearTF bool           `json:"sublinear_tf"`
	Norm        string         `json:"norm"`
	Lowercase   *bool          `json:"lowercase,omitempty"`
	StopWords   []string       `json:"stop_words,omitempty"`

	stop map[string]struct{}
}

func (v *Vectorizer) validate() error {
	if len(v.Vocabulary) == 0 {
		return fmt.Errorf("vectorizer has an empty vocabulary")
	}
	if len(v.IDF) == 0 {
		return fmt.Errorf("vectorizer has no idf weights")
	}
	for term, idx := range v.Vocabulary {
		if idx < 0 || idx >= len(v.IDF) {
			return fmt.Errorf("vocabulary term %q has index %d outside idf range %d", term, idx, len(v.IDF))
		}
	}
	if v.NgramRange[0] <= 0 {
		v.NgramRange[0] = 1
	}
	if v.NgramRange[1] < v.NgramRange[0] {
		v.NgramRange[1] = v.NgramRange[0]
	}
	if v.Norm == "" {
		v.Norm = "l2"
	}
	v.stop = make(map[string]struct{}, len(v.StopWords))
	for _, w := range v.StopWords {
		v.stop[w] = struct{}{}
	}
	return nil
}

// Dim is the width of the produced vectors
func (v *Vectorizer) Dim() int {
	return len(v.IDF)
}

// Tokens splits text into normalized terms
func (v *Vectorizer) Tokens(text string) []string {
	text = norm.NFC.String(text)
	if v.Lowercase == nil || *v.Lowercase {
		// a Caser holds state and is not shared between goroutines
		text = cases.Lower(language.Und).String(text)
	}
	words := tokenPattern.FindAllString(text, -1)
	if len(v.stop) == 0 {
		return words
	}
	kept := words[:0]
	for _, w := range words {
		if _, ok := v.stop[w]; !ok {
			kept = append(kept, w)
		}
	}
	return kept
}

// Transform returns the sparse TF-IDF vector of text as index to weight
func (v *Vectorizer) Transform(text string) map[int]float64 {
	words := v.Tokens(text)
	counts := make(map[int]float64)
	for n := v.NgramRange[0]; n <= v.NgramRange[1]; n++ {
		for i := 0; i+n <= len(words); i++ {
			term := words[i]
			if n > 1 {
				term = strings.Join(words[i:i+n], " ")
			}
			if idx, ok := v.Vocabulary[term]; ok {
				counts[idx]++
			}
		}
	}

	var sumSquares, sumAbs float64
	for idx, tf := range counts {
		if v.SublinearTF {
			tf = 1 + math.Log(tf)
		}
		w := tf * v.IDF[idx]
		counts[idx] = w
		sumSquares += w * w
		sumAbs += math.Abs(w)
	}

	switch v.Norm {
	case "l2":
		if sumSquares > 0 {
			n := math.Sqrt(sumSquares)
			for idx := range counts {
				counts[idx] /= n
			}
		}
	case "l1":
		if sumAbs > 0 {
			for idx := range counts {
				counts[idx] /= sumAbs
			}
		}
	}
	return counts
}

// Scaler is a fitted standard scaler
type Scaler struct {
	Scale []float64 `json:"scale"`
	Mean  []float64 `json:"mean,omitempty"`
}

func (s *Scaler) validate(dim int) error {
	if len(s.Scale) != dim {
		return fmt.Errorf("scaler width %d does not match vectorizer width %d", len(s.Scale), dim)
	}
	if len(s.Mean) > 0 && len(s.Mean) != dim {
		return fmt.Errorf("scaler mean width %d does not match vectorizer width %d", len(s.Mean), dim)
	}
	return nil
}

// Dense scales a sparse vector into a dense row
func (s *Scaler) Dense(sparse map[int]float64) []float64 {
	row := make([]float64, len(s.Scale))
	if len(s.Mean) > 0 {
		for i := range row {
			row[i] = -s.Mean[i]
		}
	}
	for idx, v := range sparse {
		row[idx] += v
	}
	for i := range row {
		if s.Scale[i] != 0 {
			row[i] /= s.Scale[i]
		}
	}
	return row
}
