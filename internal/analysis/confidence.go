package analysis

import (
	"strings"

	"github.com/umar7shaikh/financial-document-analyzer/pkg/schema"
)

// ExtractConfidence pulls the HIGH/MEDIUM/LOW rating out of the verification
// stage's free-text output. Extraction is defensive: the verifier is asked
// to state the rating explicitly, but when none is recognizable the job
// falls back to HIGH rather than failing.
func ExtractConfidence(text string) schema.ConfidenceRating {
	if text == "" {
		return schema.ConfidenceHigh
	}
	upper := strings.ToUpper(text)

	for _, r := range []schema.ConfidenceRating{schema.ConfidenceHigh, schema.ConfidenceMedium, schema.ConfidenceLow} {
		level := string(r)
		if strings.Contains(upper, level+" CONFIDENCE") ||
			strings.Contains(upper, "CONFIDENCE: "+level) ||
			strings.Contains(upper, "CONFIDENCE RATING: "+level) {
			return r
		}
		if strings.Contains(upper, level) &&
			(strings.Contains(upper, "CONFIDENCE") || strings.Contains(upper, "RATING")) {
			return r
		}
	}
	return schema.ConfidenceHigh
}
