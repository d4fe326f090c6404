package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
)

var (
	errNotObject    = errors.New("classifier output is not a JSON object")
	errMissingLabel = errors.New("classifier output has no disease label")
)

// ParseOutput interprets the classifier's complete stdout. The document must
// be a JSON object with a non-empty string "disease" field; "confidence" is
// optional and coerced to 0 when absent, non-numeric or outside [0,1].
func ParseOutput(stdout []byte) (Outcome, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &fields); err != nil {
		return Outcome{}, malformed(stdout, err)
	}
	if fields == nil {
		return Outcome{}, malformed(stdout, errNotObject)
	}

	var label string
	raw, ok := fields["disease"]
	if !ok || json.Unmarshal(raw, &label) != nil || label == "" {
		return Outcome{}, malformed(stdout, errMissingLabel)
	}

	return Outcome{
		Label:      label,
		Confidence: coerceConfidence(fields["confidence"]),
	}, nil
}

func coerceConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0
	}
	return CoerceConfidence(value)
}

// CoerceConfidence maps anything outside [0,1] (including NaN) to 0.
func CoerceConfidence(value float64) float64 {
	if math.IsNaN(value) || value < 0 || value > 1 {
		return 0
	}
	return value
}

func malformed(stdout []byte, cause error) *InvocationError {
	return &InvocationError{
		Kind:   KindMalformedOutput,
		Detail: string(stdout),
		Cause:  cause,
	}
}
