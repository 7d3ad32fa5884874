package openapi

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"
)

// weiDigits is the minimum digit count at which an integer value is treated
// as a 10^18-scaled on-chain amount. 10^15 wei is 0.001 of a token; anything
// shorter is assumed to already be in display units.
const weiDigits = 16

var weiScale = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// descaleWei rewrites 10^18-scaled integer amounts in a JSON body into token
// units before the model sees them. Explorers return wei as decimal strings
// (and occasionally bare numbers); dividing here is a documented contract of
// every provider-specific resolver, so the summary never shows raw wei. A
// body that is not valid JSON is passed through untouched.
func descaleWei(body []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return body
	}
	out, err := json.Marshal(descaleValue(v))
	if err != nil {
		return body
	}
	return out
}

func descaleValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = descaleValue(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = descaleValue(child)
		}
		return t
	case string:
		if scaled, ok := descaleString(t); ok {
			return scaled
		}
		return t
	case json.Number:
		if scaled, ok := descaleString(t.String()); ok {
			return scaled
		}
		return t
	default:
		return v
	}
}

// descaleString divides an all-digit string of at least weiDigits digits by
// 10^18, returning a plain decimal rendering.
func descaleString(s string) (string, bool) {
	trimmed := strings.TrimPrefix(s, "-")
	if len(trimmed) < weiDigits {
		return "", false
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	f, ok := new(big.Float).SetString(s)
	if !ok {
		return "", false
	}
	scaled := new(big.Float).Quo(f, weiScale)
	return strings.TrimRight(strings.TrimRight(scaled.Text('f', 6), "0"), "."), true
}
