// Package metadata is the client for the upstream metadata catalog API.
//
// Information Hiding:
// - Upstream base URL, API version prefix and key header
// - Query parameter hygiene for forwarded requests
// - Body parsing quirks (notice bodies, unparseable payloads)

package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Result is a decoded result-set body from the upstream API.
type Result struct {
	Results []any `json:"results"`
}

// Message is a decoded upstream notice, usually an error explanation sent
// in place of results.
type Message struct {
	Message string `json:"message"`
}

const messageKey = "message"

// ParseBody decodes an upstream response body. Exactly one of the returned
// values is non-nil: a JSON object carrying any top-level "message" key
// (matched case-insensitively) parses as a *Message, everything else as a
// *Result. Unparseable bodies yield an empty Result rather than an error;
// the upstream contract is fail-open on malformed payloads.
func ParseBody(body []byte) (*Result, *Message) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return &Result{Results: []any{}}, nil
	}

	switch v := decoded.(type) {
	case map[string]any:
		for k, val := range v {
			if strings.EqualFold(k, messageKey) {
				return nil, &Message{Message: stringify(val)}
			}
		}
		var result Result
		if err := json.Unmarshal(body, &result); err != nil {
			return &Result{Results: []any{}}, nil
		}
		if result.Results == nil {
			result.Results = []any{}
		}
		return &result, nil
	case []any:
		// Some endpoints reply with a bare list; treat it as the result set.
		return &Result{Results: v}, nil
	default:
		return &Result{Results: []any{}}, nil
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
