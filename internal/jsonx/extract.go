// Package jsonx decodes JSON objects that arrive wrapped in model output.
//
// Even when a call asks for a bare JSON object, responses still show up
// fenced in markdown or framed by commentary. This package recovers the
// object portion before unmarshalling.
package jsonx

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Extract returns the JSON object portion of a model response.
// It handles the common response shapes:
// 1. Pure JSON - returned as is
// 2. JSON inside markdown fences (```json ... ```)
// 3. JSON embedded in prose - the span from the first '{' to the last '}'
//
// Limitations:
// - Only handles JSON objects, not top-level arrays
// - Uses simple brace matching, not full JSON scanning
func Extract(response string) (string, error) {
	response = stripFences(response)

	// The whole response may already be valid.
	var probe any
	if err := json.Unmarshal([]byte(response), &probe); err == nil {
		return response, nil
	}

	start := strings.Index(response, "{")
	if start != -1 {
		end := strings.LastIndex(response, "}")
		if end > start {
			candidate := response[start : end+1]
			if err := json.Unmarshal([]byte(candidate), &probe); err == nil {
				return candidate, nil
			}
		}
	}

	preview := response
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return "", fmt.Errorf("no valid JSON object in response: %q", preview)
}

// stripFences removes markdown code fence markers around a response.
// Handles ```json\n...\n``` as well as bare ``` fences.
func stripFences(response string) string {
	trimmed := strings.TrimSpace(response)

	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimSpace(trimmed)
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	if strings.HasSuffix(trimmed, "```") {
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	return trimmed
}

// Decode extracts the JSON object from a response and unmarshals it into T.
func Decode[T any](response string) (T, error) {
	var result T
	raw, err := Extract(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return result, fmt.Errorf("unmarshal extracted JSON: %w", err)
	}
	return result, nil
}

// DecodeInto extracts the JSON object from a response into a provided pointer.
// Non-generic variant for callers that build the target dynamically.
func DecodeInto(response string, v any) error {
	raw, err := Extract(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("unmarshal extracted JSON: %w", err)
	}
	return nil
}
