// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
)

// tierOnePrompt is the minimal-cost "is this food?" pre-filter contract.
// It gates the expensive detailed analysis: a negative answer short-circuits
// the pipeline without counting as a failure.
const tierOnePrompt = `Look at this image and decide whether it shows food or drink intended for eating.

Return STRICT JSON, nothing else:
{
    "isFood": true | false,
    "confidence": "high" | "medium" | "low"
}`

// tierTwoPrompt is the decisive-classification contract for the detailed
// analysis. The explicit thresholds and the bias against "moderate" exist
// because vision models otherwise hedge toward the middle band.
const tierTwoPrompt = `Analyze this food image for a "Meal Insights" app (Aperioesca).

GOAL: Classify the "Energy Density" relative to a standard adult meal.
CRITICAL INSTRUCTION: Be decisive. Do NOT default to "moderate".
- If it has obvious carbs, fats, or large portions -> HEAVY.
- If it is mostly veg/lean protein -> LIGHT.
- Only use MODERATE if it's a truly balanced, standard portion.

Return STRICT JSON:
{
    "mealType": "breakfast" | "lunch" | "dinner" | "snack",
    "energyBand": "very_light" (<300kcal) | "light" (300-500) | "moderate" (500-800) | "heavy" (800-1200) | "very_heavy" (>1200),
    "confidence": "high" (clear items) | "medium" (hidden ingredients) | "low" (cluttered/blurry),
    "reasoning": "Short (1 sentence) explanation. Focus on 'Why'. E.g. 'Fried dough and sugar glaze make this very energy dense.'",
    "flags": {
        "mixedPlate": boolean,
        "unclearPortions": boolean,
        "sharedDish": boolean
    },
    "insight": "One interesting observation about the macro balance. E.g. 'High sugar punch for breakfast.'"
}`

// errNoJSON is returned when no balanced JSON object is found in a model
// response.
var errNoJSON = errors.New("no JSON object found in response")

// ExtractJSON returns the first balanced {...} object inside text.
//
// Provider responses are frequently wrapped in markdown fences or padded
// with leading and trailing prose. Rather than stripping known wrappers,
// this scans for the first brace and tracks nesting depth, honoring string
// literals and escapes so braces inside strings do not terminate the scan.
func ExtractJSON(text string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if start >= 0 && inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start >= 0 {
				depth--
				if depth == 0 {
					return text[start : i+1], nil
				}
			}
		case '"':
			if start >= 0 {
				inString = true
			}
		}
	}
	return "", errNoJSON
}

// parseResult extracts and decodes a detailed analysis from raw model text.
//
// Any failure here is an INVALID_RESPONSE condition: the upstream answered,
// but not with the contract we asked for.
func parseResult(text string) (*Result, error) {
	blob, err := ExtractJSON(text)
	if err != nil {
		return nil, fmt.Errorf("malformed analysis response: %w", err)
	}
	var result Result
	if err := json.Unmarshal([]byte(blob), &result); err != nil {
		return nil, fmt.Errorf("parse analysis JSON: %w", err)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("analysis JSON out of contract: %w", err)
	}
	return &result, nil
}

// parseTierOne extracts and decodes a tier-1 classification from raw model
// text.
func parseTierOne(text string) (*TierOneResult, error) {
	blob, err := ExtractJSON(text)
	if err != nil {
		return nil, fmt.Errorf("malformed classification response: %w", err)
	}
	var result TierOneResult
	if err := json.Unmarshal([]byte(blob), &result); err != nil {
		return nil, fmt.Errorf("parse classification JSON: %w", err)
	}
	return &result, nil
}
