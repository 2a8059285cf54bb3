// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "bare object",
			text: `{"isFood": true}`,
			want: `{"isFood": true}`,
		},
		{
			name: "markdown fence",
			text: "```json\n{\"isFood\": true}\n```",
			want: `{"isFood": true}`,
		},
		{
			name: "leading and trailing prose",
			text: `Sure! Here is the analysis: {"isFood": false} Hope that helps.`,
			want: `{"isFood": false}`,
		},
		{
			name: "nested objects",
			text: `{"flags": {"mixedPlate": true}}`,
			want: `{"flags": {"mixedPlate": true}}`,
		},
		{
			name: "braces inside strings",
			text: `{"reasoning": "uses {curly} notation"} trailing`,
			want: `{"reasoning": "uses {curly} notation"}`,
		},
		{
			name: "escaped quotes inside strings",
			text: `{"reasoning": "a \"quoted\" word"}`,
			want: `{"reasoning": "a \"quoted\" word"}`,
		},
		{
			name: "first of several objects",
			text: `{"a": 1} {"b": 2}`,
			want: `{"a": 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSON_NoObject(t *testing.T) {
	for _, text := range []string{"", "no json here", "unbalanced {", "} backwards {"} {
		_, err := ExtractJSON(text)
		assert.Error(t, err, "text %q", text)
	}
}

func TestParseResult_Valid(t *testing.T) {
	text := "```json\n" + `{
		"mealType": "dinner",
		"energyBand": "heavy",
		"confidence": "high",
		"reasoning": "Fried dough and sugar glaze make this very energy dense.",
		"flags": {"mixedPlate": false, "unclearPortions": false, "sharedDish": false},
		"insight": "High sugar punch for dinner."
	}` + "\n```"

	result, err := parseResult(text)
	require.NoError(t, err)
	assert.Equal(t, MealDinner, result.MealType)
	assert.Equal(t, EnergyHeavy, result.EnergyBand)
	assert.Equal(t, ConfidenceHigh, result.Confidence)
	assert.NotEmpty(t, result.Insight)
}

func TestParseResult_RejectsUnknownEnum(t *testing.T) {
	// Model output is untrusted: values outside the closed enums fail.
	text := `{"mealType": "brunch", "energyBand": "heavy", "confidence": "high"}`
	_, err := parseResult(text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mealType")
}

func TestParseResult_RejectsProseOnly(t *testing.T) {
	_, err := parseResult("The meal appears to be a hearty dinner.")
	assert.Error(t, err)
}

func TestParseTierOne(t *testing.T) {
	pre, err := parseTierOne(`Here you go: {"isFood": true, "confidence": "medium"}`)
	require.NoError(t, err)
	assert.True(t, pre.IsFood)
	assert.Equal(t, ConfidenceMedium, pre.Confidence)

	pre, err = parseTierOne(`{"isFood": false, "confidence": "high"}`)
	require.NoError(t, err)
	assert.False(t, pre.IsFood)
}

func TestResultValidate(t *testing.T) {
	valid := Result{MealType: MealLunch, EnergyBand: EnergyLight, Confidence: ConfidenceLow}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.EnergyBand = "enormous"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Confidence = ""
	assert.Error(t, bad.Validate())
}
