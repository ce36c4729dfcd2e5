package scanning

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zombor/ticketmiam/internal/nutrition"
)

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
)

func responseSchema() *jsonschema.Schema {
	compileOnce.Do(func() {
		compiledSchema = jsonschema.MustCompileString("analysis.json", analysisSchema)
	})
	return compiledSchema
}

// extractJSONObject strips markdown fences and any text around the outermost object
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// parseAnalysisJSON parses a model response into an Analysis. The shape is
// validated against analysisSchema; individual values are decoded leniently.
func parseAnalysisJSON(text string) (*Analysis, error) {
	text, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if err := responseSchema().Validate(doc); err != nil {
		return nil, fmt.Errorf("json does not match schema: %w", err)
	}

	root := doc.(map[string]any)
	analysis := &Analysis{
		StoreName: strings.TrimSpace(asString(root["storeName"])),
	}
	if analysis.StoreName == "" {
		analysis.StoreName = nutrition.DefaultStoreName
	}

	items, _ := root["products"].([]any)
	analysis.Products = make([]nutrition.ProductInput, 0, len(items))
	for _, item := range items {
		p := item.(map[string]any)
		analysis.Products = append(analysis.Products, nutrition.ProductInput{
			Name:             asString(p["name"]),
			RawName:          asString(p["rawName"]),
			Quantity:         asNumber(p["quantity"]),
			NutriScore:       asString(p["nutriScore"]),
			IsUltraProcessed: asBool(p["isUltraProcessed"]),
			Calories:         asNumber(p["calories"]),
			Sugar:            asNumber(p["sugar"]),
			Salt:             asNumber(p["salt"]),
			SaturatedFat:     asNumber(p["saturatedFat"]),
			Proteins:         asNumber(p["proteins"]),
			Carbs:            asNumber(p["carbs"]),
			Fats:             asNumber(p["fats"]),
		})
	}
	return analysis, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asNumber accepts numbers and numeric strings ("4,5", "12 g"); anything else is absent
func asNumber(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimRight(s, "gkcalKCAL% ")
		s = strings.ReplaceAll(s, ",", ".")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	}
	return nil
}

// asBool reads a flag; a number is taken as a NOVA group and only 4 is ultra-processed
func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	case float64:
		return t == 4
	}
	return false
}
