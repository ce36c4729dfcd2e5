package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = geminiAnalysisSchema()

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// geminiAnalysisSchema constrains the structured output to the shape parseAnalysisJSON expects
func geminiAnalysisSchema() *genai.Schema {
	number := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeNumber, Description: desc, Nullable: true}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"storeName": {Type: genai.TypeString, Description: "Store brand name"},
			"products": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name":             {Type: genai.TypeString, Description: "Clear, readable product name"},
						"rawName":          {Type: genai.TypeString, Description: "Line text as printed on the receipt"},
						"quantity":         number("Quantity or approximate weight"),
						"nutriScore":       {Type: genai.TypeString, Enum: []string{"A", "B", "C", "D", "E"}, Description: "Estimated Nutri-Score"},
						"isUltraProcessed": {Type: genai.TypeBoolean, Description: "True for ultra-processed products (NOVA 4)"},
						"calories":         number("kcal per 100g"),
						"sugar":            number("Sugar in g per 100g"),
						"salt":             number("Salt in g per 100g"),
						"saturatedFat":     number("Saturated fat in g per 100g"),
						"proteins":         number("Proteins in g per 100g"),
						"carbs":            number("Carbohydrates in g per 100g"),
						"fats":             number("Fats in g per 100g"),
					},
					Required: []string{"name", "nutriScore", "isUltraProcessed", "calories", "sugar", "salt", "saturatedFat", "proteins", "carbs", "fats"},
				},
			},
		},
		Required: []string{"storeName", "products"},
	}
}

// ScanReceipt analyzes a receipt and extracts its food products
func (g *Gemini) ScanReceipt(imageData []byte, contentType string) (*Analysis, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pngData, err := prepareImage(imageData, contentType)
	if err != nil {
		return nil, analysisError("preparing image", err)
	}

	// genai.ImageData expects just the format suffix, and everything is PNG after prepareImage
	resp, err := g.model.GenerateContent(ctx, genai.ImageData("png", pngData), genai.Text(receiptScanPrompt))
	if err != nil {
		return nil, analysisError("generating content", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, analysisError("reading response", fmt.Errorf("no response from gemini"))
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	analysis, err := parseAnalysisJSON(responseText.String())
	if err != nil {
		return nil, analysisError("parsing receipt data", err)
	}
	return analysis, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
