package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	vertex "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
)

// VertexConfig holds the Vertex AI project settings
type VertexConfig struct {
	ProjectID       string
	Location        string
	Model           string
	CredentialsFile string
}

// Vertex implements the Scanner interface using Gemini on Vertex AI
type Vertex struct {
	client *vertex.Client
	model  *vertex.GenerativeModel
}

// NewVertex creates a new Vertex Scanner instance
func NewVertex(cfg VertexConfig) (*Vertex, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("vertex project id is required")
	}
	if cfg.Location == "" {
		cfg.Location = "europe-west1"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := vertex.NewClient(context.Background(), cfg.ProjectID, cfg.Location, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating vertex client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.ResponseMIMEType = "application/json"

	return &Vertex{client: client, model: model}, nil
}

// ScanReceipt analyzes a receipt and extracts its food products
func (v *Vertex) ScanReceipt(imageData []byte, contentType string) (*Analysis, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pngData, err := prepareImage(imageData, contentType)
	if err != nil {
		return nil, analysisError("preparing image", err)
	}

	resp, err := v.model.GenerateContent(ctx, vertex.ImageData("png", pngData), vertex.Text(receiptScanPrompt))
	if err != nil {
		return nil, analysisError("generating content", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, analysisError("reading response", fmt.Errorf("no response from vertex"))
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(vertex.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	analysis, err := parseAnalysisJSON(responseText.String())
	if err != nil {
		return nil, analysisError("parsing receipt data", err)
	}
	return analysis, nil
}

// Close closes the Vertex client
func (v *Vertex) Close() error {
	return v.client.Close()
}
