package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"
)

// UnknownStoreName is used when OCR finds no text at all
const UnknownStoreName = "Magasin Inconnu"

// maxLocalQueries bounds the number of product lookups per receipt
const maxLocalQueries = 10

var (
	pricePattern    = regexp.MustCompile(`\d+[,.]\d{2}`)
	symbolPattern   = regexp.MustCompile(`(?i)[€$*]|( x\d+)`)
	longCodePattern = regexp.MustCompile(`\b\d{4,}\b`)
	numberPattern   = regexp.MustCompile(`\b\d+\b`)
	stopwordPattern = regexp.MustCompile(`(?i)TOTAL|TVA|EURO|CARTE|MERCI|MAGASIN|REMISE|PAIEMENT|ARTICLES`)
)

// LocalConfig holds the settings of the offline scanner
type LocalConfig struct {
	TesseractPath string
	Language      string
}

// Local implements the Scanner interface with tesseract OCR and a product
// database lookup per receipt line
type Local struct {
	tesseract string
	language  string
	runner    Runner
	searcher  ProductSearcher
}

// NewLocal creates a new Local Scanner instance
func NewLocal(cfg LocalConfig, searcher ProductSearcher) (*Local, error) {
	return NewLocalWithRunner(cfg, searcher, execRunner{})
}

// NewLocalWithRunner creates a Local Scanner that runs tesseract through runner
func NewLocalWithRunner(cfg LocalConfig, searcher ProductSearcher, runner Runner) (*Local, error) {
	if searcher == nil {
		return nil, fmt.Errorf("product searcher is required")
	}
	if cfg.TesseractPath == "" {
		cfg.TesseractPath = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "fra"
	}
	return &Local{
		tesseract: cfg.TesseractPath,
		language:  cfg.Language,
		runner:    runner,
		searcher:  searcher,
	}, nil
}

// ScanReceipt reads the receipt text and looks up every plausible product line
func (l *Local) ScanReceipt(imageData []byte, contentType string) (*Analysis, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	pngData, err := prepareImage(imageData, contentType)
	if err != nil {
		return nil, analysisError("preparing image", err)
	}

	lines, err := l.recognize(ctx, pngData)
	if err != nil {
		return nil, analysisError("running ocr", err)
	}

	analysis := &Analysis{StoreName: UnknownStoreName}
	if len(lines) > 0 {
		analysis.StoreName = lines[0]
	}

	for _, query := range receiptQueries(lines) {
		input, err := l.searcher.SearchProduct(ctx, query)
		if err != nil {
			slog.Warn("product lookup failed", "query", query, "error", err)
			continue
		}
		if input != nil {
			analysis.Products = append(analysis.Products, *input)
		}
	}

	slog.Info("local scan complete", "lines", len(lines), "products", len(analysis.Products))
	return analysis, nil
}

// recognize runs tesseract on the image and returns its non-blank lines
func (l *Local) recognize(ctx context.Context, pngData []byte) ([]string, error) {
	f, err := os.CreateTemp("", "ticketmiam-*.png")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(pngData); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing temp file: %w", err)
	}

	stdout, stderr, err := l.runner.Run(ctx, l.tesseract, f.Name(), "stdout", "-l", l.language)
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w: %s", err, truncate(string(stderr), 512))
	}

	var lines []string
	for _, line := range strings.Split(string(stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// cleanLine strips prices, multipliers, codes and bare numbers from a receipt line
func cleanLine(line string) string {
	cleaned := pricePattern.ReplaceAllString(line, "")
	cleaned = symbolPattern.ReplaceAllString(cleaned, "")
	cleaned = longCodePattern.ReplaceAllString(cleaned, "")
	cleaned = numberPattern.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// receiptQueries turns OCR lines into at most maxLocalQueries distinct product searches
func receiptQueries(lines []string) []string {
	seen := make(map[string]bool)
	var queries []string
	for _, line := range lines {
		q := cleanLine(line)
		if len(q) <= 4 || stopwordPattern.MatchString(q) || seen[q] {
			continue
		}
		seen[q] = true
		queries = append(queries, q)
		if len(queries) == maxLocalQueries {
			break
		}
	}
	return queries
}

// Close is a no-op for the local scanner
func (l *Local) Close() error {
	return nil
}
