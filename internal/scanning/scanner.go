package scanning

import (
	"errors"
	"fmt"

	"github.com/zombor/ticketmiam/internal/nutrition"
)

// ErrAnalysis wraps every failure to turn a receipt image into products.
var ErrAnalysis = errors.New("receipt analysis failed")

// Analysis is what a scanner extracts from a receipt
type Analysis struct {
	StoreName string
	Products  []nutrition.ProductInput
}

// Scanner defines the interface for receipt analysis
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts the store and its food products
	ScanReceipt(imageData []byte, contentType string) (*Analysis, error)
	// Close closes the scanner and releases resources
	Close() error
}

// analysisError wraps err with ErrAnalysis and a description of the failed step
func analysisError(step string, err error) error {
	if errors.Is(err, ErrAnalysis) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrAnalysis, step, err)
}
