package nutrition

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultStoreName is shown when the store could not be read from the receipt.
	DefaultStoreName = "Mon Magasin"

	// DisplayDateLayout formats the display date the way the app shows it (fr-FR).
	DisplayDateLayout = "02/01/2006"
)

// ScanResult is one analysed receipt. Its grade and summary are derived from
// its products and recomputed on every change; they cannot be set directly.
type ScanResult struct {
	ID        string
	CreatedAt time.Time
	Date      string
	StoreName string

	products   []Product
	totalScore NutriScore
	summary    Summary
}

// NewScanResult builds a result for products and computes its grade and summary.
func NewScanResult(id string, createdAt time.Time, storeName string, products []Product) *ScanResult {
	storeName = strings.TrimSpace(storeName)
	if storeName == "" {
		storeName = DefaultStoreName
	}
	r := &ScanResult{
		ID:        id,
		CreatedAt: createdAt.Round(0).UTC(),
		Date:      createdAt.Format(DisplayDateLayout),
		StoreName: storeName,
	}
	r.SetProducts(products)
	return r
}

// Products returns a copy of the products in receipt order.
func (r *ScanResult) Products() []Product {
	return slices.Clone(r.products)
}

// TotalScore is the basket grade.
func (r *ScanResult) TotalScore() NutriScore {
	return r.totalScore
}

// Summary is the basket summary.
func (r *ScanResult) Summary() Summary {
	return r.summary
}

// SetProducts replaces the products with sanitized copies and recomputes the
// grade and summary.
func (r *ScanResult) SetProducts(products []Product) {
	r.products = make([]Product, len(products))
	copy(r.products, products)
	for i := range r.products {
		r.products[i].Sanitize()
	}
	r.totalScore, r.summary = Aggregate(r.products)
}

// CycleProductScore moves a product's grade to the next one in the A-E cycle,
// as a manual override, and recomputes the basket.
func (r *ScanResult) CycleProductScore(productID string) (NutriScore, error) {
	for i := range r.products {
		if r.products[i].ID != productID {
			continue
		}
		r.products[i].NutriScore = r.products[i].NutriScore.Next()
		r.totalScore, r.summary = Aggregate(r.products)
		return r.products[i].NutriScore, nil
	}
	return "", fmt.Errorf("product not found: %s", productID)
}

// Clone returns a deep copy of r with its grade and summary recomputed.
func (r *ScanResult) Clone() *ScanResult {
	c := *r
	c.SetProducts(r.products)
	return &c
}

// scanResultJSON is the persisted and served shape of a ScanResult.
type scanResultJSON struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"createdAt"`
	Timestamp  int64      `json:"timestamp"` // unix milliseconds
	Date       string     `json:"date"`
	StoreName  string     `json:"storeName"`
	Products   []Product  `json:"products"`
	TotalScore NutriScore `json:"totalScore"`
	Summary    Summary    `json:"summary"`
}

func (r *ScanResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(scanResultJSON{
		ID:         r.ID,
		CreatedAt:  r.CreatedAt,
		Timestamp:  r.CreatedAt.UnixMilli(),
		Date:       r.Date,
		StoreName:  r.StoreName,
		Products:   r.Products(),
		TotalScore: r.totalScore,
		Summary:    r.summary,
	})
}

// UnmarshalJSON ignores any stored grade and summary and recomputes them from
// the sanitized products.
func (r *ScanResult) UnmarshalJSON(data []byte) error {
	var raw scanResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		return fmt.Errorf("scan result without id")
	}

	createdAt := raw.CreatedAt
	if createdAt.IsZero() && raw.Timestamp > 0 {
		createdAt = time.UnixMilli(raw.Timestamp).UTC()
	}
	for i := range raw.Products {
		raw.Products[i].Sanitize()
	}

	*r = ScanResult{
		ID:        raw.ID,
		CreatedAt: createdAt,
		Date:      raw.Date,
		StoreName: raw.StoreName,
	}
	if r.Date == "" {
		r.Date = createdAt.Format(DisplayDateLayout)
	}
	if strings.TrimSpace(r.StoreName) == "" {
		r.StoreName = DefaultStoreName
	}
	r.SetProducts(raw.Products)
	return nil
}
