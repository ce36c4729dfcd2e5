package nutrition

import (
	"math"
	"strings"

	"github.com/google/uuid"
)

// DefaultProductName is used when neither a readable name nor receipt text is known.
const DefaultProductName = "Produit inconnu"

// Product is a single food item read from a receipt line.
// Nutritional values are per 100g.
type Product struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	RawName          string     `json:"rawName,omitempty"`
	Quantity         float64    `json:"quantity"`
	NutriScore       NutriScore `json:"nutriScore"`
	IsUltraProcessed bool       `json:"isUltraProcessed"` // NOVA 4
	Calories         float64    `json:"calories"`         // kcal
	Proteins         float64    `json:"proteins"`
	Carbs            float64    `json:"carbs"`
	Fats             float64    `json:"fats"`
	Sugar            float64    `json:"sugar"`
	Salt             float64    `json:"salt"`
	SaturatedFat     float64    `json:"saturatedFat"`
}

// ProductInput is a partially populated product as produced by an analysis
// collaborator. Nil numbers are absent.
type ProductInput struct {
	Name             string
	RawName          string
	Quantity         *float64
	NutriScore       string
	IsUltraProcessed bool
	Calories         *float64
	Proteins         *float64
	Carbs            *float64
	Fats             *float64
	Sugar            *float64
	Salt             *float64
	SaturatedFat     *float64
}

// NewProduct builds a Product with a fresh id from in. Absent numbers become 0,
// and the names of values that had to be corrected are returned.
func NewProduct(in ProductInput) (Product, []string) {
	var fixed []string
	num := func(field string, v *float64) float64 {
		if v == nil {
			return 0
		}
		clean, ok := cleanNumber(*v)
		if !ok {
			fixed = append(fixed, field)
		}
		return clean
	}

	score, ok := ParseNutriScore(in.NutriScore)
	if !ok && strings.TrimSpace(in.NutriScore) != "" {
		fixed = append(fixed, "nutriScore")
	}
	quantity := 1.0
	if in.Quantity != nil {
		quantity = *in.Quantity
	}

	p := Product{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(in.Name),
		RawName:          strings.TrimSpace(in.RawName),
		Quantity:         quantity,
		NutriScore:       score,
		IsUltraProcessed: in.IsUltraProcessed,
		Calories:         num("calories", in.Calories),
		Proteins:         num("proteins", in.Proteins),
		Carbs:            num("carbs", in.Carbs),
		Fats:             num("fats", in.Fats),
		Sugar:            num("sugar", in.Sugar),
		Salt:             num("salt", in.Salt),
		SaturatedFat:     num("saturatedFat", in.SaturatedFat),
	}
	fixed = append(fixed, p.Sanitize()...)
	return p, fixed
}

// Sanitize forces every field back into its valid range in place. Numbers must
// be finite and non-negative, quantity defaults to 1, the grade is read
// case-insensitively and must be A-E, and the product must have an id and a
// name. It returns the fields it changed.
func (p *Product) Sanitize() []string {
	var fixed []string
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"calories", &p.Calories},
		{"proteins", &p.Proteins},
		{"carbs", &p.Carbs},
		{"fats", &p.Fats},
		{"sugar", &p.Sugar},
		{"salt", &p.Salt},
		{"saturatedFat", &p.SaturatedFat},
	} {
		if clean, ok := cleanNumber(*f.v); !ok {
			*f.v = clean
			fixed = append(fixed, f.name)
		}
	}

	if q, ok := cleanNumber(p.Quantity); !ok || q == 0 {
		p.Quantity = 1
		fixed = append(fixed, "quantity")
	}
	if score, ok := ParseNutriScore(string(p.NutriScore)); ok {
		p.NutriScore = score
	} else {
		p.NutriScore = neutralScore
		fixed = append(fixed, "nutriScore")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Name == "" {
		p.Name = p.RawName
	}
	if p.Name == "" {
		p.Name = DefaultProductName
	}
	return fixed
}

// cleanNumber returns v, or 0 and false when v is NaN, infinite or negative.
func cleanNumber(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

// Round1 rounds to one decimal place, half away from zero.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
