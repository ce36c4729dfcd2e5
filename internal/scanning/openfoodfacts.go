package scanning

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zombor/ticketmiam/internal/nutrition"
)

// DefaultOpenFoodFactsURL is the public Open Food Facts instance
const DefaultOpenFoodFactsURL = "https://world.openfoodfacts.org"

// ProductSearcher looks up the nutritional profile of a product by free text
type ProductSearcher interface {
	// SearchProduct returns nil without error when nothing matches
	SearchProduct(ctx context.Context, query string) (*nutrition.ProductInput, error)
}

// OpenFoodFacts searches products through the Open Food Facts search API
type OpenFoodFacts struct {
	baseURL string
	client  *http.Client
}

// NewOpenFoodFacts creates a new Open Food Facts client
func NewOpenFoodFacts(baseURL string) *OpenFoodFacts {
	if baseURL == "" {
		baseURL = DefaultOpenFoodFactsURL
	}
	return &OpenFoodFacts{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type offSearchResponse struct {
	Products []offProduct `json:"products"`
}

type offProduct struct {
	ProductName     string         `json:"product_name"`
	ProductNameFR   string         `json:"product_name_fr"`
	NutritionGrades string         `json:"nutrition_grades"`
	NovaGroup       any            `json:"nova_group"`
	Nutriments      map[string]any `json:"nutriments"`
}

// SearchProduct returns the best match for query. Queries shorter than three
// characters are not searched.
func (o *OpenFoodFacts) SearchProduct(ctx context.Context, query string) (*nutrition.ProductInput, error) {
	query = strings.TrimSpace(query)
	if len(query) < 3 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("search_terms", query)
	params.Set("search_simple", "1")
	params.Set("action", "process")
	params.Set("json", "1")
	params.Set("page_size", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/cgi/search.pl?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "TicketMiam/1.0")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling open food facts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("open food facts error (status %d)", resp.StatusCode)
	}

	var result offSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Products) == 0 {
		return nil, nil
	}

	return result.Products[0].toInput(query), nil
}

func (p offProduct) toInput(query string) *nutrition.ProductInput {
	name := p.ProductNameFR
	if name == "" {
		name = p.ProductName
	}
	if name == "" {
		name = query
	}

	// nutrient values are rounded to one decimal, calories to the unit
	nutrient := func(key string, round func(float64) float64) *float64 {
		v, _ := extractFloat(p.Nutriments, key)
		v = round(v)
		return &v
	}
	one := 1.0

	return &nutrition.ProductInput{
		Name:             name,
		RawName:          query,
		Quantity:         &one,
		NutriScore:       offGrade(p.NutritionGrades),
		IsUltraProcessed: novaGroup(p.NovaGroup) == 4,
		Calories:         nutrient("energy-kcal_100g", math.Round),
		Sugar:            nutrient("sugars_100g", nutrition.Round1),
		Salt:             nutrient("salt_100g", nutrition.Round1),
		SaturatedFat:     nutrient("saturated-fat_100g", nutrition.Round1),
		Proteins:         nutrient("proteins_100g", nutrition.Round1),
		Carbs:            nutrient("carbohydrates_100g", nutrition.Round1),
		Fats:             nutrient("fat_100g", nutrition.Round1),
	}
}

// offGrade maps a-e to a Nutri-Score letter. "unknown" and "not-applicable" map to no grade.
func offGrade(g string) string {
	switch g = strings.ToLower(strings.TrimSpace(g)); g {
	case "a", "b", "c", "d", "e":
		return strings.ToUpper(g)
	}
	return ""
}

// novaGroup reads nova_group, which the API returns as a number or a string
func novaGroup(v any) int {
	f, ok := extractFloat(map[string]any{"nova_group": v}, "nova_group")
	if !ok {
		return 0
	}
	return int(f)
}

// extractFloat coerces a nutriments map value to float64.
func extractFloat(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(x, "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
