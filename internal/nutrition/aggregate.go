package nutrition

import "math"

// Summary is the basket-level numeric digest of a scan.
type Summary struct {
	TotalCalories   int     `json:"totalCalories"`
	AvgSugar        float64 `json:"avgSugar"`
	AvgSalt         float64 `json:"avgSalt"`
	AvgSaturatedFat float64 `json:"avgSaturatedFat"`
	ProcessedRatio  int     `json:"processedRatio"` // percentage of ultra-processed products
}

// MacroTotals are the summed macronutrients of a basket, fed to the macro chart.
type MacroTotals struct {
	Proteins float64 `json:"proteins"`
	Carbs    float64 `json:"carbs"`
	Fats     float64 `json:"fats"`
}

// MacroShares is the percentage split of MacroTotals.
type MacroShares struct {
	Proteins float64 `json:"proteins"`
	Carbs    float64 `json:"carbs"`
	Fats     float64 `json:"fats"`
}

// Aggregate computes the basket grade and summary together. It is the only
// producer of the derived fields of a ScanResult.
func Aggregate(products []Product) (NutriScore, Summary) {
	return ComputeGlobalScore(products), ComputeSummary(products)
}

// ComputeGlobalScore averages the product grade points and maps the mean back
// to a grade. An empty basket is C.
func ComputeGlobalScore(products []Product) NutriScore {
	if len(products) == 0 {
		return neutralScore
	}
	total := 0
	for _, p := range products {
		total += p.NutriScore.Points()
	}
	return ScoreFromPoints(float64(total) / float64(len(products)))
}

// ComputeSummary totals calories and averages sugar, salt and saturated fat
// over the basket. Averages are rounded to one decimal and the calorie total
// and processed ratio to integers, all half away from zero. An empty basket
// yields a zero summary.
func ComputeSummary(products []Product) Summary {
	count := float64(max(len(products), 1))

	var calories, sugar, salt, satFat float64
	processed := 0
	for _, p := range products {
		calories += orZero(p.Calories)
		sugar += orZero(p.Sugar)
		salt += orZero(p.Salt)
		satFat += orZero(p.SaturatedFat)
		if p.IsUltraProcessed {
			processed++
		}
	}

	return Summary{
		TotalCalories:   int(math.Round(calories)),
		AvgSugar:        Round1(sugar / count),
		AvgSalt:         Round1(salt / count),
		AvgSaturatedFat: Round1(satFat / count),
		ProcessedRatio:  int(math.Round(100 * float64(processed) / count)),
	}
}

// ComputeMacroTotals sums proteins, carbs and fats. The bool is false when all
// three sums are zero, meaning there is nothing to chart.
func ComputeMacroTotals(products []Product) (MacroTotals, bool) {
	var m MacroTotals
	for _, p := range products {
		m.Proteins += orZero(p.Proteins)
		m.Carbs += orZero(p.Carbs)
		m.Fats += orZero(p.Fats)
	}
	if m.Proteins == 0 && m.Carbs == 0 && m.Fats == 0 {
		return MacroTotals{}, false
	}
	return m, true
}

// Shares returns the percentage of each macronutrient, rounded to one decimal.
// It returns zero shares when there is no data.
func (m MacroTotals) Shares() MacroShares {
	total := m.Proteins + m.Carbs + m.Fats
	if total == 0 {
		return MacroShares{}
	}
	return MacroShares{
		Proteins: Round1(100 * m.Proteins / total),
		Carbs:    Round1(100 * m.Carbs / total),
		Fats:     Round1(100 * m.Fats / total),
	}
}

func orZero(v float64) float64 {
	clean, _ := cleanNumber(v)
	return clean
}
