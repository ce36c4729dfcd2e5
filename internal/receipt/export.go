package receipt

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/ticketmiam/internal/nutrition"
)

const (
	scansSheet    = "Scans"
	productsSheet = "Products"
)

var (
	scanHeaders = []string{
		"Date", "Store", "Score", "Products", "Total Calories (kcal)",
		"Avg Sugar (g)", "Avg Salt (g)", "Avg Saturated Fat (g)", "Ultra-processed (%)", "Scan ID",
	}
	productHeaders = []string{
		"Scan ID", "Date", "Store", "Product", "Receipt Line", "Quantity", "Nutri-Score", "Ultra-processed",
		"Calories (kcal)", "Proteins (g)", "Carbs (g)", "Fats (g)", "Sugar (g)", "Salt (g)", "Saturated Fat (g)",
	}
)

// ExportXLSX returns the history as an XLSX workbook with one sheet of scans
// and one sheet of products
func (s *Service) ExportXLSX() ([]byte, error) {
	start := time.Now()
	scans := s.history.List()

	data, err := writeWorkbook(scans)
	if err != nil {
		return nil, err
	}

	slog.Info("Exported history",
		"scans", len(scans),
		"bytes", len(data),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return data, nil
}

func writeWorkbook(scans []*nutrition.ScanResult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	// the default sheet becomes the scans sheet
	if err := f.SetSheetName(f.GetSheetName(0), scansSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(productsSheet); err != nil {
		return nil, fmt.Errorf("creating sheet: %w", err)
	}

	writeRow(f, scansSheet, 1, toCells(scanHeaders))
	writeRow(f, productsSheet, 1, toCells(productHeaders))

	productRow := 2
	for i, scan := range scans {
		summary := scan.Summary()
		products := scan.Products()
		writeRow(f, scansSheet, i+2, []any{
			scan.Date,
			scan.StoreName,
			string(scan.TotalScore()),
			len(products),
			summary.TotalCalories,
			summary.AvgSugar,
			summary.AvgSalt,
			summary.AvgSaturatedFat,
			summary.ProcessedRatio,
			scan.ID,
		})

		for _, p := range products {
			writeRow(f, productsSheet, productRow, []any{
				scan.ID,
				scan.Date,
				scan.StoreName,
				p.Name,
				p.RawName,
				p.Quantity,
				string(p.NutriScore),
				p.IsUltraProcessed,
				p.Calories,
				p.Proteins,
				p.Carbs,
				p.Fats,
				p.Sugar,
				p.Salt,
				p.SaturatedFat,
			})
			productRow++
		}
	}

	_ = f.SetColWidth(scansSheet, "A", "A", 12)
	_ = f.SetColWidth(scansSheet, "B", "B", 24)
	_ = f.SetColWidth(scansSheet, "E", "I", 18)
	_ = f.SetColWidth(scansSheet, "J", "J", 38)
	_ = f.SetColWidth(productsSheet, "A", "A", 38)
	_ = f.SetColWidth(productsSheet, "C", "E", 28)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func toCells(headers []string) []any {
	cells := make([]any, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	return cells
}
