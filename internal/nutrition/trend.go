package nutrition

import "time"

const trendDateLayout = "02/01"

// TrendPoint is one point of the basket score trend chart.
type TrendPoint struct {
	ScanID    string     `json:"scanId"`
	Date      string     `json:"date"` // day/month
	Timestamp time.Time  `json:"timestamp"`
	Score     NutriScore `json:"score"`
	Points    int        `json:"points"`
}

// ScoreTrend turns a most-recent-first history into an oldest-first series of
// score points.
func ScoreTrend(history []*ScanResult) []TrendPoint {
	points := make([]TrendPoint, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		r := history[i]
		if r == nil {
			continue
		}
		points = append(points, TrendPoint{
			ScanID:    r.ID,
			Date:      trendLabel(r),
			Timestamp: r.CreatedAt,
			Score:     r.TotalScore(),
			Points:    r.TotalScore().Points(),
		})
	}
	return points
}

// trendLabel is the day/month of the display date, so the chart and the
// history agree on the day of a scan.
func trendLabel(r *ScanResult) string {
	if day, err := time.Parse(DisplayDateLayout, r.Date); err == nil {
		return day.Format(trendDateLayout)
	}
	return r.CreatedAt.Format(trendDateLayout)
}
