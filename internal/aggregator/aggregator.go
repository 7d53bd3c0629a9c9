package aggregator

import "colorcodely-go/internal/types"

// Summary rolls up a center's recorded days.
type Summary struct {
	CenterID         string         `json:"center_id"`
	Days             int            `json:"days"`
	NoColorDays      int            `json:"no_color_days"`
	ColorCounts      map[string]int `json:"color_counts"`
	ConfidenceCounts map[string]int `json:"confidence_counts"`
	ColorDayRate     float64        `json:"color_day_rate"`
	FirstDate        string         `json:"first_date,omitempty"`
	LastDate         string         `json:"last_date,omitempty"`
}

// Aggregate counts one entry per distinct date; if a date was recorded more
// than once the latest record for it wins. records are in append order.
func Aggregate(centerID string, records []types.TranscriptionRecord) Summary {
	byDate := map[string]types.TranscriptionRecord{}
	var order []string
	for _, r := range records {
		if r.Date == "" {
			continue
		}
		if _, ok := byDate[r.Date]; !ok {
			order = append(order, r.Date)
		}
		byDate[r.Date] = r
	}

	s := Summary{
		CenterID:         centerID,
		ColorCounts:      map[string]int{},
		ConfidenceCounts: map[string]int{},
	}
	for _, d := range order {
		r := byDate[d]
		s.Days++
		if len(r.Colors) == 0 {
			s.NoColorDays++
		}
		for _, c := range r.Colors {
			s.ColorCounts[c]++
		}
		if r.Confidence != "" {
			s.ConfidenceCounts[string(r.Confidence)]++
		}
		if s.FirstDate == "" || d < s.FirstDate {
			s.FirstDate = d
		}
		if d > s.LastDate {
			s.LastDate = d
		}
	}
	if s.Days > 0 {
		s.ColorDayRate = float64(s.Days-s.NoColorDays) / float64(s.Days)
	}
	return s
}
