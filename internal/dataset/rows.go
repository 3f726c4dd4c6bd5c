package dataset

import (
	"sort"
	"strconv"
	"strings"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
)

// LeafRow is one heat flattened together with its athlete and event.
type LeafRow struct {
	EntityID           string    `json:"surfer_id"`
	EntityName         string    `json:"surfer_name"`
	Country            string    `json:"country"`
	EventID            string    `json:"event_id"`
	EventName          string    `json:"event_name"`
	EventLocation      string    `json:"event_location"`
	TourType           string    `json:"tour_type"`
	EventYear          int       `json:"event_year"`
	EventFinalPosition *int      `json:"event_final_position"`
	EventPointsEarned  *float64  `json:"event_points_earned"`
	HeatID             string    `json:"heat_id"`
	RoundName          string    `json:"round_name"`
	HeatPosition       int       `json:"heat_position"`
	HeatTotalScore     float64   `json:"heat_total_score"`
	HeatAdvanced       bool      `json:"heat_advanced"`
	HeatDate           string    `json:"heat_date"`
	WaveScores         []float64 `json:"wave_scores"`
}

var leafHeader = []string{
	"surfer_id", "surfer_name", "country", "event_id", "event_name", "event_location", "tour_type",
	"event_year", "event_final_position", "event_points_earned", "heat_id", "round_name", "heat_position",
	"heat_total_score", "heat_advanced", "heat_date", "wave_scores",
}

var summaryHeader = []string{"ID", "Name", "Country", "Events", "Total_Heats", "Tours"}

// Flatten expands results into one row per heat, in result order.
func Flatten(results []crawler.EntityResult) []LeafRow {
	var rows []LeafRow
	for _, res := range results {
		d := res.Descriptor
		for _, sub := range res.SubRecords {
			for _, leaf := range sub.Children {
				scores := leaf.SubScores
				if scores == nil {
					scores = []float64{}
				}
				rows = append(rows, LeafRow{
					EntityID:           d.ID,
					EntityName:         d.DisplayName,
					Country:            d.Category,
					EventID:            sub.ID,
					EventName:          sub.Name,
					EventLocation:      sub.Location,
					TourType:           sub.CategoryTag,
					EventYear:          sub.Year,
					EventFinalPosition: sub.FinalRank,
					EventPointsEarned:  sub.PointsEarned,
					HeatID:             leaf.ID,
					RoundName:          leaf.RoundLabel,
					HeatPosition:       leaf.Position,
					HeatTotalScore:     leaf.TotalScore,
					HeatAdvanced:       leaf.Advanced,
					HeatDate:           leaf.Date,
					WaveScores:         scores,
				})
			}
		}
	}
	return rows
}

func (r LeafRow) record() []string {
	waves := make([]string, len(r.WaveScores))
	for i, s := range r.WaveScores {
		waves[i] = formatFloat(s)
	}
	return []string{
		r.EntityID,
		r.EntityName,
		r.Country,
		r.EventID,
		r.EventName,
		r.EventLocation,
		r.TourType,
		strconv.Itoa(r.EventYear),
		optionalInt(r.EventFinalPosition),
		optionalFloat(r.EventPointsEarned),
		r.HeatID,
		r.RoundName,
		strconv.Itoa(r.HeatPosition),
		formatFloat(r.HeatTotalScore),
		strconv.FormatBool(r.HeatAdvanced),
		r.HeatDate,
		strings.Join(waves, "|"),
	}
}

func summaryRecord(res crawler.EntityResult) []string {
	return []string{
		res.Descriptor.ID,
		res.Descriptor.DisplayName,
		res.Descriptor.Category,
		strconv.Itoa(len(res.SubRecords)),
		strconv.Itoa(res.LeafCount()),
		strings.Join(tours(res), ", "),
	}
}

func tours(res crawler.EntityResult) []string {
	set := map[string]struct{}{}
	for _, sub := range res.SubRecords {
		if sub.CategoryTag != "" {
			set[sub.CategoryTag] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
