package bulksync

import (
	"sort"
	"time"

	"github.com/nortesoft/catasync/internal/models"
)

// DailyStat is one day's slice of the trailing-window report.
type DailyStat struct {
	Date     string `json:"date"` // YYYY-MM-DD
	Sessions int    `json:"sessions"`
	Products int    `json:"products"`
	Errors   int    `json:"errors"`
}

// StatsReport aggregates sessions over a trailing N-day window.
type StatsReport struct {
	WindowDays    int         `json:"windowDays"`
	TotalSessions int         `json:"totalSessions"`
	Completed     int         `json:"completed"`
	Failed        int         `json:"failed"`
	Cancelled     int         `json:"cancelled"`
	InProgress    int         `json:"inProgress"`
	TotalProducts int         `json:"totalProducts"`
	TotalErrors   int         `json:"totalErrors"`
	Daily         []DailyStat `json:"dailyBreakdown"`
	DurationP50Ms int64       `json:"durationP50Ms"`
	DurationP90Ms int64       `json:"durationP90Ms"`
	DurationP99Ms int64       `json:"durationP99Ms"`
}

// Stats builds the trailing-window report. days <= 0 defaults to 7.
func (m *Manager) Stats(days int) (*StatsReport, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	sessions, err := m.sessions.SessionsSince(since)
	if err != nil {
		return nil, err
	}

	report := &StatsReport{WindowDays: days}
	byDay := make(map[string]*DailyStat)
	var durations []int64

	for i := range sessions {
		s := &sessions[i]
		report.TotalSessions++
		report.TotalProducts += s.TotalProducts
		report.TotalErrors += s.ErrorCount

		switch s.State {
		case models.SessionStateCompleted:
			report.Completed++
		case models.SessionStateError:
			report.Failed++
		case models.SessionStateCancelled:
			report.Cancelled++
		default:
			report.InProgress++
		}

		day := s.StartedAt.Format("2006-01-02")
		d := byDay[day]
		if d == nil {
			d = &DailyStat{Date: day}
			byDay[day] = d
		}
		d.Sessions++
		d.Products += s.TotalProducts
		d.Errors += s.ErrorCount

		if s.FinishedAt != nil {
			durations = append(durations, s.FinishedAt.Sub(s.StartedAt).Milliseconds())
		}
	}

	for _, d := range byDay {
		report.Daily = append(report.Daily, *d)
	}
	sort.Slice(report.Daily, func(i, j int) bool { return report.Daily[i].Date < report.Daily[j].Date })

	report.DurationP50Ms = percentile(durations, 50)
	report.DurationP90Ms = percentile(durations, 90)
	report.DurationP99Ms = percentile(durations, 99)

	return report, nil
}

// percentile uses nearest-rank on a copy of the input.
func percentile(values []int64, p int) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := (p*len(sorted) + 99) / 100 // ceil(p/100 * n)
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
