package reporter

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/remtrack/remtrack/internal/database"
	"github.com/remtrack/remtrack/internal/models"
)

// Reporter aggregates session events into per-server time reports.
type Reporter struct {
	repo *database.Repository
}

// New creates a new reporter
func New(repo *database.Repository) *Reporter {
	return &Reporter{repo: repo}
}

// GenerateReport builds a report for the specified period by pairing
// start/end events per server. A session still open at the period end
// is counted up to the period end.
func (r *Reporter) GenerateReport(periodType string) (*models.Report, error) {
	period, err := getPeriod(periodType)
	if err != nil {
		return nil, err
	}

	events, err := r.repo.GetEventsBetween(period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("failed to load session events: %w", err)
	}

	summaries := summarize(events, period.End)

	var totalSeconds int64
	for i := range summaries {
		summaries[i].TotalMinutes = float64(summaries[i].TotalSeconds) / 60.0
		summaries[i].TotalHours = float64(summaries[i].TotalSeconds) / 3600.0
		totalSeconds += summaries[i].TotalSeconds
	}

	if totalSeconds > 0 {
		for i := range summaries {
			summaries[i].Percentage = (float64(summaries[i].TotalSeconds) / float64(totalSeconds)) * 100.0
		}
	}

	return &models.Report{
		Period:       *period,
		Servers:      summaries,
		TotalSeconds: totalSeconds,
		TotalMinutes: float64(totalSeconds) / 60.0,
		TotalHours:   float64(totalSeconds) / 3600.0,
		GeneratedAt:  time.Now(),
	}, nil
}

// summarize pairs events per server. An end without an open start is
// skipped (its start fell before the period); an open start at the
// horizon counts up to the horizon.
func summarize(events []*models.SessionEvent, horizon time.Time) []models.ServerSummary {
	type open struct {
		since  time.Time
		folder string
	}
	opens := make(map[string]open)
	totals := make(map[string]*models.ServerSummary)

	add := func(server, folder string, d time.Duration) {
		sum, ok := totals[server]
		if !ok {
			sum = &models.ServerSummary{Server: server, Folder: folder}
			totals[server] = sum
		}
		sum.TotalSeconds += int64(d.Seconds())
		sum.SessionCount++
	}

	for _, ev := range events {
		switch ev.Kind {
		case models.EventStart:
			if _, dup := opens[ev.Server]; !dup {
				opens[ev.Server] = open{since: ev.Timestamp, folder: ev.Folder}
			}
		case models.EventEnd:
			o, ok := opens[ev.Server]
			if !ok {
				continue
			}
			delete(opens, ev.Server)
			if ev.Timestamp.After(o.since) {
				add(ev.Server, o.folder, ev.Timestamp.Sub(o.since))
			}
		}
	}

	for server, o := range opens {
		if horizon.After(o.since) {
			add(server, o.folder, horizon.Sub(o.since))
		}
	}

	summaries := make([]models.ServerSummary, 0, len(totals))
	for _, sum := range totals {
		summaries = append(summaries, *sum)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].TotalSeconds > summaries[j].TotalSeconds
	})
	return summaries
}

// getPeriod calculates the time range for the report
func getPeriod(periodType string) (*models.ReportPeriod, error) {
	now := time.Now()
	var start, end time.Time

	switch periodType {
	case "day", "today":
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		end = start.Add(24 * time.Hour)

	case "week":
		// Start of week (Monday)
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday = 7
		}
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(weekday - 1))
		end = start.AddDate(0, 0, 7)

	case "month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 1, 0)

	default:
		return nil, fmt.Errorf("invalid period type: %s (valid: day, week, month)", periodType)
	}

	return &models.ReportPeriod{
		Start: start,
		End:   end,
		Type:  periodType,
	}, nil
}

// FormatReportText formats the report as human-readable text
func (r *Reporter) FormatReportText(report *models.Report) string {
	output := fmt.Sprintf("Session Report - %s\n", report.Period.Type)
	output += fmt.Sprintf("Period: %s to %s\n",
		report.Period.Start.Format("2006-01-02 15:04"),
		report.Period.End.Format("2006-01-02 15:04"))
	output += fmt.Sprintf("Total Time: %.2fh (%.0fm)\n\n", report.TotalHours, report.TotalMinutes)

	if len(report.Servers) == 0 {
		output += "No sessions recorded for this period.\n"
		return output
	}

	output += fmt.Sprintf("%-28s %-16s %8s %10s %9s\n", "Server", "Folder", "Hours", "Sessions", "Percent")
	output += fmt.Sprintf("%s\n", "--------------------------------------------------------------------------------")

	for _, srv := range report.Servers {
		output += fmt.Sprintf("%-28s %-16s %8.2f %10d %8.1f%%\n",
			truncate(srv.Server, 28),
			truncate(srv.Folder, 16),
			srv.TotalHours,
			srv.SessionCount,
			srv.Percentage)
	}

	return output
}

// FormatReportJSON formats the report as JSON
func (r *Reporter) FormatReportJSON(report *models.Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// truncate truncates a string to the specified length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
