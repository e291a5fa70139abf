package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fleetops/tripsync/internal/model"
)

// RenderJobSummary renders a finished (or in-progress) sync job as a
// styled box suitable for terminal output.
func RenderJobSummary(job *model.SyncJob) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Trips:    %d processed of %d\n", job.Completed, job.Total)
	fmt.Fprintf(&b, "Created:  %s\n", SuccessStyle.Render(fmt.Sprintf("%d", job.Created)))
	fmt.Fprintf(&b, "Updated:  %s\n", SuccessStyle.Render(fmt.Sprintf("%d", job.Updated)))
	fmt.Fprintf(&b, "Skipped:  %s\n", SubtleStyle.Render(fmt.Sprintf("%d", job.Skipped)))

	if job.Errors > 0 {
		fmt.Fprintf(&b, "Errors:   %s\n", ErrorStyle.Render(fmt.Sprintf("%d", job.Errors)))
	} else {
		fmt.Fprintf(&b, "Errors:   %d\n", job.Errors)
	}

	if job.FinishedAt != nil {
		fmt.Fprintf(&b, "Duration: %s\n", job.FinishedAt.Sub(job.StartedAt).Round(10*time.Millisecond))
	}

	if len(job.FieldTally) > 0 {
		b.WriteString("\n" + SubtleStyle.Render("Most updated fields:") + "\n")
		for _, line := range topTally(job.FieldTally, 5) {
			b.WriteString("  " + line + "\n")
		}
	}

	if len(job.ReasonTally) > 0 {
		b.WriteString("\n" + SubtleStyle.Render("Skip/error reasons:") + "\n")
		for _, line := range topTally(job.ReasonTally, 5) {
			b.WriteString("  " + line + "\n")
		}
	}

	return RenderBox("Sync Summary", strings.TrimRight(b.String(), "\n"))
}

// topTally returns up to n "name: count" lines sorted by descending
// count, breaking ties alphabetically for stable output.
func topTally(tally map[string]int, n int) []string {
	type entry struct {
		name  string
		count int
	}

	entries := make([]entry, 0, len(tally))
	for name, count := range tally {
		entries = append(entries, entry{name, count})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})

	if len(entries) > n {
		entries = entries[:n]
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s: %d", e.name, e.count))
	}
	return lines
}
