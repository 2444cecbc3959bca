package orchestrator

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderMarkdown produces the human-readable run report: batches, commit
// table, grouped failure sections, and troubleshooting hints when failures
// exist.
func RenderMarkdown(r *RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run report\n\n")
	fmt.Fprintf(&b, "- Run: %s\n", r.RunID)
	fmt.Fprintf(&b, "- Document: %s\n", r.SpecPath)
	fmt.Fprintf(&b, "- Status: **%s**\n", r.Status)
	fmt.Fprintf(&b, "- Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(1e9))
	if r.Truncated {
		b.WriteString("- Stopped early: max-iteration cap reached\n")
	}
	b.WriteString("\n")

	b.WriteString("## Batches\n\n")
	if len(r.Batches) == 0 {
		b.WriteString("No batches executed.\n\n")
	}
	for _, batch := range r.Batches {
		fmt.Fprintf(&b, "%d. %s (%s)", batch.Index+1, strings.Join(batch.StoryIDs, ", "), batch.Duration.Round(1e9))
		if len(batch.Conflicts) > 0 {
			fmt.Fprintf(&b, ", %d conflict(s)", len(batch.Conflicts))
		}
		if len(batch.FallbackIDs) > 0 {
			fmt.Fprintf(&b, ", sequential fallback: %s", strings.Join(batch.FallbackIDs, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString("## Commits\n\n")
	if len(r.Commits) == 0 {
		b.WriteString("No commits created.\n\n")
	} else {
		b.WriteString("| Story | Commit | Subject | Files |\n")
		b.WriteString("|-------|--------|---------|-------|\n")
		for _, c := range r.Commits {
			hash := c.Hash
			if len(hash) > 7 {
				hash = hash[:7]
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %d |\n", c.StoryID, hash, c.Subject, len(c.FilesModified))
		}
		b.WriteString("\n")
	}

	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, "## Skipped\n\n%s modified no files.\n\n", strings.Join(r.Skipped, ", "))
	}

	if len(r.Failures) > 0 {
		writeFailureSection(&b, "Execution failures", r.Failures, FailureExecution)
		writeFailureSection(&b, "Merge failures", r.Failures, FailureMerge)
		writeFailureSection(&b, "Commit failures", r.Failures, FailureCommit)

		b.WriteString("## Troubleshooting\n\n")
		b.WriteString("- Re-run failed stories with `--concurrency 1` to rule out file races.\n")
		b.WriteString("- Inspect the error log for per-attempt failure details.\n")
		b.WriteString("- Increase `timeout_minutes` if workers were killed on deadline.\n")
		b.WriteString("- Reduce `max_concurrency` if workers contend for shared resources.\n")
	}

	return b.String()
}

func writeFailureSection(b *strings.Builder, title string, failures []Failure, kind FailureKind) {
	var matched []Failure
	for _, f := range failures {
		if f.Kind == kind {
			matched = append(matched, f)
		}
	}
	if len(matched) == 0 {
		return
	}

	fmt.Fprintf(b, "## %s\n\n", title)
	for _, f := range matched {
		fmt.Fprintf(b, "- **%s**: %s", f.StoryID, f.Err)
		if f.FallbackAttempted {
			b.WriteString(" (sequential fallback attempted)")
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

// Terminal summary styles.
var (
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("green")).Bold(true)
	stylePartial = lipgloss.NewStyle().Foreground(lipgloss.Color("yellow")).Bold(true)
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("red")).Bold(true)
)

// RenderSummary produces the one-line colored terminal summary.
func RenderSummary(r *RunReport) string {
	style := styleSuccess
	switch r.Status {
	case RunPartial:
		style = stylePartial
	case RunFailed:
		style = styleFailed
	}
	return fmt.Sprintf("%s  %d commit(s), %d failure(s), %d skipped",
		style.Render(strings.ToUpper(string(r.Status))),
		len(r.Commits), len(r.Failures), len(r.Skipped))
}
