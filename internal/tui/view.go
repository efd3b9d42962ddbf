package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

func renderView(snap Snapshot) string {
	var b strings.Builder

	// Header
	done := 0
	failed := 0
	for _, r := range snap.Repos {
		switch r.Status {
		case "updated", "skipped":
			done++
		case "failed":
			failed++
		}
	}
	header := fmt.Sprintf("cascade │ %s │ %d repos │ %d done │ %d failed",
		snap.Session, len(snap.Repos), done, failed)
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	// Update order, deepest dependencies first
	b.WriteString(sectionStyle.Render("🔗 Repositories"))
	b.WriteString("\n")
	b.WriteString(renderRepos(snap.Repos))

	if snap.Done {
		if failed > 0 {
			b.WriteString(failedStyle.Render(fmt.Sprintf("Run finished with %d failed repositories", failed)))
		} else {
			b.WriteString(doneStyle.Render("Run finished, all repositories up to date"))
		}
		b.WriteString("\n")
	}

	// Footer
	b.WriteString("\n")
	footer := fmt.Sprintf("branch %s │ last updated: %s │ q:quit r:refresh",
		snap.Branch, snap.Timestamp.Format("15:04:05"))
	b.WriteString(footerStyle.Render(footer))

	return b.String()
}

func renderRepos(repos []RepoState) string {
	if len(repos) == 0 {
		return emptyStyle.Render("  (discovering repositories)")
	}

	var b strings.Builder
	for i, repo := range repos {
		isLast := i == len(repos)-1
		prefix := "├─"
		if isLast {
			prefix = "└─"
		}

		repoLine := fmt.Sprintf("%s 📦 %s [depth %d]", prefix, repo.Name, repo.Depth)
		b.WriteString(repoStyle.Render(repoLine))
		b.WriteString("\n")

		childPrefix := "│  "
		if isLast {
			childPrefix = "   "
		}

		icon := statusIcon(repo.Status)
		statusLine := fmt.Sprintf("%s   %s %s%s", childPrefix, icon, repo.Status, elapsedSuffix(repo))
		b.WriteString(lipgloss.NewStyle().Foreground(statusColor(repo.Status)).Render(statusLine))
		b.WriteString("\n")

		if repo.PRURL != "" {
			b.WriteString(detailStyle.Render(fmt.Sprintf("%s   ↳ %s", childPrefix, repo.PRURL)))
			b.WriteString("\n")
		}
		if repo.Detail != "" {
			detail := repo.Detail
			if runewidth.StringWidth(detail) > 70 {
				detail = runewidth.Truncate(detail, 67, "...")
			}
			b.WriteString(emptyStyle.Render(fmt.Sprintf("%s   %s", childPrefix, detail)))
			b.WriteString("\n")
		}
	}

	return b.String()
}

func elapsedSuffix(repo RepoState) string {
	if repo.Status != "in_progress" || repo.UpdatedAt.IsZero() {
		return ""
	}
	return " (" + formatDuration(time.Since(repo.UpdatedAt)) + ")"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m := d / time.Minute
	s := (d % time.Minute) / time.Second
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
