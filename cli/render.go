// ABOUTME: Output rendering for CLI commands
// ABOUTME: Styled text on a terminal, plain text when piped, JSON with --json
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/harperreed/rollupsync/models"
	"golang.org/x/term"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Underline(true)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Width(28)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	skipStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

// Printer writes command results in the selected format.
type Printer struct {
	w      io.Writer
	json   bool
	styled bool
}

// NewPrinter styles output only when w is a terminal.
func NewPrinter(w io.Writer, jsonOutput bool) *Printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &Printer{w: w, json: jsonOutput, styled: styled}
}

func (p *Printer) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) line(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *Printer) field(label string, value any) {
	p.line("  %s %v", p.render(labelStyle, label), value)
}

func (p *Printer) status(status models.RunStatus, skipped bool) string {
	switch {
	case status == models.RunStatusFailed:
		return p.render(errorStyle, "✗ failed")
	case status == models.RunStatusDisabled:
		return p.render(skipStyle, "→ disabled")
	case skipped:
		return p.render(skipStyle, "→ skipped")
	}
	return p.render(okStyle, "✓ ok")
}

// Run prints a sync or wipe result.
func (p *Printer) Run(r models.RunResult) error {
	if p.json {
		return p.JSON(r)
	}

	p.line("%s %s", p.render(titleStyle, fmt.Sprintf("Rollup %s %s", r.Kind, r.JobKey)), p.status(r.Status, r.Skipped))
	p.field("Run", r.RunID)
	if r.Mode != "" {
		p.field("Mode", r.Mode)
	}
	if r.DryRun {
		p.field("Dry run", "yes (no writes)")
	}
	p.field("Took", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))

	if s := r.Sync; s != nil && !r.Skipped {
		p.line("")
		p.line("%s", p.render(headerStyle, "Sync"))
		p.field("Sources", fmt.Sprintf("%d (%d failed)", s.Sources, s.SourcesFailed))
		p.field("Fetched", s.Fetched)
		p.field("Accepted", s.Accepted)
		p.field("Skipped invalid", s.SkippedInvalid)
		p.field("Local duplicates", s.LocalDuplicatesCollapsed)
		p.field("Global duplicates", s.GlobalDuplicatesCollapsed)
		p.field("Unique contacts", s.UniqueContacts)
		p.field("Queued for target", s.QueuedForTarget)
		if s.TruncatedByMaxUpserts > 0 {
			p.field("Truncated (max upserts)", s.TruncatedByMaxUpserts)
		}
		p.field("Upserts", fmt.Sprintf("%d ok, %d failed", s.UpsertsSucceeded, s.UpsertsFailed))

		keys := make([]string, 0, len(r.PerSource))
		for key := range r.PerSource {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			st := r.PerSource[key]
			line := fmt.Sprintf("fetched %d, accepted %d, invalid %d, local dupes %d", st.Fetched, st.Accepted, st.SkippedInvalid, st.LocalDuplicatesCollapsed)
			if st.Error != "" {
				line = p.render(errorStyle, "error: "+st.Error)
			}
			p.field("  "+key, line)
		}
	}

	if w := r.Wipe; w != nil {
		p.line("")
		p.line("%s", p.render(headerStyle, "Wipe"))
		if f := r.Filter; f != nil {
			p.field("Filter", f.Mode)
			p.field("Marker tagged", f.MarkerTagged)
			p.field("Source tagged", f.SourceTagged)
			p.field("Untagged", f.Untagged)
		}
		p.field("Listed", fmt.Sprintf("%d (%d unique)", w.Listed, w.UniqueListed))
		p.field("Eligible", w.EligibleContacts)
		if w.TruncatedByMax > 0 {
			p.field("Truncated (max deletes)", w.TruncatedByMax)
		}
		p.field("Deletes", fmt.Sprintf("%d ok, %d failed", w.DeletesSucceeded, w.DeletesFailed))
	}

	p.errors(r)
	return nil
}

func (p *Printer) errors(r models.RunResult) {
	if len(r.Errors) == 0 {
		return
	}
	categories := make([]string, 0, len(r.Errors))
	for category := range r.Errors {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	p.line("")
	p.line("%s", p.render(headerStyle, "Errors"))
	for _, category := range categories {
		for _, msg := range r.Errors[category] {
			p.line("  %s %s", p.render(errorStyle, "["+category+"]"), msg)
		}
		if dropped := r.ErrorsDropped[category]; dropped > 0 {
			p.line("  %s", p.render(mutedStyle, fmt.Sprintf("... and %d more %s errors", dropped, category)))
		}
	}
}

// Accounts prints the account registry.
func (p *Printer) Accounts(accounts []models.Account) error {
	if p.json {
		if accounts == nil {
			accounts = []models.Account{}
		}
		return p.JSON(accounts)
	}
	if len(accounts) == 0 {
		p.line("%s", p.render(mutedStyle, "No accounts. Add one with 'rollupsync accounts add'."))
		return nil
	}
	p.line("%s", p.render(titleStyle, "Accounts"))
	for _, a := range accounts {
		role := "source"
		if a.RollupTarget {
			role = "rollup target"
		}
		creds := p.render(okStyle, "credentials set")
		if a.Credentials == "" {
			creds = p.render(errorStyle, "no credentials")
		}
		p.line("  %s  %s  %s  %s  %s", p.render(labelStyle, a.Key), a.Provider, role, creds, p.render(mutedStyle, a.Name))
	}
	return nil
}

// ConfigView is what 'config show' prints.
type ConfigView struct {
	Config       models.RollupConfig      `json:"config"`
	Persisted    bool                     `json:"persisted"`
	Targets      []string                 `json:"target_options"`
	Sources      []string                 `json:"source_options"`
	NextRun      *time.Time               `json:"next_run,omitempty"`
	NextRunMode  models.SyncMode          `json:"next_run_mode,omitempty"`
	Capabilities models.StoreCapabilities `json:"capabilities"`
}

// Config prints a config snapshot.
func (p *Printer) Config(v ConfigView) error {
	if p.json {
		return p.JSON(v)
	}
	c := v.Config
	title := fmt.Sprintf("Rollup job %s", c.JobKey)
	if !v.Persisted {
		title += " (defaults, not saved yet)"
	}
	p.line("%s", p.render(titleStyle, title))
	p.field("Target", orNone(c.TargetAccountKey))
	p.field("Sources", orNone(strings.Join(c.SourceAccountKeys, ", ")))
	p.field("Enabled", c.Enabled)
	p.field("Incremental", fmt.Sprintf("every %dh at :%02d UTC", c.ScheduleIntervalHours, c.ScheduleMinuteUTC))
	full := "off"
	if c.FullSyncEnabled {
		full = fmt.Sprintf("daily at %02d:%02d UTC", c.FullSyncHourUTC, c.FullSyncMinuteUTC)
	}
	p.field("Full sync", full)
	p.field("Scrub invalid emails", c.ScrubInvalidEmails)
	p.field("Scrub invalid phones", c.ScrubInvalidPhones)
	if v.NextRun != nil {
		p.field("Next run", fmt.Sprintf("%s (%s)", v.NextRun.Format(time.RFC3339), v.NextRunMode))
	}
	if c.LastSyncedAt != nil {
		p.field("Last run", fmt.Sprintf("%s %s", c.LastSyncedAt.Format(time.RFC3339), c.LastSyncStatus))
	}
	if c.UpdatedByEmail != "" {
		p.field("Updated by", c.UpdatedByEmail)
	}
	p.line("")
	p.field("Eligible targets", orNone(strings.Join(v.Targets, ", ")))
	p.field("Eligible sources", orNone(strings.Join(v.Sources, ", ")))
	if !v.Capabilities.ConfigHistory || !v.Capabilities.RunHistory {
		p.line("%s", p.render(mutedStyle, "Audit history tables missing; run the migrate tool to enable history."))
	}
	return nil
}

// Runs prints run history.
func (p *Printer) Runs(runs []models.RunHistoryEntry, available bool) error {
	if p.json {
		if runs == nil {
			runs = []models.RunHistoryEntry{}
		}
		return p.JSON(runs)
	}
	if !available {
		p.line("%s", p.render(mutedStyle, "Run history is not available on this database."))
		return nil
	}
	if len(runs) == 0 {
		p.line("%s", p.render(mutedStyle, "No runs recorded yet."))
		return nil
	}
	p.line("%s", p.render(titleStyle, "Recent runs"))
	for _, r := range runs {
		status := p.status(r.Status, r.Mode == string(models.SyncModeSkip))
		dry := ""
		if r.DryRun {
			dry = p.render(mutedStyle, " dry-run")
		}
		p.line("  %s  %-4s %-11s %-7s %s%s", r.StartedAt.Format(time.RFC3339), r.Kind, r.Mode, r.TriggerSource, status, dry)
	}
	return nil
}

// ConfigChanges prints config history.
func (p *Printer) ConfigChanges(changes []models.ConfigHistoryEntry, available bool) error {
	if p.json {
		if changes == nil {
			changes = []models.ConfigHistoryEntry{}
		}
		return p.JSON(changes)
	}
	if !available {
		p.line("%s", p.render(mutedStyle, "Config history is not available on this database."))
		return nil
	}
	if len(changes) == 0 {
		p.line("%s", p.render(mutedStyle, "No config changes recorded yet."))
		return nil
	}
	p.line("%s", p.render(titleStyle, "Config changes"))
	for _, c := range changes {
		by := c.ChangedByEmail
		if by == "" {
			by = c.ChangedByID
		}
		p.line("  %s  %s  %s", c.CreatedAt.Format(time.RFC3339), strings.Join(c.ChangedFields, ", "), p.render(mutedStyle, orNone(by)))
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
