package cli

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/taskbridge/internal/client"
	"github.com/raphaelgruber/taskbridge/internal/models"
)

// Theme holds the color scheme for the live progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// snapshotMsg carries one pushed job snapshot.
type snapshotMsg []models.JobRecord

// watchClosedMsg reports the push connection ending.
type watchClosedMsg struct {
	err error
}

// watchModel is the bubbletea model for the snapshot view. With a jobID set
// it follows that single job and quits when it reaches a terminal state;
// otherwise it shows every job until the user quits.
type watchModel struct {
	jobID   string
	jobs    []models.JobRecord
	updates <-chan []models.JobRecord
	closed  <-chan error

	progress progress.Model
	theme    Theme

	done     bool
	quitting bool
	err      error
}

// newWatchModel creates a model reading snapshots from updates.
func newWatchModel(jobID string, updates <-chan []models.JobRecord, closed <-chan error) watchModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return watchModel{
		jobID:    jobID,
		updates:  updates,
		closed:   closed,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init starts waiting for the first snapshot.
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.waitForSnapshot(),
		m.progress.Init(),
	)
}

// waitForSnapshot blocks on the push channel inside a command so Update()
// itself never blocks.
func (m watchModel) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		select {
		case jobs := <-m.updates:
			return snapshotMsg(jobs)
		case err := <-m.closed:
			return watchClosedMsg{err: err}
		}
	}
}

// Update handles messages and returns the updated model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case snapshotMsg:
		m.jobs = m.selectJobs(msg)

		if m.jobID != "" {
			for _, job := range m.jobs {
				if job.JobID == m.jobID && job.IsComplete() {
					m.done = true
					if job.Status == models.StatusFailed {
						m.err = fmt.Errorf("%s", job.ErrorMessage)
					}
					return m, tea.Quit
				}
			}
		}
		return m, m.waitForSnapshot()

	case watchClosedMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// selectJobs filters a snapshot down to the followed job, or keeps it whole.
func (m watchModel) selectJobs(jobs []models.JobRecord) []models.JobRecord {
	if m.jobID == "" {
		return jobs
	}
	for _, job := range jobs {
		if job.JobID == m.jobID {
			return []models.JobRecord{job}
		}
	}
	return nil
}

// View renders the snapshot display.
func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m watchModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if len(m.jobs) == 0 {
		return "Waiting for job updates...\n"
	}

	var b strings.Builder
	for _, job := range m.jobs {
		b.WriteString(m.renderJob(job))
	}
	b.WriteString(m.theme.hintStyle().Render("Press q to stop watching"))
	b.WriteString("\n")
	return b.String()
}

// renderJob renders one job as a status line, progress bar, and detail line.
func (m watchModel) renderJob(job models.JobRecord) string {
	var status string
	switch job.Status {
	case models.StatusCompleted:
		status = m.theme.completedStyle().Render("✓ " + string(job.Status))
	case models.StatusFailed:
		status = m.theme.errorStyle().Render("✗ " + string(job.Status))
	default:
		status = m.theme.statusStyle().Render(fmt.Sprintf("[%s]", job.Status))
	}

	bar := m.progress.ViewAs(float64(job.Progress) / 100)
	line := fmt.Sprintf("%s %s %s %3d%%", shortID(job.JobID), status, bar, job.Progress)
	if job.UploadProgress != nil && !job.IsComplete() {
		line += fmt.Sprintf(" (upload %d%%)", *job.UploadProgress)
	}

	detail := job.Description
	if job.Status == models.StatusFailed && job.ErrorMessage != "" {
		detail = job.ErrorMessage
	}
	return fmt.Sprintf("%s %s\n%s\n", line, job.Filename, m.theme.hintStyle().Render("  "+detail))
}

// finalView renders the closing message.
func (m watchModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render("\nStopped watching. Jobs continue on the server.\n")
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}

	if m.jobID != "" {
		return m.theme.completedStyle().Render("✓ Completed") + "\n" +
			m.theme.hintStyle().Render(fmt.Sprintf("Use 'taskbridge download %s' to fetch the result.\n", m.jobID))
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RunWatchUI runs the interactive snapshot view on top of the push channel.
// With jobID set it returns once that job reaches a terminal state, with the
// job's error if it failed. Ctrl-C leaves the jobs running server-side and
// returns nil.
func RunWatchUI(ctx context.Context, c *client.Client, jobID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan []models.JobRecord)
	closed := make(chan error, 1)
	go func() {
		closed <- c.Watch(ctx, func(jobs []models.JobRecord) {
			select {
			case updates <- jobs:
			case <-ctx.Done():
			}
		})
	}()

	finalModel, err := tea.NewProgram(newWatchModel(jobID, updates, closed)).Run()
	if err != nil {
		return fmt.Errorf("progress ui: %w", err)
	}

	if m, ok := finalModel.(watchModel); ok {
		if m.quitting {
			return nil
		}
		return m.err
	}
	return nil
}
