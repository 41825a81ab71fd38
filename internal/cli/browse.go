package cli

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/apresai/voiceover/internal/bootstrap"
	"github.com/apresai/voiceover/internal/jobs"
	"github.com/apresai/voiceover/internal/jobstore"
)

var jobsBrowseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse jobs interactively",
	Args:  cobra.NoArgs,
	RunE:  runJobsBrowse,
}

func init() {
	jobsCmd.AddCommand(jobsBrowseCmd)
}

// jobBrowserService is the part of the job manager the browser drives.
type jobBrowserService interface {
	ListAll(ctx context.Context) ([]jobstore.Job, error)
	DeleteJob(ctx context.Context, id string) (jobs.DeleteSummary, error)
}

type browseState int

const (
	browseList browseState = iota
	browseDetail
	browseConfirm
)

var (
	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Width(14).
			Align(lipgloss.Right).
			MarginRight(2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			MarginTop(1)

	headerBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("#7D56F4")).
			MarginBottom(1)
)

type jobsLoadedMsg struct {
	jobs []jobstore.Job
	err  error
}

type jobDeletedMsg struct {
	summary jobs.DeleteSummary
	err     error
}

type browseModel struct {
	ctx    context.Context
	svc    jobBrowserService
	jobs   []jobstore.Job
	cursor int
	state  browseState
	width  int
	status string
	err    error
	loaded bool
}

func newBrowseModel(ctx context.Context, svc jobBrowserService) browseModel {
	return browseModel{ctx: ctx, svc: svc, state: browseList}
}

func (m browseModel) Init() tea.Cmd {
	return m.load()
}

func (m browseModel) load() tea.Cmd {
	return func() tea.Msg {
		all, err := m.svc.ListAll(m.ctx)
		return jobsLoadedMsg{jobs: all, err: err}
	}
}

func (m browseModel) remove(id string) tea.Cmd {
	return func() tea.Msg {
		summary, err := m.svc.DeleteJob(m.ctx, id)
		return jobDeletedMsg{summary: summary, err: err}
	}
}

func (m browseModel) selected() (jobstore.Job, bool) {
	if m.cursor < 0 || m.cursor >= len(m.jobs) {
		return jobstore.Job{}, false
	}
	return m.jobs[m.cursor], true
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case jobsLoadedMsg:
		m.loaded = true
		m.err = msg.err
		if msg.err == nil {
			m.jobs = msg.jobs
		}
		if m.cursor >= len(m.jobs) {
			m.cursor = max(len(m.jobs)-1, 0)
		}
		return m, nil

	case jobDeletedMsg:
		m.state = browseList
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		if !msg.summary.Found {
			m.status = fmt.Sprintf("Job %s not found", msg.summary.JobID)
		} else {
			m.status = fmt.Sprintf("Job %s deleted", msg.summary.JobID)
		}
		return m, m.load()

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.state {
		case browseList:
			return m.updateList(msg)
		case browseDetail:
			return m.updateDetail(msg)
		case browseConfirm:
			return m.updateConfirm(msg)
		}
	}
	return m, nil
}

func (m browseModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.jobs)-1 {
			m.cursor++
		}
	case "enter", " ":
		if _, ok := m.selected(); ok {
			m.state = browseDetail
			m.err = nil
		}
	case "d":
		if _, ok := m.selected(); ok {
			m.state = browseConfirm
			m.err = nil
		}
	case "r":
		m.status = ""
		return m, m.load()
	}
	return m, nil
}

func (m browseModel) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "esc", "backspace", "enter":
		m.state = browseList
	case "d":
		m.state = browseConfirm
	}
	return m, nil
}

func (m browseModel) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		job, ok := m.selected()
		if !ok {
			m.state = browseList
			return m, nil
		}
		return m, m.remove(job.ID)
	case "n", "N", "esc":
		m.state = browseList
	}
	return m, nil
}

func (m browseModel) View() string {
	var b strings.Builder

	b.WriteString(headerBorder.Render(titleStyle.Render("Voiceover jobs")))
	b.WriteString("\n")

	switch {
	case !m.loaded:
		b.WriteString(dimStyle.Render("  Loading...") + "\n")
	case len(m.jobs) == 0:
		b.WriteString(dimStyle.Render("  No jobs yet.") + "\n")
	case m.state == browseDetail:
		job, _ := m.selected()
		b.WriteString(m.viewDetail(job))
	default:
		for i, job := range m.jobs {
			cursor := "  "
			if i == m.cursor {
				cursor = cursorStyle.Render("> ")
			}
			line := fmt.Sprintf("%s  %s  %d/%d  %s",
				job.ID,
				statusStyle(job.Status).Render(fmt.Sprintf("%-10s", job.Status)),
				job.CompletedParts, job.TotalParts,
				dimStyle.Render(job.CreatedAt.Local().Format("2006-01-02 15:04")),
			)
			b.WriteString(cursor + line + "\n")
		}
	}

	if m.state == browseConfirm {
		if job, ok := m.selected(); ok {
			b.WriteString("\n" + errorStyle.Render(fmt.Sprintf("  Delete job %s and its audio? (y/n)", job.ID)) + "\n")
		}
	}
	if m.status != "" {
		b.WriteString("\n" + successStyle.Render("  "+m.status) + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render("  Error: "+m.err.Error()) + "\n")
	}

	switch m.state {
	case browseList:
		b.WriteString(helpStyle.Render("  j/k or arrows to navigate | enter for details | d to delete | r to refresh | q to quit"))
	case browseDetail:
		b.WriteString(helpStyle.Render("  esc to go back | d to delete | q to quit"))
	case browseConfirm:
		b.WriteString(helpStyle.Render("  y to confirm | n to cancel"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m browseModel) viewDetail(job jobstore.Job) string {
	var b strings.Builder
	row := func(label, value string) {
		if value == "" {
			value = dimStyle.Render("(none)")
		}
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}
	row("ID", job.ID)
	row("Status", statusStyle(job.Status).Render(string(job.Status)))
	row("Parts", fmt.Sprintf("%d/%d", job.CompletedParts, job.TotalParts))
	row("Created", job.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	row("Updated", job.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	row("Output", job.OutputFile)
	row("Artifact", job.ArtifactURL)
	if job.Error != "" {
		row("Error", errorStyle.Render(job.Error))
	}

	b.WriteString("\n")
	for i, part := range job.ScriptParts {
		voice := dimStyle.Render("default voice")
		if part.VoiceID != nil {
			voice = *part.VoiceID
		}
		b.WriteString(fmt.Sprintf("  %2d. [%s] %s\n", i+1, voice, truncate(part.Text, 70)))
	}
	return b.String()
}

func runJobsBrowse(cmd *cobra.Command, args []string) error {
	app, err := loadApp(cmd.Context(), bootstrap.ModeReadOnly, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	p := tea.NewProgram(newBrowseModel(cmd.Context(), app.Jobs), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
