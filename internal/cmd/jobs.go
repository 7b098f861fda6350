package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/fanout/internal/journal"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [reply-address]",
	Short: "List jobs recorded in the coordinator's journal",
	Long: `List the most recent jobs recorded in the coordinator's job journal,
newest first. Given a reply address, show that job's event history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

var jobsLimit int

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "l", 20, "maximum number of jobs to show (0 for all)")
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle = map[journal.Status]lipgloss.Style{
		journal.StatusAccepted:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		journal.StatusSealed:    lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		journal.StatusFinalized: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	}
)

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Coordinator.JournalPath == "" {
		return fmt.Errorf("the job journal is disabled (coordinator.journal_path is empty)")
	}
	if _, err := os.Stat(cfg.Coordinator.JournalPath); os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded yet.")
		return nil
	}

	j, err := journal.Open(cfg.Coordinator.JournalPath, nil)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = j.Close() }()

	styled := isTerminal(cmd.OutOrStdout())
	if len(args) == 1 {
		entries, err := j.Events(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		renderEvents(cmd.OutOrStdout(), args[0], entries, styled)
		return nil
	}

	jobs, err := j.List(cmd.Context(), jobsLimit)
	if err != nil {
		return err
	}
	renderJobs(cmd.OutOrStdout(), jobs, styled)
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// table pads every cell to its column width before styling, so escape
// sequences never disturb alignment.
type table struct {
	header []string
	rows   [][]string
	styles []lipgloss.Style // per row; zero style means plain
}

func (t *table) render(w io.Writer, styled bool) {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = len(h)
	}
	for _, r := range t.rows {
		for i, c := range r {
			widths[i] = max(widths[i], len(c))
		}
	}
	line := func(cells []string) string {
		padded := make([]string, len(cells))
		for i, c := range cells {
			padded[i] = fmt.Sprintf("%-*s", widths[i], c)
		}
		return strings.TrimRight(strings.Join(padded, "  "), " ")
	}

	head := line(t.header)
	if styled {
		head = headerStyle.Render(head)
	}
	fmt.Fprintln(w, head)
	for i, r := range t.rows {
		out := line(r)
		if styled && i < len(t.styles) {
			out = t.styles[i].Render(out)
		}
		fmt.Fprintln(w, out)
	}
}

func renderJobs(w io.Writer, jobs []journal.Job, styled bool) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs recorded yet.")
		return
	}
	t := &table{header: []string{"REPLY ADDRESS", "STATUS", "UNITS", "SKIPPED", "DUPS", "OUTPUT", "ACCEPTED"}}
	for _, j := range jobs {
		output := j.OutputKey
		if output == "" {
			output = "-"
		}
		t.rows = append(t.rows, []string{
			j.ReplyAddress,
			string(j.Status),
			strconv.Itoa(j.Units),
			strconv.Itoa(j.Skipped),
			strconv.Itoa(j.Duplicates),
			output,
			j.AcceptedAt.Local().Format(time.DateTime),
		})
		t.styles = append(t.styles, statusStyle[j.Status])
	}
	t.render(w, styled)
}

func renderEvents(w io.Writer, reply string, entries []journal.Entry, styled bool) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No events recorded for %s.\n", reply)
		return
	}
	t := &table{header: []string{"TIME", "EVENT", "DETAIL"}}
	for _, e := range entries {
		t.rows = append(t.rows, []string{e.CreatedAt.Local().Format(time.DateTime), e.Type, e.Detail})
		if e.Type == "result.duplicate" {
			t.styles = append(t.styles, dimStyle)
		} else {
			t.styles = append(t.styles, lipgloss.NewStyle())
		}
	}
	t.render(w, styled)
}
