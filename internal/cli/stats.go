package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rshade/apicache/internal/engine/cache"
)

const (
	outputTable = "table"
	outputJSON  = "json"

	defaultBoxWidth = 48
	minBoxWidth     = 32
)

// StatsReport is the stats command output.
type StatsReport struct {
	Backend   string          `json:"backend"`
	Prefix    string          `json:"prefix"`
	Available bool            `json:"available"`
	Inventory cache.Inventory `json:"inventory"`
	Stats     cache.Stats     `json:"stats"`
}

func newStatsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show what the cache holds",
		Long: `Scans the cache namespace and reports live, expired and corrupt entries.
Hit and miss counters cover reads made by this process only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session := sessionFor()
			defer session.Close()

			report := StatsReport{
				Backend:   session.backend,
				Prefix:    session.cache.Prefix(),
				Available: session.cache.Available(),
				Inventory: session.cache.Inspect(),
				Stats:     session.cache.Stats(),
			}

			w := cmd.OutOrStdout()
			switch output {
			case outputJSON:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			case outputTable:
				if f, ok := w.(*os.File); ok && isTerminal(f) {
					return renderStyledStats(w, report, terminalWidth(f))
				}
				return renderPlainStats(w, report)
			default:
				return fmt.Errorf("unsupported output format %q (want table or json)", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table or json")
	return cmd
}

// statsLines returns the label/value rows shared by both renderers.
func statsLines(r StatsReport) [][2]string {
	p := message.NewPrinter(language.English)
	status := "available"
	if !r.Available {
		status = "unavailable"
	}
	return [][2]string{
		{"Backend", fmt.Sprintf("%s (%s)", r.Backend, status)},
		{"Prefix", r.Prefix},
		{"Entries", p.Sprintf("%d", r.Inventory.Entries)},
		{"Live", p.Sprintf("%d", r.Inventory.Live)},
		{"Expired", p.Sprintf("%d", r.Inventory.Expired)},
		{"Corrupt", p.Sprintf("%d", r.Inventory.Corrupt)},
		{"Size", humanize.Bytes(uint64(max(r.Inventory.Bytes, 0)))},
	}
}

// renderPlainStats writes a plain-text report for non-TTY output.
func renderPlainStats(w io.Writer, r StatsReport) error {
	var b strings.Builder
	b.WriteString("CACHE STATS\n")
	b.WriteString("===========\n")
	for _, line := range statsLines(r) {
		fmt.Fprintf(&b, "%-8s %s\n", line[0]+":", line[1])
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// renderStyledStats writes a bordered report for terminals.
func renderStyledStats(w io.Writer, r StatsReport, width int) error {
	boxWidth := min(max(width-4, minBoxWidth), defaultBoxWidth)

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Width(10)
	borderStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(boxWidth)

	var content strings.Builder
	content.WriteString(titleStyle.Render("CACHE STATS"))
	content.WriteString("\n\n")
	for _, line := range statsLines(r) {
		value := line[1]
		if line[0] == "Expired" && r.Inventory.Expired > 0 {
			value = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render(value)
		}
		if line[0] == "Corrupt" && r.Inventory.Corrupt > 0 {
			value = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render(value)
		}
		content.WriteString(labelStyle.Render(line[0]) + value + "\n")
	}

	_, err := fmt.Fprintln(w, borderStyle.Render(strings.TrimSuffix(content.String(), "\n")))
	return err
}

func terminalWidth(f *os.File) int {
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultBoxWidth + 4
	}
	return width
}
