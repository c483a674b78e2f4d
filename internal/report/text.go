package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/nao1215/crawlkit/internal/model"
)

// TextWriter outputs reports as plain text tables for terminal display.
type TextWriter struct {
	output io.Writer
}

// NewTextWriter creates a TextWriter that outputs to the given writer.
func NewTextWriter(output io.Writer) *TextWriter {
	return &TextWriter{output: output}
}

// Write outputs the run summary.
func (w *TextWriter) Write(s *Summary) (int, error) {
	cw := &countingWriter{w: w.output}

	fmt.Fprintf(cw, "\n%s\n%s\n%s\n\n", strings.Repeat("=", 70), center("CRAWL REPORT", 70), strings.Repeat("=", 70))
	if err := renderPairs(cw, [][2]string{
		{"Run", valueOr(s.RunID, "-")},
		{"Status", valueOr(s.Status, "-")},
		{"Seeds", strconv.Itoa(len(s.Seeds))},
		{"Started", formatTime(s.StartedAt)},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
		{"Pages", humanize.Comma(int64(s.Pages))},
		{"Failed", humanize.Comma(int64(s.Failed))},
		{"From cache", humanize.Comma(int64(s.FromCache))},
		{"Downloaded", humanize.IBytes(uint64(max(s.Bytes, 0)))}, //nolint:gosec // clamped above
	}); err != nil {
		return cw.n, err
	}

	if len(s.StatusCode) > 0 {
		section(cw, "STATUS CODES")
		rows := make([][]string, 0, len(s.StatusCode))
		for _, code := range s.StatusCodes() {
			rows = append(rows, []string{code, strconv.Itoa(s.StatusCode[code])})
		}
		if err := renderTable(cw, []string{"Status", "Pages"}, rows); err != nil {
			return cw.n, err
		}
	}

	if len(s.Hosts) > 0 {
		section(cw, "HOSTS")
		rows := make([][]string, 0, len(s.Hosts))
		for _, h := range s.Hosts {
			rows = append(rows, []string{h.Host, strconv.Itoa(h.Pages)})
		}
		if err := renderTable(cw, []string{"Host", "Pages"}, rows); err != nil {
			return cw.n, err
		}
	}

	if len(s.Counters) > 0 {
		section(cw, "COUNTERS")
		rows := make([][]string, 0, len(s.Counters))
		for _, k := range s.CounterKeys() {
			rows = append(rows, []string{k, humanize.Comma(s.Counters[k])})
		}
		if err := renderTable(cw, []string{"Counter", "Value"}, rows); err != nil {
			return cw.n, err
		}
	}

	for _, name := range s.CollectionNames() {
		values := s.Collections[name]
		if len(values) == 0 {
			continue
		}
		section(cw, strings.ToUpper(name))
		for _, v := range values {
			fmt.Fprintf(cw, "  %s\n", v)
		}
		if more := s.CollectionSizes[name] - len(values); more > 0 {
			fmt.Fprintf(cw, "  ... and %d more\n", more)
		}
	}

	fmt.Fprintf(cw, "\n%s\n", strings.Repeat("=", 70))
	return cw.n, nil
}

// WriteRuns outputs past runs as a table, newest first.
func (w *TextWriter) WriteRuns(runs []*model.Run) (int, error) {
	cw := &countingWriter{w: w.output}
	if len(runs) == 0 {
		fmt.Fprintln(cw, "No runs recorded.")
		return cw.n, nil
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			formatTime(r.StartedAt),
			r.Duration().Round(time.Second).String(),
			r.Status,
			strconv.Itoa(r.Pages),
			strconv.Itoa(r.Failed),
			strings.Join(r.Seeds, " "),
		})
	}
	err := renderTable(cw, []string{"ID", "Started", "Duration", "Status", "Pages", "Failed", "Seeds"}, rows)
	return cw.n, err
}

func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	headerCells := make([]any, len(header))
	for i, h := range header {
		headerCells[i] = h
	}
	table.Header(headerCells...)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}

func renderPairs(w io.Writer, pairs [][2]string) error {
	rows := make([][]string, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, []string{p[0], p[1]})
	}
	return renderTable(w, []string{"Property", "Value"}, rows)
}

func section(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n%s\n", title, strings.Repeat("-", 70))
}

func center(s string, width int) string {
	pad := (width - len(s)) / 2
	if pad <= 0 {
		return s
	}
	return strings.Repeat(" ", pad) + s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05 MST")
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
