package report

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/crawlkit/internal/model"
)

// MarkdownWriter outputs GitHub-flavored Markdown reports for sharing.
type MarkdownWriter struct {
	output io.Writer
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{output: output}
}

// Write outputs the run summary.
func (w *MarkdownWriter) Write(s *Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, s)
	w.writeOutcome(md, s)
	w.writeStatusCodes(md, s)
	w.writeHosts(md, s)
	w.writeCounters(md, s)
	w.writeCollections(md, s)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// WriteRuns outputs past runs as a table.
func (w *MarkdownWriter) WriteRuns(runs []*model.Run) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Crawl History")
	md.PlainText("")

	if len(runs) == 0 {
		md.PlainText("No runs recorded.")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			"`" + r.ID + "`",
			formatTime(r.StartedAt),
			r.Duration().Round(time.Second).String(),
			statusText(r.Status),
			strconv.Itoa(r.Pages),
			strconv.Itoa(r.Failed),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Run", "Started", "Duration", "Status", "Pages", "Failed"},
		Rows:   rows,
	})
	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, s *Summary) {
	md.H1("Crawl Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run", "`" + valueOr(s.RunID, "-") + "`"},
			{"Started", formatTime(s.StartedAt)},
			{"Duration", s.Duration.Round(time.Millisecond).String()},
			{"Status", statusText(s.Status)},
			{"Pages", humanize.Comma(int64(s.Pages))},
			{"Downloaded", humanize.IBytes(uint64(max(s.Bytes, 0)))}, //nolint:gosec // clamped above
		},
	})
	md.PlainText("")

	if len(s.Seeds) > 0 {
		md.H2("Seeds")
		md.PlainText("")
		md.BulletList(s.Seeds...)
		md.PlainText("")
	}
}

func statusText(status string) string {
	switch status {
	case model.RunCompleted:
		return "✅ Completed"
	case model.RunStopped:
		return "⏹️ Stopped"
	case model.RunAborted:
		return "❌ Aborted"
	case "":
		return "-"
	default:
		return status
	}
}

// writeOutcome writes the page outcome table, a pie chart and an alert.
func (w *MarkdownWriter) writeOutcome(md *markdown.Markdown, s *Summary) {
	md.H2("Outcome")
	md.PlainText("")

	fetched := s.Succeeded() - s.FromCache
	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Pages"},
		Rows: [][]string{
			{"Fetched", strconv.Itoa(fetched)},
			{"From cache", strconv.Itoa(s.FromCache)},
			{"Failed", strconv.Itoa(s.Failed)},
			{"**Total**", "**" + strconv.Itoa(s.Pages) + "**"},
		},
	})
	md.PlainText("")

	if s.Pages > 0 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Page Outcome"),
			piechart.WithShowData(true),
		)
		if fetched > 0 {
			chart.LabelAndIntValue("Fetched", uint64(fetched))
		}
		if s.FromCache > 0 {
			chart.LabelAndIntValue("From cache", uint64(s.FromCache))
		}
		if s.Failed > 0 {
			chart.LabelAndIntValue("Failed", uint64(s.Failed))
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	switch {
	case s.Status == model.RunAborted:
		md.Cautionf("The run was aborted after %d page(s).", s.Pages)
	case s.Pages > 0 && s.Failed == s.Pages:
		md.Warningf("All %d page(s) failed.", s.Failed)
	case s.Failed > 0:
		md.Importantf("%d of %d page(s) could not be fetched.", s.Failed, s.Pages)
	case s.Pages == 0:
		md.Note("No pages were stored.")
	default:
		md.Tip("All pages were fetched.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeStatusCodes(md *markdown.Markdown, s *Summary) {
	if len(s.StatusCode) == 0 {
		return
	}
	md.H2("Status Codes")
	md.PlainText("")

	rows := make([][]string, 0, len(s.StatusCode))
	for _, code := range s.StatusCodes() {
		rows = append(rows, []string{code, strconv.Itoa(s.StatusCode[code])})
	}
	md.Table(markdown.TableSet{Header: []string{"Status", "Pages"}, Rows: rows})
	md.PlainText("")
}

func (w *MarkdownWriter) writeHosts(md *markdown.Markdown, s *Summary) {
	if len(s.Hosts) == 0 {
		return
	}
	md.H2("Hosts")
	md.PlainText("")

	rows := make([][]string, 0, len(s.Hosts))
	for _, h := range s.Hosts {
		rows = append(rows, []string{"`" + h.Host + "`", strconv.Itoa(h.Pages)})
	}
	md.Table(markdown.TableSet{Header: []string{"Host", "Pages"}, Rows: rows})
	md.PlainText("")
}

func (w *MarkdownWriter) writeCounters(md *markdown.Markdown, s *Summary) {
	if len(s.Counters) == 0 {
		return
	}
	md.H2("Counters")
	md.PlainText("")

	rows := make([][]string, 0, len(s.Counters))
	for _, k := range s.CounterKeys() {
		rows = append(rows, []string{"`" + k + "`", humanize.Comma(s.Counters[k])})
	}
	md.Table(markdown.TableSet{Header: []string{"Counter", "Value"}, Rows: rows})
	md.PlainText("")
}

// writeCollections writes each non-empty collection in a collapsible block.
func (w *MarkdownWriter) writeCollections(md *markdown.Markdown, s *Summary) {
	for _, name := range s.CollectionNames() {
		values := s.Collections[name]
		if len(values) == 0 {
			continue
		}
		lines := make([]string, 0, len(values)+1)
		for _, v := range values {
			lines = append(lines, "- "+truncateString(v, 120))
		}
		if more := s.CollectionSizes[name] - len(values); more > 0 {
			lines = append(lines, "- … and "+strconv.Itoa(more)+" more")
		}
		md.Details(name+" ("+strconv.Itoa(s.CollectionSizes[name])+")", strings.Join(lines, "\n"))
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [crawlkit](https://github.com/nao1215/crawlkit)*")
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
