// Package report renders the outcome of a crawl run.
//
// A Summary condenses the run record, the final stats snapshot and the
// stored pages. Writers render it in three formats:
//   - TextWriter: tables for terminal display
//   - JSONWriter: structured JSON for tool integration
//   - MarkdownWriter: GitHub-flavored Markdown with a mermaid pie chart
//
// Writers also render the run history listed by `crawlkit history`.
package report
