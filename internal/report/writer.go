package report

import (
	"io"

	"github.com/nao1215/crawlkit/internal/model"
)

// Writer defines the interface for report output.
type Writer interface {
	// Write outputs the report of one run.
	// Returns the number of bytes written and any error encountered.
	Write(summary *Summary) (int, error)

	// WriteRuns outputs a list of past runs.
	WriteRuns(runs []*model.Run) (int, error)
}

// MultiWriter writes to multiple Writers, e.g. terminal and file.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the summary to all Writers and stops on the first error.
func (m *MultiWriter) Write(summary *Summary) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(summary)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteRuns outputs the runs to all Writers and stops on the first error.
func (m *MultiWriter) WriteRuns(runs []*model.Run) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteRuns(runs)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// New returns the writer for the given format flags; text is the default.
func New(output io.Writer, jsonFormat, markdownFormat bool, version string) Writer {
	switch {
	case jsonFormat:
		return NewJSONWriter(output, WithPrettyPrint(), WithVersion(version))
	case markdownFormat:
		return NewMarkdownWriter(output)
	default:
		return NewTextWriter(output)
	}
}

// countingWriter counts bytes written through it.
type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}
