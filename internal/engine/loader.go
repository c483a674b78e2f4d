package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nao1215/crawlkit/internal/task"
)

// LoadTasks reads one URL per line from path and adds a task named name for
// each. Blank lines and lines starting with # are skipped. A positive limit
// stops loading after that many accepted tasks. It returns the number of
// accepted tasks.
func (e *Engine) LoadTasks(path, name string, limit int, opts ...task.Option) (int, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return 0, fmt.Errorf("failed to open task file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	return e.ReadTasks(f, name, limit, opts...)
}

// ReadTasks is LoadTasks for an open reader.
func (e *Engine) ReadTasks(r io.Reader, name string, limit int, opts ...task.Option) (int, error) {
	accepted := 0
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ok, err := e.AddTask(name, line, opts...)
		if err != nil {
			return accepted, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if ok {
			accepted++
		}
		if limit > 0 && accepted >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return accepted, fmt.Errorf("failed to read task file: %w", err)
	}

	e.logger.Info("tasks loaded", "task", name, "accepted", accepted)
	return accepted, nil
}
