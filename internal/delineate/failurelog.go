package delineate

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FailureLogName is created in the workspace.
const FailureLogName = "error_points.txt"

// FailureLog is the append-only list of site ids that failed, one per line.
// Entries from earlier runs are kept.
type FailureLog struct {
	mu    sync.Mutex
	f     *os.File
	count int
}

func OpenFailureLog(path string) (*FailureLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	return &FailureLog{f: f}, nil
}

// Add appends siteID and flushes it to disk.
func (l *FailureLog) Add(siteID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := fmt.Fprintf(l.f, "%d\n", siteID); err != nil {
		return err
	}
	l.count++
	return l.f.Sync()
}

// Count is the number of ids added since the log was opened.
func (l *FailureLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *FailureLog) Path() string {
	return l.f.Name()
}

func (l *FailureLog) Close() error {
	return l.f.Close()
}

// ReadFailureLog returns every site id in the failure log at path, oldest
// first. Blank lines are ignored.
func ReadFailureLog(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []int
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		id, err := strconv.Atoi(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		ids = append(ids, id)
	}
	return ids, scanner.Err()
}
