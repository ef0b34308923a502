package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ReadSkipLog returns the ids listed in a skip log, one per line, in file
// order. Lines are taken verbatim apart from a trailing carriage return;
// empty lines are ignored. A missing file yields no ids.
func ReadSkipLog(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSuffix(scanner.Text(), "\r")
		if id != "" {
			ids = append(ids, id)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read skip log %s: %w", path, err)
	}
	return ids, nil
}

// AppendSkip appends id as a new line. Earlier lines are never rewritten; a
// torn last line from an interrupted write is terminated first.
func AppendSkip(path, id string) error {
	if id == "" || strings.ContainsAny(id, "\r\n") {
		return fmt.Errorf("skip log id %q must be non-empty and on one line", id)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create skip log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open skip log: %w", err)
	}
	defer f.Close()

	line := id + "\n"
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err == nil && last[0] != '\n' {
			line = "\n" + line
		}
	}

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append skip log: %w", err)
	}
	return f.Sync()
}
