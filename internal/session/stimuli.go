package session

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// ReadStimuli reads one stimulus per line, trailing whitespace removed.
// An empty path yields a single untagged acquisition.
func ReadStimuli(path string) ([]string, error) {
	if path == "" {
		return []string{""}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stimulus file: %w", err)
	}
	defer f.Close()

	var stims []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		stims = append(stims, strings.TrimRightFunc(scanner.Text(), unicode.IsSpace))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stimulus file: %w", err)
	}
	return stims, nil
}
