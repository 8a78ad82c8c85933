package acq

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultParamsFile is the name of the parameter copy inside a run directory.
const DefaultParamsFile = "params.cfg"

// ParseParams reads "key = value" lines. Everything from the first '#' is a
// comment. Lines without '=' are skipped. A repeated key keeps the value of
// its last occurrence.
func ParseParams(r io.Reader) (map[string]string, error) {
	params := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		params[key] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return params, nil
}

// ReadParams parses the parameter file at path.
func ReadParams(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	params, err := ParseParams(f)
	if err != nil {
		return nil, fmt.Errorf("read params %s: %w", path, err)
	}
	return params, nil
}
