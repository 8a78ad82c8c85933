package acq

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/ultrasession/internal/models"
)

// RuntimeVarsFile lives in the experiment base directory and declares one
// runtime variable name per line.
const RuntimeVarsFile = "runtime_vars.txt"

// RuntimeVars is the ordered mapping from declared variable name to the
// directory segment bound to it.
type RuntimeVars []models.RuntimeVariable

// Get returns the value bound to name.
func (rv RuntimeVars) Get(name string) (string, bool) {
	for _, v := range rv {
		if v.Name == name {
			return v.Value, true
		}
	}
	return "", false
}

// Names returns the declared names in order.
func (rv RuntimeVars) Names() []string {
	names := make([]string, len(rv))
	for i, v := range rv {
		names[i] = v.Name
	}
	return names
}

// ReadRuntimeVarNames returns the first whitespace-delimited field of each
// non-blank line of path.
func ReadRuntimeVarNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		names = append(names, fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return names, nil
}

// InferRuntimeVars binds names to the directories between expDir and the
// run directory. The run directory's parent binds to the last name, its
// grandparent to the one before, and so on outward. A name with no
// directory left to bind gets an empty value.
func InferRuntimeVars(expDir, runDir string, names []string) (RuntimeVars, error) {
	rel, err := filepath.Rel(filepath.Clean(expDir), filepath.Clean(runDir))
	if err != nil {
		return nil, fmt.Errorf("run %s is not under %s: %w", runDir, expDir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("run %s is not under %s", runDir, expDir)
	}

	dir := filepath.Dir(rel)
	vars := make(RuntimeVars, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		var val string
		if dir != "." && dir != string(filepath.Separator) {
			val = filepath.Base(dir)
			dir = filepath.Dir(dir)
		}
		vars[i] = models.RuntimeVariable{Name: names[i], Value: val}
	}
	return vars, nil
}
