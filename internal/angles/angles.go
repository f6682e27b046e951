// Package angles builds the per-projection sin/cos tables used by
// back-projection, either by parsing an angle file or by falling back to a
// uniform angular step. Table construction is guarded so that, even when
// multiple back-projection workers race to build it, the work happens
// exactly once (see the "one-shot angle-table initialization" design
// note).
package angles

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Table holds the length-NProj sin/cos tables, indexed by projection index.
type Table struct {
	Sin, Cos []float64
}

// Warning reports a recoverable anomaly in angle-table construction:
// a missing/malformed angle file, or a row count that did not match
// NProj. It is never fatal.
type Warning struct {
	Msg string
}

func (w *Warning) Error() string { return w.Msg }

// Uniform builds a Table of nProj angles stepped uniformly by stepDeg
// degrees starting at zero, matching what the source emits when no angle
// file is supplied.
func Uniform(nProj int, stepDeg float64) Table {
	t := Table{Sin: make([]float64, nProj), Cos: make([]float64, nProj)}
	for i := 0; i < nProj; i++ {
		phi := float64(i) * stepDeg * math.Pi / 180
		t.Sin[i] = math.Sin(phi)
		t.Cos[i] = math.Cos(phi)
	}
	return t
}

// ParseFile reads one decimal angle (in degrees) per line from path and
// builds the corresponding Table. The decimal separator is auto-detected:
// if the first non-empty line contains a comma, every line is parsed with
// ',' as the decimal separator (legacy locale); otherwise '.' is assumed.
//
// If path cannot be read, or the file yields fewer angles than nProj, the
// shortfall is padded with synthetic uniform-step angles continuing from
// stepDeg, and a non-nil *Warning is returned alongside a usable Table.
// Per spec.md §7 this is a recoverable anomaly, never fatal — see the Open
// Question decision recorded in DESIGN.md.
func ParseFile(path string, nProj int, stepDeg float64) (Table, *Warning) {
	degrees, err := readAngleFile(path)
	if err != nil {
		return Uniform(nProj, stepDeg), &Warning{Msg: fmt.Sprintf("angles: %v; falling back to uniform %.4f deg step", err, stepDeg)}
	}

	var warn *Warning
	if len(degrees) < nProj {
		missing := nProj - len(degrees)
		for i := 0; i < missing; i++ {
			degrees = append(degrees, float64(len(degrees))*stepDeg)
		}
		warn = &Warning{Msg: fmt.Sprintf("angles: file %s supplied %d angles, padded %d synthetic uniform-step angles to reach n_proj=%d", path, nProj-missing, missing, nProj)}
	} else if len(degrees) > nProj {
		degrees = degrees[:nProj]
		warn = &Warning{Msg: fmt.Sprintf("angles: file %s supplied more angles than n_proj=%d, truncated", path, nProj)}
	}

	t := Table{Sin: make([]float64, nProj), Cos: make([]float64, nProj)}
	for i, deg := range degrees {
		phi := deg * math.Pi / 180
		t.Sin[i] = math.Sin(phi)
		t.Cos[i] = math.Cos(phi)
	}
	return t, warn
}

func readAngleFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open angle file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r\n")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading angle file: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("angle file %s is empty", path)
	}

	commaLocale := strings.Contains(lines[0], ",")

	degrees := make([]float64, 0, len(lines))
	for _, line := range lines {
		if commaLocale {
			line = strings.Replace(line, ",", ".", 1)
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed angle %q: %w", line, err)
		}
		degrees = append(degrees, v)
	}
	return degrees, nil
}

// OnceTable is a write-once, read-many angle table: the first caller to
// reach Build constructs it; every caller (including the builder) blocks
// until construction completes, then reads the same Table.
type OnceTable struct {
	once  sync.Once
	table Table
	warn  *Warning
}

// Build runs build exactly once across all callers and returns the
// resulting Table (and any Warning) to every caller.
func (o *OnceTable) Build(build func() (Table, *Warning)) (Table, *Warning) {
	o.once.Do(func() {
		o.table, o.warn = build()
	})
	return o.table, o.warn
}
