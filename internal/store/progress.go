package store

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"

	"github.com/evolab/gactl/internal/model"
)

// ProgressFile is the CSV file the optimizer appends one row per generation to.
// Reads happen while the optimizer writes, so only newline terminated lines
// are taken into account.
type ProgressFile struct {
	path string
}

func NewProgressFile(path string) ProgressFile {
	return ProgressFile{path: path}
}

func (f ProgressFile) Path() string {
	return f.path
}

// Count returns the number of rows Rows would return. Any error, including
// a missing file, counts as zero.
func (f ProgressFile) Count() int {
	rows, err := f.Rows(0)
	if err != nil {
		return 0
	}
	return len(rows)
}

// Rows parses the data rows starting at index since. Malformed lines are skipped.
func (f ProgressFile) Rows(since int) ([]model.ProgressRow, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []model.ProgressRow{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("progress file: %w", err)
	}
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		b = b[:i+1]
	} else {
		b = nil
	}
	return ParseRows(bytes.NewReader(b), since)
}

// ParseRows reads CSV rows in the optimizer format from r.
func ParseRows(r io.Reader, since int) ([]model.ProgressRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	rows := []model.ProgressRow{}
	idx := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			continue
		}
		if err != nil {
			return rows, fmt.Errorf("progress file: %w", err)
		}
		row, ok := parseRow(rec)
		if !ok {
			continue
		}
		if idx >= since {
			rows = append(rows, row)
		}
		idx++
	}
}

func parseRow(rec []string) (model.ProgressRow, bool) {
	if len(rec) != len(model.ProgressHeader) {
		return model.ProgressRow{}, false
	}
	gen, err := strconv.Atoi(rec[0])
	if err != nil {
		return model.ProgressRow{}, false
	}
	var vals [4]float64
	for i := range vals {
		vals[i], err = strconv.ParseFloat(rec[i+1], 64)
		// inf and nan after an overflow have no JSON form
		if err != nil || math.IsInf(vals[i], 0) || math.IsNaN(vals[i]) {
			return model.ProgressRow{}, false
		}
	}
	return model.ProgressRow{
		Generation:   gen,
		BestFitness:  vals[0],
		AvgFitness:   vals[1],
		WorstFitness: vals[2],
		Diversity:    vals[3],
	}, true
}

// Truncate removes the file. A missing file is not an error.
func (f ProgressFile) Truncate() error {
	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("progress file: %w", err)
	}
	return nil
}
