package dataset

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// missingTokens are the field values read as "no observation".
var missingTokens = map[string]bool{
	"":     true,
	"NA":   true,
	"NaN":  true,
	"nan":  true,
	".":    true,
	"null": true,
	"NULL": true,
}

// LoadCSV loads a CSV file with a header row into a Frame. Paths ending in
// .gz are decompressed on the fly. Each column is numeric when all of its
// non-missing fields parse as floats, and string otherwise.
func LoadCSV(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gunzip %s: %w", path, err)
		}
		defer gz.Close()
		src = gz
	}

	frame, err := ReadCSV(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return frame, nil
}

// ReadCSV parses CSV text from r. See LoadCSV.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty header")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 || (len(header) == 1 && strings.TrimSpace(header[0]) == "") {
		return nil, fmt.Errorf("empty header")
	}
	K := len(header)
	for j := range header {
		header[j] = strings.TrimSpace(strings.TrimPrefix(header[j], "\ufeff"))
		if header[j] == "" {
			return nil, fmt.Errorf("header column %d has no name", j+1)
		}
	}

	raw := make([][]string, K)
	row := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+2, err)
		}

		// Skip completely empty lines
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		if len(record) != K {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", row+2, K, len(record))
		}
		for j, s := range record {
			raw[j] = append(raw[j], strings.TrimSpace(s))
		}
		row++
	}

	if row == 0 {
		return nil, fmt.Errorf("no data rows")
	}

	cols := make([]*Column, K)
	for j, name := range header {
		cols[j] = typeColumn(name, raw[j])
	}
	return NewFrame(cols...)
}

// typeColumn decides the column kind and converts the raw fields.
// Non-finite numbers are stored as missing.
func typeColumn(name string, fields []string) *Column {
	vals := make([]float64, len(fields))
	for i, s := range fields {
		if missingTokens[s] {
			vals[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			strs := make([]string, len(fields))
			for k, s := range fields {
				if !missingTokens[s] {
					strs[k] = s
				}
			}
			return &Column{Name: name, Kind: String, Str: strs}
		}
		if math.IsInf(v, 0) || math.IsNaN(v) {
			// Inf, Infinity and similar are not observations
			v = math.NaN()
		}
		vals[i] = v
	}
	return &Column{Name: name, Kind: Numeric, Float: vals}
}
