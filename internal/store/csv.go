package store

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

var csvHeader = []string{"date", "time", "minute_offset", "code", "price", "ret_from_start"}

// writeCSVFile writes records with the intraday schema, atomically.
func writeCSVFile(path string, records []IntradayRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	_ = w.Write(csvHeader)
	for _, r := range records {
		_ = w.Write([]string{
			r.Date,
			r.Time,
			strconv.Itoa(int(r.MinuteOffset)),
			r.Code,
			strconv.FormatFloat(r.Price, 'f', -1, 64),
			formatRet(r.RetFromStart),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readCSVFile(path string) ([]IntradayRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var out []IntradayRecord
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == csvHeader[0] {
			continue
		}
		if len(row) != len(csvHeader) {
			return nil, fmt.Errorf("%s line %d: %d fields, want %d", path, i+1, len(row), len(csvHeader))
		}
		off, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: minute_offset: %w", path, i+1, err)
		}
		price, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: price: %w", path, i+1, err)
		}
		out = append(out, IntradayRecord{
			Date:         row[0],
			Time:         row[1],
			MinuteOffset: int32(off),
			Code:         row[3],
			Price:        price,
			RetFromStart: parseRet(row[5]),
		})
	}
	return out, nil
}

func formatRet(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseRet(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
