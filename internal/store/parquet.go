package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"momentum/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore with one Parquet file per session date
// and a CSV file at the same logical path as fallback.
type ParquetStore struct {
	DataDir string

	// writeParquet is swapped in tests to force the fallback path.
	writeParquet func(path string, records []IntradayRecord) error
	log          *slog.Logger
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{
		DataDir:      dataDir,
		writeParquet: writeParquetFile[IntradayRecord],
		log:          slog.Default().With("component", "bar-store"),
	}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// IntradayRecord is the on-disk schema of the intraday log.
type IntradayRecord struct {
	Date         string  `parquet:"date"`
	Time         string  `parquet:"time"`
	MinuteOffset int32   `parquet:"minute_offset"`
	Code         string  `parquet:"code"`
	Price        float64 `parquet:"price"`
	RetFromStart float64 `parquet:"ret_from_start"` // NaN when open was not observed
}

func toRecord(p domain.PersistedRecord) IntradayRecord {
	return IntradayRecord{
		Date:         p.Date,
		Time:         p.Time,
		MinuteOffset: int32(p.MinuteOffset),
		Code:         p.Code,
		Price:        p.Price,
		RetFromStart: p.RetFromStart,
	}
}

func fromRecord(r IntradayRecord) domain.PersistedRecord {
	return domain.PersistedRecord{
		Date:         r.Date,
		Time:         r.Time,
		MinuteOffset: int(r.MinuteOffset),
		Code:         r.Code,
		Price:        r.Price,
		RetFromStart: r.RetFromStart,
	}
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// Append merges records into the per-date file at:
//
//	<DataDir>/intraday/<YYYYMMDD>.parquet
//
// Existing rows are read, merged with the incoming ones (newest wins on
// (date, time, code)) and the file is rewritten atomically. When the Parquet
// write fails the merged set goes to <YYYYMMDD>.csv instead; when both fail
// the error wraps domain.ErrPersistence.
func (s *ParquetStore) Append(ctx context.Context, records []domain.PersistedRecord) error {
	if len(records) == 0 {
		return nil
	}

	groups := make(map[string][]IntradayRecord)
	for _, r := range records {
		groups[r.Date] = append(groups[r.Date], toRecord(r))
	}

	dates := make([]string, 0, len(groups))
	for d := range groups {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.appendDate(date, groups[date]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ParquetStore) appendDate(date string, incoming []IntradayRecord) error {
	pqPath := s.intradayPath(date)
	csvPath := csvPathFor(pqPath)

	primaryOK := true
	existing, err := readParquetFile[IntradayRecord](pqPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		// An unreadable primary file must not be overwritten.
		s.log.Warn("parquet read failed, using csv fallback", "date", date, "error", err)
		existing, primaryOK = nil, false
	}
	fallback, err := readCSVFile(csvPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("csv read failed", "date", date, "error", err)
	}

	merged := mergeIntradayRecords(mergeIntradayRecords(existing, fallback), incoming)

	if primaryOK {
		perr := s.writeParquet(pqPath, merged)
		if perr == nil {
			if len(fallback) > 0 {
				if err := os.Remove(csvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
					s.log.Warn("removing merged csv fallback", "path", csvPath, "error", err)
				}
			}
			s.log.Debug("records persisted", "date", date, "incoming", len(incoming), "total", len(merged))
			return nil
		}
		s.log.Warn("parquet write failed, using csv fallback", "date", date, "error", perr)
	}

	if err := writeCSVFile(csvPath, merged); err != nil {
		return fmt.Errorf("writing records for %s: %w: %w", date, domain.ErrPersistence, err)
	}
	s.log.Info("records persisted to csv fallback", "date", date, "total", len(merged))
	return nil
}

// Read returns all records of a session date from both formats.
func (s *ParquetStore) Read(_ context.Context, date string) ([]domain.PersistedRecord, error) {
	pqPath := s.intradayPath(date)

	primary, err := readParquetFile[IntradayRecord](pqPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", pqPath, err)
	}
	fallback, err := readCSVFile(csvPathFor(pqPath))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading csv for %s: %w", date, err)
	}

	merged := mergeIntradayRecords(primary, fallback)
	out := make([]domain.PersistedRecord, 0, len(merged))
	for _, r := range merged {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

// ListDates lists all session dates that have an intraday file.
func (s *ParquetStore) ListDates(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, "intraday")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != ".parquet" && ext != ".csv" {
			continue
		}
		seen[strings.TrimSuffix(name, ext)] = struct{}{}
	}

	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// intradayPath returns the filesystem path for a session's Parquet file.
// Layout: <dataDir>/intraday/<YYYYMMDD>.parquet
func (s *ParquetStore) intradayPath(date string) string {
	return filepath.Join(s.DataDir, "intraday", date+".parquet")
}

func csvPathFor(parquetPath string) string {
	return strings.TrimSuffix(parquetPath, ".parquet") + ".csv"
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

// writeParquetFile writes to a temporary sibling and renames it into place.
func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeIntradayRecords deduplicates records by (date, time, code), preferring
// incoming records over existing ones. Results are sorted by (date, time, code).
func mergeIntradayRecords(existing, incoming []IntradayRecord) []IntradayRecord {
	type key struct {
		date string
		time string
		code string
	}
	seen := make(map[key]IntradayRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Date, r.Time, r.Code}] = r
	}
	for _, r := range incoming {
		seen[key{r.Date, r.Time, r.Code}] = r
	}

	merged := make([]IntradayRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.Code < b.Code
	})
	return merged
}
