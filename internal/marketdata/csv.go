package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sig "donchianbot/internal/signal"
)

// CSVSource reads <dir>/<SYMBOL>.csv files with a timestamp,open,high,low,close,volume header.
// Timestamps are RFC3339 or unix milliseconds.
type CSVSource struct {
	Dir string
}

// NewCSVSource returns a source rooted at dir.
func NewCSVSource(dir string) *CSVSource { return &CSVSource{Dir: dir} }

// Bars streams the file row by row. Values that parse as numbers are passed through even when
// not finite so the indicator engine can reject them as malformed bars.
func (s *CSVSource) Bars(ctx context.Context, symbol string, from, to time.Time) iter.Seq2[sig.Bar, error] {
	return func(yield func(sig.Bar, error) bool) {
		path := filepath.Join(s.Dir, strings.ToUpper(symbol)+".csv")
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				err = fmt.Errorf("%w: %s (%s)", ErrUnknownSymbol, symbol, path)
			}
			yield(sig.Bar{}, err)
			return
		}
		defer f.Close()

		r := csv.NewReader(f)
		r.FieldsPerRecord = 6
		r.TrimLeadingSpace = true
		header, err := r.Read()
		if err != nil {
			yield(sig.Bar{}, fmt.Errorf("read %s header: %w", path, err))
			return
		}
		if !strings.EqualFold(strings.TrimSpace(header[0]), "timestamp") {
			yield(sig.Bar{}, fmt.Errorf("%s: unexpected header %v", path, header))
			return
		}

		line := 1
		for {
			if err := ctx.Err(); err != nil {
				yield(sig.Bar{}, err)
				return
			}
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			line++
			if err != nil {
				yield(sig.Bar{}, fmt.Errorf("%s line %d: %w", path, line, err))
				return
			}
			bar, err := parseRecord(symbol, rec)
			if err != nil {
				yield(sig.Bar{}, fmt.Errorf("%s line %d: %w", path, line, err))
				return
			}
			if !inRange(bar.Time, from, to) {
				continue
			}
			if !yield(bar, nil) {
				return
			}
		}
	}
}

func parseRecord(symbol string, rec []string) (sig.Bar, error) {
	ts, err := parseTimestamp(rec[0])
	if err != nil {
		return sig.Bar{}, err
	}
	var vals [5]float64
	for i := range vals {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return sig.Bar{}, fmt.Errorf("column %d: %w", i+2, err)
		}
	}
	return sig.Bar{
		Symbol: symbol,
		Time:   ts,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.DateOnly, raw); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
