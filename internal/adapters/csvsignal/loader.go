package csvsignal

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"kistrader/internal/domain"
	"kistrader/internal/ports"
)

// Loader reads the day's ranked candidate list from a CSV file. The file
// order is the admission order; ranking itself happens upstream.
//
// Expected header: code,name,side,qty,entry,tp,sl,score,rr,confidence,
// horizon,valid_until. Optional columns may be empty.
type Loader struct {
	Path     string
	Location *time.Location // Exchange timezone for naive timestamps
	Logger   ports.Logger
}

// Load implements ports.SignalSource. Rows that cannot form a valid
// candidate (missing code, qty <= 0, entry <= 0) are dropped with a warning
// rather than failing the whole file.
func (l *Loader) Load(ctx context.Context) ([]domain.Signal, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open signals file %s: %w", l.Path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read signals header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))] = i
	}
	for _, required := range []string{"code", "qty", "entry"} {
		if _, found := col[required]; !found {
			return nil, fmt.Errorf("signals file %s missing column %q", l.Path, required)
		}
	}

	field := func(row []string, name string) string {
		i, found := col[name]
		if !found || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	signals := make([]domain.Signal, 0)
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			l.Logger.Warn(ctx, "Skipping unparsable signals row", map[string]interface{}{"line": line, "error": err.Error()})
			continue
		}

		code := padCode(field(row, "code"))
		qty, _ := strconv.ParseInt(field(row, "qty"), 10, 64)
		entry, _ := strconv.ParseFloat(field(row, "entry"), 64)
		if code == "" || qty <= 0 || entry <= 0 {
			l.Logger.Warn(ctx, "Skipping invalid signals row", map[string]interface{}{"line": line, "code": code, "qty": qty, "entry": entry})
			continue
		}

		side := domain.OrderSide(strings.ToUpper(field(row, "side")))
		if side == "" {
			side = domain.Buy
		}

		signals = append(signals, domain.Signal{
			Code:       code,
			Name:       field(row, "name"),
			Side:       side,
			Qty:        qty,
			Entry:      entry,
			TP:         parseOptionalFloat(field(row, "tp")),
			SL:         parseOptionalFloat(field(row, "sl")),
			Score:      parseOptionalFloat(field(row, "score")),
			RR:         parseOptionalFloat(field(row, "rr")),
			Confidence: parseOptionalFloat(field(row, "confidence")),
			Horizon:    field(row, "horizon"),
			ValidUntil: l.parseTime(field(row, "valid_until")),
		})
	}

	l.Logger.Info(ctx, "Signals loaded", map[string]interface{}{"path": l.Path, "count": len(signals)})
	return signals, nil
}

// padCode left-pads numeric instrument codes to the 6-digit KRX form
// (spreadsheet exports tend to strip leading zeros).
func padCode(code string) string {
	if code == "" || len(code) >= 6 {
		return code
	}
	return strings.Repeat("0", 6-len(code)) + code
}

func parseOptionalFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func (l *Loader) parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	loc := l.Location
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}
