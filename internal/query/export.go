package query

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"ads-console/internal/ads"
	"ads-console/internal/audit"
)

// Export formats. Both are lossless: parsing an export yields records equal to
// the originals, so exports can feed offline compliance tooling and be
// re-checked against the live store.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

var csvHeader = []string{
	"id", "timestamp", "actor", "account_id",
	"entity_type", "entity_id", "operation",
	"before", "after",
	"outcome", "error_detail", "error_code", "latency_ms", "correlation_id",
}

// Export streams every record matching f into w in the given format.
func (e *Engine) Export(ctx context.Context, f audit.Filter, format string, w io.Writer) error {
	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		if err := e.Walk(ctx, f, func(r audit.Record) error {
			row, err := csvRow(r)
			if err != nil {
				return err
			}
			return cw.Write(row)
		}); err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	case FormatJSONL:
		enc := json.NewEncoder(w)
		return e.Walk(ctx, f, func(r audit.Record) error {
			return enc.Encode(r)
		})
	default:
		return fmt.Errorf("%w: unknown export format %q", ErrInvalidFilter, format)
	}
}

func csvRow(r audit.Record) ([]string, error) {
	before, err := encodeState(r.Before)
	if err != nil {
		return nil, err
	}
	after, err := encodeState(r.After)
	if err != nil {
		return nil, err
	}
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Timestamp.Format(time.RFC3339Nano),
		r.Actor,
		r.AccountID,
		string(r.EntityType),
		r.EntityID,
		string(r.Operation),
		before,
		after,
		string(r.Outcome),
		r.ErrorDetail,
		r.ErrorCode,
		strconv.FormatInt(r.LatencyMS, 10),
		r.CorrelationID,
	}, nil
}

// ParseCSV reads an export produced by Export(FormatCSV) back into records.
func ParseCSV(r io.Reader) ([]audit.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("query: csv header: %w", err)
	}
	for i, col := range csvHeader {
		if header[i] != col {
			return nil, fmt.Errorf("query: csv header mismatch at column %d: got %q, want %q", i, header[i], col)
		}
	}

	var out []audit.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		rec, err := recordFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

func recordFromRow(row []string) (audit.Record, error) {
	id, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return audit.Record{}, fmt.Errorf("query: csv id: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, row[1])
	if err != nil {
		return audit.Record{}, fmt.Errorf("query: csv timestamp: %w", err)
	}
	before, err := decodeState(row[7])
	if err != nil {
		return audit.Record{}, err
	}
	after, err := decodeState(row[8])
	if err != nil {
		return audit.Record{}, err
	}
	latency, err := strconv.ParseInt(row[12], 10, 64)
	if err != nil {
		return audit.Record{}, fmt.Errorf("query: csv latency_ms: %w", err)
	}
	return audit.Record{
		ID:            id,
		Timestamp:     ts,
		Actor:         row[2],
		AccountID:     row[3],
		EntityType:    ads.EntityType(row[4]),
		EntityID:      row[5],
		Operation:     ads.Operation(row[6]),
		Before:        before,
		After:         after,
		Outcome:       audit.Outcome(row[9]),
		ErrorDetail:   row[10],
		ErrorCode:     row[11],
		LatencyMS:     latency,
		CorrelationID: row[13],
	}, nil
}

// ParseJSONL reads an export produced by Export(FormatJSONL).
func ParseJSONL(r io.Reader) ([]audit.Record, error) {
	var out []audit.Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec audit.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("query: jsonl record: %w", err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

// encodeState serializes a field snapshot into one CSV cell. A nil map becomes
// the empty cell so nil/absent survives the round trip.
func encodeState(m map[string]string) (string, error) {
	if m == nil {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeState(cell string) (map[string]string, error) {
	if cell == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(cell), &m); err != nil {
		return nil, fmt.Errorf("query: csv state cell: %w", err)
	}
	return m, nil
}
