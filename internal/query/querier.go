// Package query reads stored detection events back from ClickHouse.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SpectraIDS/internal/config"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// maxRecent caps the rows returned by Recent.
const maxRecent = 1000

// LabelSummary is the number of detections of one label.
type LabelSummary struct {
	Label         string  `json:"label"`
	Count         uint64  `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
	LastSeen      float64 `json:"last_seen"` // unix seconds
}

// Detection is one stored event.
type Detection struct {
	Timestamp  float64 `json:"timestamp"`
	ID         string  `json:"id"`
	Origin     string  `json:"origin"`
	SrcIP      string  `json:"src_ip"`
	DstIP      string  `json:"dst_ip"`
	SrcPort    uint16  `json:"src_port"`
	DstPort    uint16  `json:"dst_port"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Filter narrows a query. Zero values match everything.
type Filter struct {
	Since  time.Time
	Until  time.Time
	Origin string
	Label  string
}

// Querier defines the interface for querying stored detections.
type Querier interface {
	Summary(ctx context.Context, f Filter) ([]LabelSummary, error)
	Recent(ctx context.Context, f Filter, limit int) ([]Detection, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn clickhouse.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (clickhouse.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// where renders the filter as a WHERE clause with positional arguments.
func where(f Filter) (string, []any) {
	var clauses []string
	var args []any
	if !f.Since.IsZero() {
		clauses = append(clauses, "Timestamp >= ?")
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "Timestamp <= ?")
		args = append(args, f.Until)
	}
	if f.Origin != "" {
		clauses = append(clauses, "Origin = ?")
		args = append(args, f.Origin)
	}
	if f.Label != "" {
		clauses = append(clauses, "Label = ?")
		args = append(args, f.Label)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func summaryQuery(f Filter) (string, []any) {
	clause, args := where(f)
	return `
		SELECT
			Label,
			count() AS Total,
			avg(Confidence) AS AvgConfidence,
			max(Timestamp) AS LastSeen
		FROM detection_events` + clause + `
		GROUP BY Label
		ORDER BY Total DESC, Label`, args
}

func recentQuery(f Filter, limit int) (string, []any) {
	if limit <= 0 || limit > maxRecent {
		limit = maxRecent
	}
	clause, args := where(f)
	return fmt.Sprintf(`
		SELECT Timestamp, EventID, Origin, SrcIP, DstIP, SrcPort, DstPort, Label, Confidence
		FROM detection_events%s
		ORDER BY Timestamp DESC
		LIMIT %d`, clause, limit), args
}

// Summary counts detections per label.
func (q *clickhouseQuerier) Summary(ctx context.Context, f Filter) ([]LabelSummary, error) {
	sql, args := summaryQuery(f)
	rows, err := q.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	out := []LabelSummary{}
	for rows.Next() {
		var s LabelSummary
		var last time.Time
		if err := rows.Scan(&s.Label, &s.Count, &s.AvgConfidence, &last); err != nil {
			return nil, fmt.Errorf("failed to scan summary result: %w", err)
		}
		s.LastSeen = unixSeconds(last)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Recent returns the newest detections first.
func (q *clickhouseQuerier) Recent(ctx context.Context, f Filter, limit int) ([]Detection, error) {
	sql, args := recentQuery(f, limit)
	rows, err := q.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	out := []Detection{}
	for rows.Next() {
		var d Detection
		var ts time.Time
		if err := rows.Scan(&ts, &d.ID, &d.Origin, &d.SrcIP, &d.DstIP, &d.SrcPort, &d.DstPort, &d.Label, &d.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		d.Timestamp = unixSeconds(ts)
		out = append(out, d)
	}
	return out, rows.Err()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
