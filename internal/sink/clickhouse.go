// Package sink persists the detection stream.
package sink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"SpectraIDS/internal/config"
	"SpectraIDS/internal/logging"
	"SpectraIDS/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS detection_events (
    Timestamp   DateTime64(3),
    EventID     String,
    Origin      LowCardinality(String),
    SrcIP       String,
    DstIP       String,
    SrcPort     UInt16,
    DstPort     UInt16,
    Label       LowCardinality(String),
    AttackType  String,
    Confidence  Float64,
    Features    Array(Float64)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Origin, Timestamp);
`

// insertTimeout bounds one batch insert.
const insertTimeout = 10 * time.Second

// maxBatches is how many full batches may wait for insertion before the
// oldest rows are discarded.
const maxBatches = 20

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("sink: closed")

// Row is one detection_events record.
type Row struct {
	Timestamp  time.Time
	EventID    string
	Origin     string
	SrcIP      string
	DstIP      string
	SrcPort    uint16
	DstPort    uint16
	Label      string
	AttackType string
	Confidence float64
	Features   []float64
}

// NewRow flattens an event into a row.
func NewRow(ev *model.DetectionEvent) Row {
	sec, frac := math.Modf(ev.Timestamp)
	row := Row{
		Timestamp:  time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(),
		EventID:    ev.ID,
		Origin:     string(ev.Origin),
		SrcIP:      ev.SrcIP,
		DstIP:      ev.DstIP,
		SrcPort:    ev.SrcPort,
		DstPort:    ev.DstPort,
		Label:      ev.Label,
		AttackType: ev.AttackType,
		Confidence: ev.Confidence,
		Features:   []float64{},
	}
	if ev.Features != nil {
		row.Features = ev.Features.Slice()
	}
	return row
}

// Inserter writes one batch of rows.
type Inserter interface {
	Insert(ctx context.Context, rows []Row) error
	Close() error
}

// ClickHouseSink buffers detection events and inserts them in batches from
// its own goroutine. Send never blocks on ClickHouse and only fails once the
// sink is closed. Insert failures are logged and the batch is dropped. When
// inserts fall behind by more than maxBatches the oldest rows are discarded.
type ClickHouseSink struct {
	inserter      Inserter
	batchSize     int
	flushInterval time.Duration

	mu        sync.Mutex
	buf       []Row
	discarded int
	closed    bool

	flushMu sync.Mutex
	kick    chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	log     zerolog.Logger
}

// NewClickHouseSink connects to ClickHouse, ensures the table exists and
// starts the periodic flush.
func NewClickHouseSink(cfg config.ClickHouseConfig) (*ClickHouseSink, error) {
	ins, err := newClickHouseInserter(cfg)
	if err != nil {
		return nil, err
	}
	return NewSink(ins, cfg.BatchSize, cfg.FlushInterval), nil
}

// NewSink builds a sink over any inserter.
func NewSink(ins Inserter, batchSize int, flushInterval time.Duration) *ClickHouseSink {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	s := &ClickHouseSink{
		inserter:      ins,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buf:           make([]Row, 0, batchSize),
		kick:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		log:           logging.Component("clickhouse-sink"),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s
}

// Send decodes one event and queues it for insertion.
func (s *ClickHouseSink) Send(payload []byte) error {
	var ev model.DetectionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.log.Warn().Err(err).Msg("dropping undecodable event")
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if len(s.buf) >= s.batchSize*maxBatches {
		s.buf = s.buf[1:]
		s.discarded++
	}
	s.buf = append(s.buf, NewRow(&ev))
	full := len(s.buf) >= s.batchSize
	s.mu.Unlock()

	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush inserts everything buffered so far.
func (s *ClickHouseSink) Flush(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	rows, discarded := s.buf, s.discarded
	s.buf = make([]Row, 0, s.batchSize)
	s.discarded = 0
	s.mu.Unlock()

	if discarded > 0 {
		s.log.Warn().Int("rows", discarded).Msg("clickhouse sink fell behind, discarded oldest events")
	}
	if len(rows) == 0 {
		return
	}
	if err := s.inserter.Insert(ctx, rows); err != nil {
		s.log.Error().Err(err).Int("rows", len(rows)).Msg("failed to insert detection events")
		return
	}
	s.log.Debug().Int("rows", len(rows)).Msg("wrote detection events to clickhouse")
}

func (s *ClickHouseSink) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.flushWithTimeout()
		case <-s.kick:
			s.flushWithTimeout()
		}
	}
}

func (s *ClickHouseSink) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	s.Flush(ctx)
}

// Close stops the periodic flush, writes what is buffered and releases the
// connection.
func (s *ClickHouseSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()

	s.flushWithTimeout()
	return s.inserter.Close()
}

type clickHouseInserter struct {
	conn driver.Conn
}

func newClickHouseInserter(cfg config.ClickHouseConfig) (*clickHouseInserter, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log := logging.Component("clickhouse-sink")
	log.Info().Str("database", cfg.Database).Msg("connected to clickhouse and ensured table exists")
	return &clickHouseInserter{conn: conn}, nil
}

func (c *clickHouseInserter) Insert(ctx context.Context, rows []Row) error {
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO detection_events")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(
			r.Timestamp,
			r.EventID,
			r.Origin,
			r.SrcIP,
			r.DstIP,
			r.SrcPort,
			r.DstPort,
			r.Label,
			r.AttackType,
			r.Confidence,
			r.Features,
		); err != nil {
			return fmt.Errorf("failed to append event to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func (c *clickHouseInserter) Close() error {
	return c.conn.Close()
}
