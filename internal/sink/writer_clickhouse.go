package sink

import (
	"context"
	"fmt"
	"log"
	"time"

	"pathprobe/internal/config"
	"pathprobe/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS path_measurements (
    Timestamp   DateTime,
    RemoteIP    String,
    RemotePort  UInt16,
    LocalPort   UInt16,
    Host        String,
    Rank        Int32,
    Config      UInt8,
    Connected   UInt8,
    HTTPStatus  Int32,
    Observed    UInt8,
    PktFwd      UInt64,
    PktRev      UInt64,
    OctFwd      UInt64,
    OctRev      UInt64,
    FlagsFwd    UInt8,
    FlagsRev    UInt8
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (RemoteIP, Timestamp);
`

const batchSize = 500

// ClickHouseWriter batches merged records into the path_measurements
// table.
type ClickHouseWriter struct {
	conn    driver.Conn
	batch   driver.Batch
	pending int
}

// NewClickHouseWriter connects to ClickHouse and ensures the table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured table exists.")
	return &ClickHouseWriter{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
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
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Write appends one record to the current batch, sending the batch once it
// reaches batchSize.
func (w *ClickHouseWriter) Write(rec *model.MergedRecord) error {
	if w.batch == nil {
		batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO path_measurements")
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		w.batch = batch
		w.pending = 0
	}

	var pktFwd, pktRev, octFwd, octRev uint64
	var flagsFwd, flagsRev uint8
	if rec.Flow != nil {
		pktFwd, pktRev = rec.Flow.PktFwd, rec.Flow.PktRev
		octFwd, octRev = rec.Flow.OctFwd, rec.Flow.OctRev
		flagsFwd, flagsRev = rec.Flow.FlagsFwd, rec.Flow.FlagsRev
	}

	err := w.batch.Append(
		time.Now(),
		rec.IP,
		rec.RPort,
		rec.LPort,
		rec.Host,
		int32(rec.Rank),
		uint8(rec.Config),
		boolToUInt8(rec.Connected),
		int32(rec.Status),
		boolToUInt8(rec.Observed),
		pktFwd,
		pktRev,
		octFwd,
		octRev,
		flagsFwd,
		flagsRev,
	)
	if err != nil {
		return fmt.Errorf("failed to append record to batch: %w", err)
	}

	w.pending++
	if w.pending >= batchSize {
		return w.flush()
	}
	return nil
}

// Close sends any remaining batch and releases the connection.
func (w *ClickHouseWriter) Close() error {
	if err := w.flush(); err != nil {
		w.conn.Close()
		return err
	}
	return w.conn.Close()
}

func (w *ClickHouseWriter) flush() error {
	if w.batch == nil || w.pending == 0 {
		w.batch = nil
		return nil
	}
	err := w.batch.Send()
	w.batch = nil
	w.pending = 0
	if err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
