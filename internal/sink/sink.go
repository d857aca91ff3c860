// Package sink writes merged records to their destination. Records arrive
// in completion order, one per active record; Close flushes anything
// buffered and releases the destination.
package sink

import (
	"fmt"

	"pathprobe/internal/config"
	"pathprobe/internal/model"
)

// Writer is a destination for merged records.
type Writer interface {
	Write(rec *model.MergedRecord) error
	Close() error
}

// New creates the writer selected by the configuration.
func New(cfg *config.Config) (Writer, error) {
	switch cfg.Sink.Type {
	case "jsonl":
		return NewJSONLWriter(cfg.Sink.Path)
	case "nats":
		return NewNATSWriter(cfg.Sink.NATS)
	case "clickhouse":
		return NewClickHouseWriter(cfg.Sink.ClickHouse)
	default:
		return nil, fmt.Errorf("unknown sink type '%s'", cfg.Sink.Type)
	}
}
