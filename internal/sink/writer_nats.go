package sink

import (
	"encoding/json"
	"log"

	"pathprobe/internal/config"
	"pathprobe/internal/model"

	"github.com/nats-io/nats.go"
)

// NATSWriter publishes each merged record to a NATS subject, so a
// downstream collector can aggregate results from several vantage points.
type NATSWriter struct {
	nc      *nats.Conn
	subject string
}

// NewNATSWriter connects to the configured NATS server.
func NewNATSWriter(cfg config.NATSConfig) (*NATSWriter, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &NATSWriter{nc: nc, subject: cfg.Subject}, nil
}

// Write serializes the record to JSON and publishes it.
func (w *NATSWriter) Write(rec *model.MergedRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return w.nc.Publish(w.subject, data)
}

// Close drains and closes the NATS connection.
func (w *NATSWriter) Close() error {
	if w.nc != nil {
		err := w.nc.Drain()
		log.Println("NATS connection drained and closed.")
		return err
	}
	return nil
}
