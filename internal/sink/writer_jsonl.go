package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"pathprobe/internal/model"
)

// JSONLWriter writes one JSON object per line to a file. It is the
// default sink.
type JSONLWriter struct {
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

// NewJSONLWriter creates (truncating) the output file at path.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	buf := bufio.NewWriter(file)
	return &JSONLWriter{
		file: file,
		buf:  buf,
		enc:  json.NewEncoder(buf),
	}, nil
}

// Write appends one merged record as a JSON line.
func (w *JSONLWriter) Write(rec *model.MergedRecord) error {
	return w.enc.Encode(rec)
}

// Close flushes the buffer and closes the file.
func (w *JSONLWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
