package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"pathprobe/internal/config"
	"pathprobe/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	w, err := NewJSONLWriter(path)
	require.NoError(t, err)

	observed := &model.MergedRecord{
		IP: "192.0.2.1", RPort: 443, LPort: 40001, Config: 1,
		Connected: true, Observed: true,
		Flow: &model.FlowRecord{
			Key:    model.FlowKey{LPort: 40001, RIP: "192.0.2.1", RPort: 443},
			PktFwd: 5, PktRev: 4,
			Values: map[string]int64{"tfo_state": 3},
		},
	}
	unobserved := &model.MergedRecord{
		IP: "192.0.2.2", RPort: 443, LPort: 40002, Config: 0,
	}
	require.NoError(t, w.Write(observed))
	require.NoError(t, w.Write(unobserved))
	require.NoError(t, w.Close())

	fp, err := os.Open(path)
	require.NoError(t, err)
	defer fp.Close()

	var lines []model.MergedRecord
	scanner := bufio.NewScanner(fp)
	for scanner.Scan() {
		var rec model.MergedRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)

	assert.True(t, lines[0].Observed)
	require.NotNil(t, lines[0].Flow)
	assert.Equal(t, uint64(5), lines[0].Flow.PktFwd)
	assert.Equal(t, int64(3), lines[0].Flow.Values["tfo_state"])

	assert.False(t, lines[1].Observed)
	assert.Nil(t, lines[1].Flow, "an unobserved record must not carry a flow")
}

func TestNewSelectsWriter(t *testing.T) {
	cfg := config.Default()
	cfg.Sink.Path = filepath.Join(t.TempDir(), "out.ndjson")

	w, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &JSONLWriter{}, w)
	require.NoError(t, w.Close())

	cfg.Sink.Type = "carrier-pigeon"
	_, err = New(cfg)
	assert.Error(t, err)
}
