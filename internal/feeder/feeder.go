// Package feeder reads the comma-separated job file. Each row is
// "address,port[,host[,rank]]"; the port is a mandatory decimal integer.
// A malformed row aborts ingestion: a partially-read job set would skew
// the comparison between phases.
package feeder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"pathprobe/internal/model"
)

// Load reads every job from the file at path.
func Load(path string) ([]model.Job, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job file: %w", err)
	}
	defer fp.Close()

	reader := csv.NewReader(fp)
	reader.FieldsPerRecord = -1

	var jobs []model.Job
	line := 0
	for {
		row, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("job file row %d: %w", line+1, err)
		}
		line++
		job, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("job file row %d: %w", line, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func parseRow(row []string) (model.Job, error) {
	if len(row) < 2 {
		return model.Job{}, fmt.Errorf("expected at least address and port, got %d fields", len(row))
	}
	port, err := strconv.ParseUint(row[1], 10, 16)
	if err != nil {
		return model.Job{}, fmt.Errorf("invalid port %q: %w", row[1], err)
	}
	job := model.Job{Addr: row[0], Port: uint16(port)}
	if len(row) > 2 {
		job.Host = row[2]
	}
	if len(row) > 3 {
		rank, err := strconv.Atoi(row[3])
		if err != nil {
			return model.Job{}, fmt.Errorf("invalid rank %q: %w", row[3], err)
		}
		job.Rank = rank
	}
	return job, nil
}
