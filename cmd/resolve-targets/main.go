package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"log"
	"os"
	"strconv"
	"time"

	"pathprobe/internal/resolver"
)

// resolve-targets asks a measurement-federation endpoint for fresh target
// addresses and writes them as a job file that pathprobe -I accepts.
func main() {
	url := flag.String("u", "http://localhost:18888", "resolver endpoint URL")
	capability := flag.String("C", "btdht-ip4", "capability label to invoke")
	count := flag.Int("n", 1000, "number of addresses to request")
	timeout := flag.Duration("t", 2*time.Minute, "overall request timeout")
	outputFile := flag.String("o", "", "output job file (defaults to stdout)")
	flag.Parse()

	client, err := resolver.New(*url, *timeout)
	if err != nil {
		log.Fatalf("Failed to reach resolver: %v", err)
	}

	jobs, err := client.Request(*capability, *count)
	if err != nil {
		if errors.Is(err, resolver.ErrRequestTimeout) {
			log.Fatalf("Resolver did not produce a result in %s, giving up.", *timeout)
		}
		log.Fatalf("Address retrieval failed: %v", err)
	}

	out := os.Stdout
	if *outputFile != "" {
		out, err = os.Create(*outputFile)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer out.Close()
	}

	w := csv.NewWriter(out)
	for _, job := range jobs {
		if err := w.Write([]string{job.Addr, strconv.Itoa(int(job.Port))}); err != nil {
			log.Fatalf("Failed to write job row: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		log.Fatalf("Failed to flush job file: %v", err)
	}
	log.Printf("Wrote %d targets from capability %s.", len(jobs), *capability)
}
