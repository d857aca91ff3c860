package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"pathprobe/internal/config"
	"pathprobe/internal/factory"
	"pathprobe/internal/observer"

	_ "pathprobe/internal/plugins/ecn"
	_ "pathprobe/internal/plugins/tfo"
)

// trace-analyzer replays a recorded pcap trace through a plugin's flow
// pipeline and prints the finalized flow records as JSON lines. It is the
// offline counterpart of the live observer, useful for re-analyzing a
// capture without re-running the measurement.
func main() {
	pluginName := flag.String("p", "tfo", "measurement plugin whose chains to run")
	traceFile := flag.String("f", "", "pcap trace to analyze")
	outputFile := flag.String("o", "", "output file (defaults to stdout)")
	flag.Parse()

	if *traceFile == "" {
		log.Fatal("A trace file is required (-f).")
	}

	plugin, err := factory.Create(*pluginName, config.Default())
	if err != nil {
		log.Fatalf("Plugin not found, cannot continue: %v", err)
	}

	out := os.Stdout
	if *outputFile != "" {
		out, err = os.Create(*outputFile)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer out.Close()
	}

	// A long idle bound keeps the wall-clock flusher from splitting
	// flows of a historical trace; everything is flushed at EOF anyway.
	obs, err := observer.New("pcapfile:"+*traceFile, plugin.Chains(), time.Second, time.Hour)
	if err != nil {
		log.Fatalf("Failed to open trace: %v", err)
	}
	obs.Start()

	enc := json.NewEncoder(out)
	count := 0
	for flow := range obs.Flows() {
		if err := enc.Encode(flow); err != nil {
			log.Fatalf("Failed to encode flow record: %v", err)
		}
		count++
	}
	log.Printf("Analyzed trace: %d flow records.", count)
}
