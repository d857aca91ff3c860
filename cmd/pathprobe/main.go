package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pathprobe/internal/api"
	"pathprobe/internal/config"
	"pathprobe/internal/correlator"
	"pathprobe/internal/factory"
	"pathprobe/internal/feeder"
	"pathprobe/internal/observer"
	"pathprobe/internal/sink"
	"pathprobe/internal/spider"

	// Register the measurement plugins.
	_ "pathprobe/internal/plugins/ecn"
	_ "pathprobe/internal/plugins/tfo"
)

func main() {
	pluginName := flag.String("p", "tfo", "measurement plugin to run")
	listPlugins := flag.Bool("l", false, "print the list of installed plugins")
	configPath := flag.String("c", "", "path to YAML config file")
	inputFile := flag.String("I", "", "job file: comma-separated addr,port[,host[,rank]] rows")
	outputFile := flag.String("o", "", "output file for merged records (overrides config)")
	iface := flag.String("i", "", "interface for the observer (overrides config)")
	workers := flag.Int("w", 0, "number of workers (overrides config)")
	flag.Parse()

	if *listPlugins {
		fmt.Println("The following plugins are available:")
		for _, name := range factory.List() {
			fmt.Println(" * " + name)
		}
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *iface != "" {
		cfg.Capture.Source = "int:" + *iface
	}
	if *workers > 0 {
		cfg.Spider.WorkerCount = *workers
	}
	if *outputFile != "" {
		cfg.Sink.Type = "jsonl"
		cfg.Sink.Path = *outputFile
	}
	if *inputFile == "" {
		log.Fatal("A job file is required (-I).")
	}

	grace := mustDuration(cfg.Spider.GracePeriod, "grace_period")
	flushInterval := mustDuration(cfg.Observer.FlushInterval, "flush_interval")
	idleTimeout := mustDuration(cfg.Observer.IdleTimeout, "idle_timeout")

	plugin, err := factory.Create(*pluginName, cfg)
	if err != nil {
		log.Fatalf("Plugin not found, cannot continue: %v. Use -l to list plugins.", err)
	}

	jobs, err := feeder.Load(*inputFile)
	if err != nil {
		log.Fatalf("Failed to read job file: %v", err)
	}
	log.Printf("Loaded %d jobs from %s.", len(jobs), *inputFile)

	obs, err := observer.New(cfg.Capture.Source, plugin.Chains(), flushInterval, idleTimeout)
	if err != nil {
		log.Fatalf("Observer not cooperating, abandon ship: %v", err)
	}

	out, err := sink.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create output sink: %v", err)
	}

	sp := spider.New(plugin)
	corr := correlator.New(plugin, grace)

	if cfg.API.Enabled {
		apiServer := api.New(cfg.API.ListenAddr, func() api.Status {
			phase, dispatched, completed := sp.Stats()
			return api.Status{
				Plugin:         plugin.Name(),
				Phase:          phase,
				JobsDispatched: dispatched,
				JobsCompleted:  completed,
				FlowsTracked:   obs.FlowsTracked(),
				FlowsEmitted:   obs.FlowsEmitted(),
				RecordsMerged:  corr.Merged(),
			}
		})
		apiServer.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			apiServer.Shutdown(ctx)
		}()
	}

	obs.Start()

	runErr := make(chan error, 1)
	go func() {
		err := sp.Run(jobs)
		// Let trailing packets of the last connections reach the
		// observer, then flush it so correlation can settle.
		time.Sleep(grace)
		obs.Stop()
		runErr <- err
	}()
	go corr.Run(sp.Records(), obs.Flows())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	written := 0
	records := corr.Records()
	for records != nil {
		select {
		case rec, ok := <-records:
			if !ok {
				records = nil
				continue
			}
			if err := out.Write(&rec); err != nil {
				log.Printf("Failed to write record: %v", err)
			}
			written++
		case <-sigChan:
			log.Println("Interrupted. kthxbye.")
			out.Close()
			return
		}
	}

	if err := <-runErr; err != nil {
		out.Close()
		log.Fatalf("Measurement aborted: %v", err)
	}
	if err := out.Close(); err != nil {
		log.Fatalf("Failed to close output sink: %v", err)
	}
	log.Printf("Measurement complete: %d merged records written.", written)
}

func mustDuration(value, name string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid %s %q: %v", name, value, err)
	}
	return d
}
