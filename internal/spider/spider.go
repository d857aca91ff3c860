// Package spider drives the active side of a measurement: it runs the two
// configuration phases sequentially over one job set, dispatching each job
// to a bounded pool of workers.
package spider

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"pathprobe/internal/model"
)

// Spider executes the two-phase active measurement for one plugin and
// hands per-job results downstream. Workers may complete in any order;
// record order on the output channel is completion order.
type Spider struct {
	plugin model.Plugin
	out    chan model.ActiveRecord

	phase      atomic.Int32
	dispatched atomic.Uint64
	completed  atomic.Uint64
}

func New(plugin model.Plugin) *Spider {
	return &Spider{
		plugin: plugin,
		out:    make(chan model.ActiveRecord, 100),
	}
}

// Records returns the stream of active records. It is closed after both
// phases have drained, signalling that no more records will arrive.
func (s *Spider) Records() <-chan model.ActiveRecord {
	return s.out
}

// Run executes phase 0 and then phase 1 over the same job set. Environment
// setup failure aborts the run: a phase measured under the wrong
// configuration is meaningless. Individual job failures are recorded in
// their active record and are never fatal.
func (s *Spider) Run(jobs []model.Job) error {
	defer close(s.out)
	for phase := 0; phase < 2; phase++ {
		s.phase.Store(int32(phase))
		if err := s.plugin.Configure(phase); err != nil {
			return fmt.Errorf("environment setup for phase %d failed: %w", phase, err)
		}
		log.Printf("Phase %d: dispatching %d jobs with %d workers.", phase, len(jobs), s.plugin.WorkerCount())
		s.runPhase(jobs, phase)
		log.Printf("Phase %d complete.", phase)
	}
	return nil
}

// runPhase dispatches every job to the worker pool and waits for the pool
// to drain. Each in-flight connect is bounded by the plugin's timeout.
func (s *Spider) runPhase(jobs []model.Job, phase int) {
	jobChan := make(chan model.Job)

	var wg sync.WaitGroup
	workers := s.plugin.WorkerCount()
	if workers < 1 {
		workers = 1
	}
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for job := range jobChan {
				s.out <- s.runJob(job, phase)
				s.completed.Add(1)
			}
		}()
	}

	for _, job := range jobs {
		jobChan <- job
		s.dispatched.Add(1)
	}
	close(jobChan)
	wg.Wait()
}

// runJob performs the connect/respond lifecycle for one job. There is no
// retry: a failure or timeout is recorded once per phase.
func (s *Spider) runJob(job model.Job, phase int) model.ActiveRecord {
	conn := s.plugin.Connect(job, phase)
	return s.plugin.PostConnect(job, conn, phase)
}

// Stats reports scheduling progress for the status API.
func (s *Spider) Stats() (phase int, dispatched, completed uint64) {
	return int(s.phase.Load()), s.dispatched.Load(), s.completed.Load()
}
