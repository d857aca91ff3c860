// Package correlator joins active connection results with passive flow
// observations by flow identity.
package correlator

import (
	"sync/atomic"
	"time"

	"pathprobe/internal/model"
)

// Correlator consumes the scheduler's active-record stream and the
// observer's flow-record stream and emits one merged record per active
// record. An active record with no matching flow by the time the grace
// period after the terminal signal has elapsed is emitted with the
// unobserved placeholder.
type Correlator struct {
	plugin model.Plugin
	grace  time.Duration
	out    chan model.MergedRecord
	merged atomic.Uint64
}

func New(plugin model.Plugin, grace time.Duration) *Correlator {
	return &Correlator{
		plugin: plugin,
		grace:  grace,
		out:    make(chan model.MergedRecord, 100),
	}
}

// Records returns the merged output stream, closed when correlation is
// complete. Output order is completion order, not submission order.
func (c *Correlator) Records() <-chan model.MergedRecord {
	return c.out
}

// Merged returns the number of records emitted so far.
func (c *Correlator) Merged() uint64 {
	return c.merged.Load()
}

// Run matches the two streams until both terminate or, after the active
// stream ends, the grace period runs out. It closes the output stream on
// return. Pending records are held per key in arrival order: several
// attempts can share one key (failed connects never get a local port), and
// each must still yield its own merged record.
func (c *Correlator) Run(actives <-chan model.ActiveRecord, flows <-chan *model.FlowRecord) {
	defer close(c.out)

	flowsByKey := make(map[model.FlowKey]*model.FlowRecord)
	pending := make(map[model.FlowKey][]model.ActiveRecord)
	var graceTimer <-chan time.Time

	for {
		select {
		case rec, ok := <-actives:
			if !ok {
				actives = nil
				if len(pending) == 0 {
					return
				}
				graceTimer = time.After(c.grace)
				continue
			}
			if flows == nil {
				// No flow can arrive anymore; the record is unobserved.
				c.emit(nil, rec)
				continue
			}
			key := rec.Key()
			if flow, found := flowsByKey[key]; found {
				delete(flowsByKey, key)
				c.emit(flow, rec)
			} else {
				pending[key] = append(pending[key], rec)
			}

		case flow, ok := <-flows:
			if !ok {
				// The observer is done, but the scheduler may still be
				// producing. Flush what is pending and keep draining.
				flows = nil
				c.flushUnobserved(pending)
				if actives == nil {
					return
				}
				continue
			}
			if recs, found := pending[flow.Key]; found {
				if len(recs) == 1 {
					delete(pending, flow.Key)
				} else {
					pending[flow.Key] = recs[1:]
				}
				c.emit(flow, recs[0])
				if actives == nil && len(pending) == 0 {
					return
				}
			} else {
				flowsByKey[flow.Key] = flow
			}

		case <-graceTimer:
			c.flushUnobserved(pending)
			return
		}
	}
}

func (c *Correlator) emit(flow *model.FlowRecord, rec model.ActiveRecord) {
	c.out <- c.plugin.Merge(flow, rec)
	c.merged.Add(1)
}

// flushUnobserved emits every still-pending active record with the
// unobserved placeholder, so a merged record exists for every active one.
func (c *Correlator) flushUnobserved(pending map[model.FlowKey][]model.ActiveRecord) {
	for k, recs := range pending {
		delete(pending, k)
		for _, rec := range recs {
			c.emit(nil, rec)
		}
	}
}
