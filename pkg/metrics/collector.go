package metrics

import (
	"time"

	"github.com/cuemby/taskd/pkg/types"
)

// StateSource is the subset of the node-agent's supervisor state the
// collector needs. pkg/stepagent's Agent implements it; defining the
// interface here (rather than importing pkg/stepagent) keeps metrics a leaf
// package with no dependency on the components it observes.
type StateSource interface {
	// ActiveSteps returns every step currently tracked on this node.
	ActiveSteps() []*types.Step
}

// Collector periodically samples supervisor state into the package-level
// Prometheus gauges.
type Collector struct {
	source StateSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over source.
func NewCollector(source StateSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic collection on a 15-second tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectStepAndTaskMetrics()
}

func (c *Collector) collectStepAndTaskMetrics() {
	steps := c.source.ActiveSteps()

	StepsActive.Set(float64(len(steps)))

	taskCounts := make(map[types.TaskState]int)
	for _, step := range steps {
		for _, task := range step.Tasks {
			taskCounts[task.State]++
		}
	}
	for state, count := range taskCounts {
		TasksTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}
