package metrics

import (
	"time"

	"github.com/solstice-pim/resourcesync/pkg/datastore"
	"github.com/solstice-pim/resourcesync/pkg/log"
	"github.com/solstice-pim/resourcesync/pkg/queue"
	"github.com/solstice-pim/resourcesync/pkg/resource"
)

// sampleInterval is the Collector's sampling cadence.
const sampleInterval = 15 * time.Second

// replayLagWarnThreshold is the revision gap past which a sampled replay
// lag is logged at warn instead of debug.
const replayLagWarnThreshold = 1000

// Collector periodically samples gauges that only make sense read back
// from storage — queue depths and replay lag — rather than updated
// inline at the call site the way counters and histograms are.
type Collector struct {
	ctx    *resource.Context
	stopCh chan struct{}
}

// NewCollector creates a Collector sampling ctx's queues and replay state.
func NewCollector(ctx *resource.Context) *Collector {
	return &Collector{ctx: ctx, stopCh: make(chan struct{})}
}

// Start begins sampling in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(sampleInterval)
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
	c.collectQueueDepths()
	c.collectReplayLag()
}

func (c *Collector) collectQueueDepths() {
	tx, err := c.ctx.MainDB().BeginRead()
	if err != nil {
		return
	}
	defer tx.Abort()

	sampleQueueDepth(tx, c.ctx.Processor().UserQueue(), "user")
	sampleQueueDepth(tx, c.ctx.Processor().SynchronizerQueue(), "synchronizer")
}

func sampleQueueDepth(tx *datastore.Tx, q *queue.Queue, label string) {
	depth, err := q.Depth(tx)
	if err != nil {
		return
	}
	QueueDepth.WithLabelValues(label).Set(float64(depth))
	log.WithQueueName(label).Debug().Int("depth", depth).Msg("queue depth sampled")
}

func (c *Collector) collectReplayLag() {
	tx, err := c.ctx.MainDB().BeginRead()
	if err != nil {
		return
	}
	defer tx.Abort()

	maxRev, err := c.ctx.Store().MaxRevision(tx)
	if err != nil {
		return
	}

	lastReplayed, err := c.ctx.Replayer().LastReplayedRevision()
	if err != nil {
		return
	}

	if maxRev < lastReplayed {
		return
	}
	lag := maxRev - lastReplayed
	ReplayLagRevisions.Set(float64(lag))

	logger := log.WithReplayLag(lag)
	if lag > replayLagWarnThreshold {
		logger.Warn().Msg("replay lag sampled above threshold")
	} else {
		logger.Debug().Msg("replay lag sampled")
	}
}
