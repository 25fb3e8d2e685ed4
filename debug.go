package arbor

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// debugMaxChainDepth is the ancestor chain length above which AddChild warns.
const debugMaxChainDepth = 32

// debugCapacityWarn is the fill ratio above which reserve warns, once.
const debugCapacityWarn = 0.9

// SetDebugMode enables or disables debug mode. When enabled, every
// Propagate logs its timing and recompute counts at debug level, and node
// creation warns about deep ancestor chains and nearly full stores.
func (h *Hierarchy) SetDebugMode(enabled bool) {
	h.debug = enabled
	if enabled && h.logger == nil {
		h.SetLogger(newDebugLogger())
	}
}

// SetLogger sets the logger used in debug mode. A nil logger restores the
// default stderr logger.
func (h *Hierarchy) SetLogger(l *log.Logger) {
	if l == nil {
		l = newDebugLogger()
	}
	h.logger = l.With("group", h.group)
}

func newDebugLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "arbor",
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           log.DebugLevel,
	})
}

func (h *Hierarchy) debugLogPropagate(stats PropagateStats, elapsed time.Duration) {
	h.logger.Debug("propagate",
		"scanned", stats.Scanned,
		"recomputed", stats.Recomputed,
		"nodes", h.hdr.count,
		"took", elapsed)
}

func (h *Hierarchy) debugCheckChainDepth(i uint32, depth int) {
	if depth > debugMaxChainDepth {
		h.logger.Warn("deep ancestor chain", "slot", i, "depth", depth, "threshold", debugMaxChainDepth)
	}
}

func (h *Hierarchy) debugCheckCapacity() {
	limit := uint32(float64(h.hdr.capacity) * debugCapacityWarn)
	if h.hdr.count == limit+1 {
		h.logger.Warn("store nearly full", "nodes", h.hdr.count, "capacity", h.hdr.capacity)
	}
}
