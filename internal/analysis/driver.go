package analysis

import (
	"math/rand"

	"matchvision/internal/queue"
)

// ProgressDriver decides how ambient items advance and when they fail.
// Pluggable so tests can substitute deterministic drivers for the random
// default.
type ProgressDriver interface {
	// NextIncrement returns the progress delta for one tick, at least 1.
	NextIncrement(it *queue.Item) int
	// InjectFailure decides whether this tick fails the item, returning the
	// reason tag when it does.
	InjectFailure(it *queue.Item) (string, bool)
}

// randomDriver models a demo backlog: bigger files and heavier analysis
// types advance slower and fail more often, retried items fail less.
type randomDriver struct {
	rng *rand.Rand
}

// NewRandomDriver returns the default pseudo-random driver. The driver is
// not safe for concurrent use; the ticker is its only caller.
func NewRandomDriver(seed int64) ProgressDriver {
	return &randomDriver{rng: rand.New(rand.NewSource(seed))}
}

const (
	baseFailureRate    = 0.03
	retriedFailureCut  = 0.4
	minFailureProgress = 10
	maxInjectedErrors  = 2
)

func (d *randomDriver) NextIncrement(it *queue.Item) int {
	base := 3 + d.rng.Intn(10)
	inc := int(float64(base) * sizeFactor(it.SizeBytes) * typeFactor(it.AnalysisType))
	if inc < 1 {
		inc = 1
	}
	return inc
}

func (d *randomDriver) InjectFailure(it *queue.Item) (string, bool) {
	if it.ErrorCount >= maxInjectedErrors || it.Progress <= minFailureProgress {
		return "", false
	}
	p := baseFailureRate / (sizeFactor(it.SizeBytes) * typeFactor(it.AnalysisType))
	if it.RetryCount > 0 {
		p *= retriedFailureCut
	}
	if d.rng.Float64() >= p {
		return "", false
	}
	return queue.FailureReasons[d.rng.Intn(len(queue.FailureReasons))], true
}

// sizeFactor scales progress speed by file size class; larger is slower.
func sizeFactor(sizeBytes int64) float64 {
	const mib = 1024 * 1024
	switch {
	case sizeBytes > 300*mib:
		return 0.5
	case sizeBytes > 100*mib:
		return 0.75
	default:
		return 1.0
	}
}

// typeFactor scales progress speed by analysis complexity class.
func typeFactor(t queue.AnalysisType) float64 {
	switch t {
	case queue.TypeTactical, queue.TypeCrowd:
		return 0.6
	case queue.TypePlayer, queue.TypePerformance:
		return 0.8
	default:
		return 1.0
	}
}
