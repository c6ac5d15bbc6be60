package analysis

import (
	"math/rand"
	"time"

	"matchvision/internal/queue"

	"github.com/rs/zerolog/log"
)

const (
	queuedToProcessingChance   = 0.3
	processingToAnalyzeChance  = 0.4
	processingToAnalyzeMinimum = 30
)

// Ticker periodically advances items that are not under direct user control
// through a simulated processing pipeline. It never touches UI-controlled
// items; that partition is the synchronization discipline keeping the ticker
// and in-flight orchestrator runs off each other's items.
type Ticker struct {
	store    *queue.Store
	driver   ProgressDriver
	interval time.Duration
	chance   func(p float64) bool

	stop chan struct{}
	done chan struct{}
}

func NewTicker(store *queue.Store, driver ProgressDriver, interval time.Duration) *Ticker {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Ticker{
		store:    store,
		driver:   driver,
		interval: interval,
		chance:   func(p float64) bool { return rng.Float64() < p },
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop. Stop must be called exactly once afterwards.
func (t *Ticker) Start() {
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				t.TickOnce()
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (t *Ticker) Stop() {
	close(t.stop)
	<-t.done
}

// TickOnce runs a single ambient pass over the queue. Exported so tests can
// drive the simulation deterministically without the timer.
func (t *Ticker) TickOnce() {
	for _, snapshot := range t.store.ListAll() {
		if snapshot.UIControlled || snapshot.Status.Terminal() {
			continue
		}
		t.store.UpdateByID(snapshot.ID, t.advance)
	}
}

// advance applies one tick to a single item under the store lock, so the
// decision always sees current state. Transitions are monotonic: no backward
// moves, and terminal states are never mutated.
func (t *Ticker) advance(it *queue.Item) {
	if it.UIControlled || it.Status.Terminal() {
		return
	}
	if reason, ok := t.driver.InjectFailure(it); ok {
		it.Status = queue.StatusFailed
		it.ProcessingStage = reason
		it.ErrorCount++
		log.Debug().Str("item_id", it.ID).Str("reason", reason).Msg("ambient failure injected")
		return
	}

	switch it.Status {
	case queue.StatusUploading:
		it.Progress += t.driver.NextIncrement(it)
		if it.Progress >= 100 {
			it.Status = queue.StatusQueued
			it.Progress = 0
			it.ProcessingStage = queue.StageQueueWaiting
		}
	case queue.StatusQueued:
		if t.chance(queuedToProcessingChance) {
			it.Status = queue.StatusProcessing
			it.ProcessingStage = queue.StagePreprocessing
		}
	case queue.StatusProcessing:
		it.Progress += t.driver.NextIncrement(it)
		if it.Progress >= 100 {
			t.completeItem(it)
			return
		}
		if it.Progress > processingToAnalyzeMinimum && t.chance(processingToAnalyzeChance) {
			it.Status = queue.StatusAnalyzing
			it.ProcessingStage = queue.StageVideoAnalysis
		}
	case queue.StatusAnalyzing:
		it.Progress += t.driver.NextIncrement(it)
		if it.Progress >= 100 {
			t.completeItem(it)
		}
	}
}

func (t *Ticker) completeItem(it *queue.Item) {
	now := time.Now()
	it.Status = queue.StatusCompleted
	it.Progress = 100
	it.ProcessingStage = queue.StageAnalysisComplete
	it.CompletedTime = &now
	it.EstimatedCompletion = nil
}
