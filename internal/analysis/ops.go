package analysis

import (
	"context"
	"fmt"
	"time"

	"matchvision/internal/queue"

	"github.com/rs/zerolog/log"
)

// Retry resets a failed item back to the ambient queue. Calling it on a
// non-failed item is an explicit error rather than a silent no-op.
func (o *Orchestrator) Retry(id string) error {
	current, ok := o.store.GetByID(id)
	if !ok {
		return queue.ErrItemNotFound
	}
	if current.Status != queue.StatusFailed {
		return ErrNotFailed
	}

	est := time.Now().Add(estimateDuration(current.SizeBytes, current.RetryCount+1))
	retried := false
	o.store.UpdateByID(id, func(it *queue.Item) {
		// recheck under the store lock; Retry races with the ticker
		if it.Status != queue.StatusFailed {
			return
		}
		it.Status = queue.StatusQueued
		it.Progress = 0
		it.ProcessingStage = queue.StageQueueWaiting
		it.RetryCount++
		it.EstimatedCompletion = &est
		it.CompletedTime = nil
		retried = true
	})
	if !retried {
		return ErrNotFailed
	}
	log.Info().Str("item_id", id).Msg("queue item retried")
	return nil
}

// Remove deletes the item, first deleting the server-side upload when one
// exists. On gateway failure the queue is left untouched and the error
// surfaces to the caller.
func (o *Orchestrator) Remove(ctx context.Context, id string) error {
	item, ok := o.store.GetByID(id)
	if !ok {
		return queue.ErrItemNotFound
	}
	if item.UploadID != "" {
		if err := o.gw.DeleteUpload(ctx, item.UploadID); err != nil {
			return fmt.Errorf("delete upload %s: %w", item.UploadID, err)
		}
	}
	o.store.RemoveByID(id)
	log.Info().Str("item_id", id).Str("upload_id", item.UploadID).Msg("queue item removed")
	return nil
}

// SeedFromListing populates the queue with previously completed uploads from
// the backend listing. Seeded items are ambient (not UI controlled) and enter
// directly in the completed state.
func (o *Orchestrator) SeedFromListing(ctx context.Context) error {
	uploads, err := o.gw.ListUploads(ctx)
	if err != nil {
		return fmt.Errorf("seed from listing: %w", err)
	}
	seeded := 0
	for _, up := range uploads {
		completedAt := up.CreatedAt
		item := &queue.Item{
			ID:              up.ID,
			UploadID:        up.ID,
			Name:            up.OriginalFilename,
			AnalysisType:    queue.TypeHighlights,
			Status:          queue.StatusCompleted,
			Progress:        100,
			ProcessingStage: queue.StageAnalysisComplete,
			UploadTime:      up.CreatedAt,
			CompletedTime:   &completedAt,
			Priority:        queue.PriorityMedium,
			UIControlled:    false,
		}
		if err := o.store.Enqueue(item); err != nil {
			// already present from a previous seed or snapshot
			continue
		}
		seeded++
	}
	log.Info().Int("seeded", seeded).Int("listed", len(uploads)).Msg("queue seeded from uploads listing")
	return nil
}
