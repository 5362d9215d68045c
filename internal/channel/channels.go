package channel

import (
	"context"
	"sync"

	"optionflow/logger"
	"optionflow/models"
)

type ChannelStats struct {
	BatchesSent    int64
	BatchesDropped int64
}

// Channels carries collection batches from the collector to the storage
// router.
type Channels struct {
	Batches chan models.CollectionBatch

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(batchBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Batches: make(chan models.CollectionBatch, batchBufferSize),
		log:     log,
	}

	log.WithComponent("batch_channels").WithFields(logger.Fields{
		"batch_buffer_size": batchBufferSize,
	}).Info("batch channel initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Batches)
	c.log.WithComponent("batch_channels").Info("batch channel closed")
}

func (c *Channels) IncrementBatchesSent() {
	c.statsMutex.Lock()
	c.stats.BatchesSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementBatchesDropped() {
	c.statsMutex.Lock()
	c.stats.BatchesDropped++
	c.statsMutex.Unlock()
}

// SendBatch hands a batch to storage. It blocks while the buffer is full so
// an assembled batch is not lost to backpressure; only context cancellation
// drops it. The buffered fast path lets a batch finished during shutdown
// still reach the router.
func (c *Channels) SendBatch(ctx context.Context, batch models.CollectionBatch) bool {
	select {
	case c.Batches <- batch:
		c.IncrementBatchesSent()
		logger.RecordChannelMessage("batches", batch.RecordCount)
		return true
	default:
	}

	select {
	case c.Batches <- batch:
		c.IncrementBatchesSent()
		logger.RecordChannelMessage("batches", batch.RecordCount)
		return true
	case <-ctx.Done():
		c.IncrementBatchesDropped()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
