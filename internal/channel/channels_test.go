package channel

import (
	"context"
	"testing"
	"time"

	"optionflow/models"
)

func TestSendBatch(t *testing.T) {
	c := NewChannels(1)
	defer c.Close()

	ctx := context.Background()
	if ok := c.SendBatch(ctx, models.NewBatch("NIFTY", time.Now())); !ok {
		t.Fatal("send into empty buffer should succeed")
	}

	got := <-c.Batches
	if got.Index != "NIFTY" {
		t.Fatalf("received batch for %s", got.Index)
	}
	stats := c.GetStats()
	if stats.BatchesSent != 1 || stats.BatchesDropped != 0 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestSendBatchDropsOnCancel(t *testing.T) {
	c := NewChannels(1)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if ok := c.SendBatch(ctx, models.NewBatch("NIFTY", time.Now())); !ok {
		t.Fatal("first send should fill the buffer")
	}

	cancel()
	if ok := c.SendBatch(ctx, models.NewBatch("NIFTY", time.Now())); ok {
		t.Fatal("send into full buffer with cancelled context should drop")
	}
	stats := c.GetStats()
	if stats.BatchesDropped != 1 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestSendBatchBuffersDuringShutdown(t *testing.T) {
	c := NewChannels(2)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled context must not lose a batch while buffer space remains.
	if ok := c.SendBatch(ctx, models.NewBatch("SENSEX", time.Now())); !ok {
		t.Fatal("buffered send should succeed even after cancel")
	}
	if len(c.Batches) != 1 {
		t.Fatalf("buffer length %d", len(c.Batches))
	}
}
