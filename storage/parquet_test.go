package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"optionflow/config"
	"optionflow/logger"
	"optionflow/models"
)

func bufferOnlySink(t *testing.T) *ParquetSink {
	t.Helper()
	return &ParquetSink{
		cfg:         config.S3Config{Bucket: "test-bucket", Prefix: "archive"},
		version:     "test",
		loc:         time.UTC,
		log:         logger.Logger().WithComponent("storage_s3"),
		options:     make(map[streamKey]*optionsBuffer),
		overview:    make(map[streamKey]*overviewBuffer),
		flushTicker: time.NewTicker(time.Hour),
		done:        make(chan struct{}),
	}
}

func TestParquetBuffersPerStream(t *testing.T) {
	s := bufferOnlySink(t)
	defer s.flushTicker.Stop()

	batch := testBatch()
	if err := s.Write(context.Background(), batch); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(context.Background(), batch); err != nil {
		t.Fatalf("Write: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.options) != 3 {
		t.Fatalf("%d option streams buffered, want one per offset", len(s.options))
	}
	for _, offset := range []int{-1, 0, 1} {
		key := streamKey{index: "NIFTY", code: models.ExpiryThisWeek, offset: offset, date: "2026-08-21"}
		buf, ok := s.options[key]
		if !ok {
			t.Fatalf("no buffer for offset %d", offset)
		}
		if len(buf.rows) != 2 {
			t.Errorf("offset %d buffered %d rows, want 2", offset, len(buf.rows))
		}
	}

	ovKey := streamKey{index: "NIFTY", code: models.ExpiryThisWeek, offset: 0, date: "2026-08-21"}
	if buf, ok := s.overview[ovKey]; !ok || len(buf.rows) != 2 {
		t.Error("overview rows not buffered under the nearest expiry bucket at offset 0")
	}
}

func TestOptionsArchiveRow(t *testing.T) {
	batch := testBatch()

	full := optionsArchiveRow(batch.Options[0])
	if full.Offset != -1 || full.Strike != 19900 {
		t.Errorf("row = offset %d strike %.0f, want -1 19900", full.Offset, full.Strike)
	}
	if full.CE == nil || *full.CE != 142.5 {
		t.Error("call leg not mapped")
	}
	if full.TP == nil || *full.TP != 218.75 {
		t.Error("total premium not mapped")
	}
	if full.PEOI == nil || *full.PEOI != 61000 {
		t.Error("put open interest not mapped")
	}

	partial := optionsArchiveRow(batch.Options[2])
	if partial.PE != nil || partial.PEVolume != nil || partial.PEOI != nil || partial.TP != nil {
		t.Error("missing put leg should leave optional columns nil")
	}
	if partial.CE == nil {
		t.Error("present call leg should still be mapped")
	}
}

func TestParquetConcurrentWrites(t *testing.T) {
	s := bufferOnlySink(t)
	defer s.flushTicker.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Write(context.Background(), testBatch())
		}()
	}
	wg.Wait()

	s.mu.Lock()
	rows := 0
	for _, buf := range s.options {
		rows += len(buf.rows)
	}
	s.mu.Unlock()
	if rows != 12 {
		t.Fatalf("buffered %d option rows from concurrent writes, want 12", rows)
	}
}
