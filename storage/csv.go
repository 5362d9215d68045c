package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gocarina/gocsv"

	"optionflow/config"
	"optionflow/logger"
	"optionflow/models"
)

// rowTimestamp is the format of the timestamp column in every CSV row.
const rowTimestamp = "2006-01-02 15:04:05"

// optionsRow is one collected strike slot. Leg columns are pointers so a
// missing leg renders as an empty cell instead of a fake zero.
type optionsRow struct {
	Timestamp  string   `csv:"timestamp"`
	Index      string   `csv:"index"`
	ExpiryCode string   `csv:"expiry_code"`
	ExpiryDate string   `csv:"expiry_date"`
	DTE        int      `csv:"dte"`
	Offset     int      `csv:"offset"`
	Strike     float64  `csv:"strike"`
	ATM        float64  `csv:"atm"`
	Spot       float64  `csv:"spot"`
	CE         *float64 `csv:"ce"`
	PE         *float64 `csv:"pe"`
	TP         *float64 `csv:"tp"`
	CEAvg      *float64 `csv:"avg_ce"`
	PEAvg      *float64 `csv:"avg_pe"`
	CEVolume   *int64   `csv:"ce_vol"`
	PEVolume   *int64   `csv:"pe_vol"`
	CEOI       *int64   `csv:"ce_oi"`
	PEOI       *int64   `csv:"pe_oi"`
	CEBid      *float64 `csv:"ce_bid"`
	CEAsk      *float64 `csv:"ce_ask"`
	PEBid      *float64 `csv:"pe_bid"`
	PEAsk      *float64 `csv:"pe_ask"`
}

type overviewRow struct {
	Timestamp    string  `csv:"timestamp"`
	Index        string  `csv:"index"`
	Spot         float64 `csv:"spot"`
	DayWidth     float64 `csv:"day_width"`
	PCRThisWeek  float64 `csv:"pcr_this_week"`
	PCRNextWeek  float64 `csv:"pcr_next_week"`
	PCRThisMonth float64 `csv:"pcr_this_month"`
	PCRNextMonth float64 `csv:"pcr_next_month"`
}

// CSVSink appends batches to per-stream day files. Each file path gets its
// own mutex so concurrent batches never interleave rows.
type CSVSink struct {
	root string
	loc  *time.Location
	log  *logger.Entry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCSVSink(cfg config.CSVConfig, loc *time.Location, log *logger.Log) (*CSVSink, error) {
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("csv root %s: %w", cfg.Root, err)
	}
	entry := log.WithComponent("storage_csv")
	entry.WithFields(logger.Fields{"root": cfg.Root}).Info("CSV sink initialized")
	return &CSVSink{
		root:  cfg.Root,
		loc:   loc,
		log:   entry,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Write(ctx context.Context, batch models.CollectionBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	local := batch.Timestamp.In(s.loc)
	ts := local.Format(rowTimestamp)

	var errs []error
	for _, rec := range batch.Options {
		path := ArtifactPath(s.root, KindOptions, rec.Index, rec.Expiry.Code, rec.Offset, local, "csv")
		row := optionsRecordRow(rec, ts)
		if err := appendRows(s.pathLock(path), path, &[]optionsRow{row}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}

	if batch.Overview != nil {
		code := models.ExpiryThisWeek
		if nearest, ok := batch.NearestExpiry(); ok {
			code = nearest.Code
		}
		path := ArtifactPath(s.root, KindOverview, batch.Index, code, 0, local, "csv")
		row := overviewRecordRow(*batch.Overview, ts)
		if err := appendRows(s.pathLock(path), path, &[]overviewRow{row}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}

	return errors.Join(errs...)
}

func (s *CSVSink) Close(ctx context.Context) error {
	return nil
}

func (s *CSVSink) pathLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[path] = lock
	}
	return lock
}

// appendRows appends the rows to the file, writing the header only when the
// file is new or empty.
func appendRows(lock *sync.Mutex, path string, rows interface{}) error {
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	if info.Size() == 0 {
		err = gocsv.Marshal(rows, f)
	} else {
		err = gocsv.MarshalWithoutHeaders(rows, f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func optionsRecordRow(rec models.OptionsRecord, ts string) optionsRow {
	row := optionsRow{
		Timestamp:  ts,
		Index:      rec.Index,
		ExpiryCode: string(rec.Expiry.Code),
		ExpiryDate: rec.Expiry.DateString(),
		DTE:        rec.Expiry.DTE,
		Offset:     rec.Offset,
		Strike:     rec.Strike,
		ATM:        rec.ATM,
		Spot:       rec.Spot,
		TP:         rec.TotalPremium(),
	}
	if q := rec.Call; q != nil {
		row.CE = f64p(q.LastPrice)
		row.CEAvg = f64p(q.AvgPrice)
		row.CEVolume = i64p(q.Volume)
		row.CEOI = i64p(q.OI)
		row.CEBid = f64p(q.Bid)
		row.CEAsk = f64p(q.Ask)
	}
	if q := rec.Put; q != nil {
		row.PE = f64p(q.LastPrice)
		row.PEAvg = f64p(q.AvgPrice)
		row.PEVolume = i64p(q.Volume)
		row.PEOI = i64p(q.OI)
		row.PEBid = f64p(q.Bid)
		row.PEAsk = f64p(q.Ask)
	}
	return row
}

func overviewRecordRow(ov models.OverviewRecord, ts string) overviewRow {
	return overviewRow{
		Timestamp:    ts,
		Index:        ov.Index,
		Spot:         ov.Spot.LastPrice,
		DayWidth:     ov.DayWidth,
		PCRThisWeek:  ov.PCR[models.ExpiryThisWeek],
		PCRNextWeek:  ov.PCR[models.ExpiryNextWeek],
		PCRThisMonth: ov.PCR[models.ExpiryThisMonth],
		PCRNextMonth: ov.PCR[models.ExpiryNextMonth],
	}
}

func f64p(v float64) *float64 { return &v }

func i64p(v int64) *int64 { return &v }
