package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"optionflow/config"
	"optionflow/logger"
	"optionflow/models"
)

// optionsParquetRow is the archival schema of one strike slot. Leg columns
// are OPTIONAL so missing legs survive the round trip as nulls.
type optionsParquetRow struct {
	Timestamp  int64    `parquet:"name=timestamp, type=INT64"`
	Index      string   `parquet:"name=index, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExpiryCode string   `parquet:"name=expiry_code, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExpiryDate string   `parquet:"name=expiry_date, type=BYTE_ARRAY, convertedtype=UTF8"`
	DTE        int32    `parquet:"name=dte, type=INT32"`
	Offset     int32    `parquet:"name=offset, type=INT32"`
	Strike     float64  `parquet:"name=strike, type=DOUBLE"`
	ATM        float64  `parquet:"name=atm, type=DOUBLE"`
	Spot       float64  `parquet:"name=spot, type=DOUBLE"`
	CE         *float64 `parquet:"name=ce, type=DOUBLE, repetitiontype=OPTIONAL"`
	PE         *float64 `parquet:"name=pe, type=DOUBLE, repetitiontype=OPTIONAL"`
	TP         *float64 `parquet:"name=tp, type=DOUBLE, repetitiontype=OPTIONAL"`
	CEVolume   *int64   `parquet:"name=ce_vol, type=INT64, repetitiontype=OPTIONAL"`
	PEVolume   *int64   `parquet:"name=pe_vol, type=INT64, repetitiontype=OPTIONAL"`
	CEOI       *int64   `parquet:"name=ce_oi, type=INT64, repetitiontype=OPTIONAL"`
	PEOI       *int64   `parquet:"name=pe_oi, type=INT64, repetitiontype=OPTIONAL"`
}

type overviewParquetRow struct {
	Timestamp    int64   `parquet:"name=timestamp, type=INT64"`
	Index        string  `parquet:"name=index, type=BYTE_ARRAY, convertedtype=UTF8"`
	Spot         float64 `parquet:"name=spot, type=DOUBLE"`
	DayWidth     float64 `parquet:"name=day_width, type=DOUBLE"`
	PCRThisWeek  float64 `parquet:"name=pcr_this_week, type=DOUBLE"`
	PCRNextWeek  float64 `parquet:"name=pcr_next_week, type=DOUBLE"`
	PCRThisMonth float64 `parquet:"name=pcr_this_month, type=DOUBLE"`
	PCRNextMonth float64 `parquet:"name=pcr_next_month, type=DOUBLE"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory
// writing; files are small enough to assemble before upload.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)   { return mfw, nil }
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}
func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// streamKey identifies one buffered record stream. Distinct offsets map to
// distinct streams, so they can never share an object key.
type streamKey struct {
	index  string
	code   models.ExpiryCode
	offset int
	date   string
}

type optionsBuffer struct {
	rows  []optionsParquetRow
	first time.Time
}

type overviewBuffer struct {
	rows  []overviewParquetRow
	first time.Time
}

// ParquetSink buffers rows per record stream and periodically flushes each
// buffer as one parquet object to S3.
type ParquetSink struct {
	cfg      config.S3Config
	version  string
	s3Client *s3.Client
	loc      *time.Location
	log      *logger.Entry

	mu       sync.Mutex
	options  map[streamKey]*optionsBuffer
	overview map[streamKey]*overviewBuffer

	flushTicker *time.Ticker
	done        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewParquetSink(ctx context.Context, cfg config.S3Config, version string, loc *time.Location, log *logger.Log) (*ParquetSink, error) {
	entry := log.WithComponent("storage_s3")

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	s := &ParquetSink{
		cfg:         cfg,
		version:     version,
		s3Client:    s3Client,
		loc:         loc,
		log:         entry,
		options:     make(map[streamKey]*optionsBuffer),
		overview:    make(map[streamKey]*overviewBuffer),
		flushTicker: time.NewTicker(cfg.FlushInterval),
		done:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.flushWorker()

	entry.WithFields(logger.Fields{
		"bucket":         cfg.Bucket,
		"region":         cfg.Region,
		"endpoint":       cfg.Endpoint,
		"path_style":     cfg.PathStyle,
		"prefix":         cfg.Prefix,
		"flush_interval": cfg.FlushInterval.String(),
	}).Info("S3 parquet sink initialized")

	return s, nil
}

func (s *ParquetSink) Name() string { return "s3" }

// Write buffers the batch's rows; the flush worker turns buffers into
// parquet objects.
func (s *ParquetSink) Write(ctx context.Context, batch models.CollectionBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	local := batch.Timestamp.In(s.loc)
	date := local.Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range batch.Options {
		key := streamKey{index: rec.Index, code: rec.Expiry.Code, offset: rec.Offset, date: date}
		buf, ok := s.options[key]
		if !ok {
			buf = &optionsBuffer{first: local}
			s.options[key] = buf
		}
		buf.rows = append(buf.rows, optionsArchiveRow(rec))
	}

	if batch.Overview != nil {
		code := models.ExpiryThisWeek
		if nearest, ok := batch.NearestExpiry(); ok {
			code = nearest.Code
		}
		key := streamKey{index: batch.Index, code: code, offset: 0, date: date}
		buf, ok := s.overview[key]
		if !ok {
			buf = &overviewBuffer{first: local}
			s.overview[key] = buf
		}
		buf.rows = append(buf.rows, overviewArchiveRow(*batch.Overview))
	}
	return nil
}

// Close stops the flush worker, which flushes all remaining buffers on its
// way out.
func (s *ParquetSink) Close(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.flushTicker.Stop()
		close(s.done)
	})
	s.wg.Wait()
	s.log.Info("S3 parquet sink closed")
	return nil
}

func (s *ParquetSink) flushWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			s.flushBuffers("shutdown")
			return
		case <-s.flushTicker.C:
			s.flushBuffers("interval")
		}
	}
}

func (s *ParquetSink) flushBuffers(reason string) {
	s.mu.Lock()
	options := s.options
	overview := s.overview
	s.options = make(map[streamKey]*optionsBuffer)
	s.overview = make(map[streamKey]*overviewBuffer)
	s.mu.Unlock()

	if len(options) == 0 && len(overview) == 0 {
		return
	}
	s.log.WithFields(logger.Fields{
		"option_streams":   len(options),
		"overview_streams": len(overview),
		"reason":           reason,
	}).Info("Flushing parquet buffers")

	for key, buf := range options {
		data, err := buildParquet(new(optionsParquetRow), len(buf.rows), func(pw *writer.ParquetWriter) error {
			for _, row := range buf.rows {
				if err := pw.Write(row); err != nil {
					return err
				}
			}
			return nil
		}, s.cfg.Compression)
		if err != nil {
			s.log.WithError(err).WithFields(logger.Fields{"index": key.index}).Error("Failed to build parquet file")
			continue
		}
		s.upload(ObjectKey(s.cfg.Prefix, KindOptions, key.index, key.code, key.offset, buf.first, uuid.New().String()), data, len(buf.rows))
	}

	for key, buf := range overview {
		data, err := buildParquet(new(overviewParquetRow), len(buf.rows), func(pw *writer.ParquetWriter) error {
			for _, row := range buf.rows {
				if err := pw.Write(row); err != nil {
					return err
				}
			}
			return nil
		}, s.cfg.Compression)
		if err != nil {
			s.log.WithError(err).WithFields(logger.Fields{"index": key.index}).Error("Failed to build parquet file")
			continue
		}
		s.upload(ObjectKey(s.cfg.Prefix, KindOverview, key.index, key.code, key.offset, buf.first, uuid.New().String()), data, len(buf.rows))
	}
}

// buildParquet assembles one in-memory parquet file from rows written by
// writeRows against the given schema object.
func buildParquet(schema interface{}, rowCount int, writeRows func(*writer.ParquetWriter) error, compression string) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := writer.NewParquetWriter(fw, schema, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "lzo":
		pw.CompressionType = parquet.CompressionCodec_LZO
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	if err := writeRows(pw); err != nil {
		pw.WriteStop()
		return nil, fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file of %d rows: %w", rowCount, err)
	}
	return fw.Bytes(), nil
}

func (s *ParquetSink) upload(key string, data []byte, rows int) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        s.cfg.Compression,
			"optionflow-version": s.version,
		},
	})
	if err != nil {
		s.log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": s.cfg.Bucket, "key": key}).
			Error("Failed to upload parquet object")
		return
	}

	s.log.WithFields(logger.Fields{
		"key":       key,
		"rows":      rows,
		"file_size": len(data),
	}).Info("Uploaded parquet object")
}

func optionsArchiveRow(rec models.OptionsRecord) optionsParquetRow {
	row := optionsParquetRow{
		Timestamp:  rec.Timestamp.UnixMilli(),
		Index:      rec.Index,
		ExpiryCode: string(rec.Expiry.Code),
		ExpiryDate: rec.Expiry.DateString(),
		DTE:        int32(rec.Expiry.DTE),
		Offset:     int32(rec.Offset),
		Strike:     rec.Strike,
		ATM:        rec.ATM,
		Spot:       rec.Spot,
		TP:         rec.TotalPremium(),
	}
	if q := rec.Call; q != nil {
		row.CE = f64p(q.LastPrice)
		row.CEVolume = i64p(q.Volume)
		row.CEOI = i64p(q.OI)
	}
	if q := rec.Put; q != nil {
		row.PE = f64p(q.LastPrice)
		row.PEVolume = i64p(q.Volume)
		row.PEOI = i64p(q.OI)
	}
	return row
}

func overviewArchiveRow(ov models.OverviewRecord) overviewParquetRow {
	return overviewParquetRow{
		Timestamp:    ov.Timestamp.UnixMilli(),
		Index:        ov.Index,
		Spot:         ov.Spot.LastPrice,
		DayWidth:     ov.DayWidth,
		PCRThisWeek:  ov.PCR[models.ExpiryThisWeek],
		PCRNextWeek:  ov.PCR[models.ExpiryNextWeek],
		PCRThisMonth: ov.PCR[models.ExpiryThisMonth],
		PCRNextMonth: ov.PCR[models.ExpiryNextMonth],
	}
}
