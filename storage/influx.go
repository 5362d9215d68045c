package storage

import (
	"context"
	"fmt"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"optionflow/config"
	"optionflow/logger"
	"optionflow/models"
)

// InfluxSink writes batches as points into an InfluxDB bucket. Writes are
// blocking per batch, which keeps ordering simple; batches of different
// indices are already independent at the router.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      *logger.Entry
}

// NewInfluxSink connects and pings the server. A failed ping is a startup
// error, the process should not come up half-wired.
func NewInfluxSink(ctx context.Context, cfg config.InfluxConfig, log *logger.Log) (*InfluxSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx ping %s: %w", cfg.URL, err)
	}
	if !ok {
		client.Close()
		return nil, fmt.Errorf("influx at %s is not ready", cfg.URL)
	}

	entry := log.WithComponent("storage_influx")
	entry.WithFields(logger.Fields{
		"url":    cfg.URL,
		"org":    cfg.Org,
		"bucket": cfg.Bucket,
	}).Info("Influx sink initialized")

	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      entry,
	}, nil
}

func (s *InfluxSink) Name() string { return "influx" }

func (s *InfluxSink) Write(ctx context.Context, batch models.CollectionBatch) error {
	points := make([]*write.Point, 0, len(batch.Options)+1)

	for _, rec := range batch.Options {
		points = append(points, optionsPoint(rec))
	}
	if batch.Overview != nil {
		code := models.ExpiryThisWeek
		dte := 0
		if nearest, ok := batch.NearestExpiry(); ok {
			code = nearest.Code
			dte = nearest.DTE
		}
		points = append(points, overviewPoint(*batch.Overview, code, dte))
	}
	if len(points) == 0 {
		return nil
	}

	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func (s *InfluxSink) Close(ctx context.Context) error {
	s.client.Close()
	s.log.Info("Influx sink closed")
	return nil
}

func optionsPoint(rec models.OptionsRecord) *write.Point {
	tags := map[string]string{
		"index":       rec.Index,
		"expiry_code": string(rec.Expiry.Code),
		"offset":      strconv.Itoa(rec.Offset),
		"dte":         strconv.Itoa(rec.Expiry.DTE),
	}
	fields := map[string]interface{}{
		"strike": rec.Strike,
		"atm":    rec.ATM,
		"spot":   rec.Spot,
	}
	if q := rec.Call; q != nil {
		fields["ce"] = q.LastPrice
		fields["ce_avg"] = q.AvgPrice
		fields["ce_vol"] = q.Volume
		fields["ce_oi"] = q.OI
		fields["ce_bid"] = q.Bid
		fields["ce_ask"] = q.Ask
	}
	if q := rec.Put; q != nil {
		fields["pe"] = q.LastPrice
		fields["pe_avg"] = q.AvgPrice
		fields["pe_vol"] = q.Volume
		fields["pe_oi"] = q.OI
		fields["pe_bid"] = q.Bid
		fields["pe_ask"] = q.Ask
	}
	if tp := rec.TotalPremium(); tp != nil {
		fields["tp"] = *tp
	}
	return influxdb2.NewPoint("options", tags, fields, rec.Timestamp)
}

func overviewPoint(ov models.OverviewRecord, code models.ExpiryCode, dte int) *write.Point {
	tags := map[string]string{
		"index":       ov.Index,
		"expiry_code": string(code),
		"offset":      "0",
		"dte":         strconv.Itoa(dte),
	}
	fields := map[string]interface{}{
		"spot":      ov.Spot.LastPrice,
		"day_width": ov.DayWidth,
	}
	for code, pcr := range ov.PCR {
		fields["pcr_"+string(code)] = pcr
	}
	return influxdb2.NewPoint("overview", tags, fields, ov.Timestamp)
}
