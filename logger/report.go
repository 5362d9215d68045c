package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type channelStat struct {
	messages int64
	records  int64
}

var (
	errorsProvider  int64
	errorsCollector int64
	errorsStorage   int64
	warnsProvider   int64
	warnsCollector  int64
	warnsStorage    int64
	providerCalls   int64
	batchesBuilt    int64
	sinkWrites      int64
	recordsWritten  int64
	channels        sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	switch {
	case strings.Contains(component, "provider"):
		atomic.AddInt64(&warnsProvider, 1)
	case strings.Contains(component, "collector"):
		atomic.AddInt64(&warnsCollector, 1)
	case strings.Contains(component, "storage"):
		atomic.AddInt64(&warnsStorage, 1)
	}
}

func recordError(component string) {
	switch {
	case strings.Contains(component, "provider"):
		atomic.AddInt64(&errorsProvider, 1)
	case strings.Contains(component, "collector"):
		atomic.AddInt64(&errorsCollector, 1)
	case strings.Contains(component, "storage"):
		atomic.AddInt64(&errorsStorage, 1)
	}
}

func IncrementProviderCall() {
	atomic.AddInt64(&providerCalls, 1)
}

func IncrementBatchBuilt(records int) {
	atomic.AddInt64(&batchesBuilt, 1)
	recordChannel("batches", records)
}

func IncrementSinkWrite(sink string, records int) {
	atomic.AddInt64(&sinkWrites, 1)
	atomic.AddInt64(&recordsWritten, int64(records))
	recordChannel("sink_"+sink, records)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.records, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"records":  atomic.LoadInt64(&cs.records),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_provider":  atomic.LoadInt64(&errorsProvider),
		"errors_collector": atomic.LoadInt64(&errorsCollector),
		"errors_storage":   atomic.LoadInt64(&errorsStorage),
		"warns_provider":   atomic.LoadInt64(&warnsProvider),
		"warns_collector":  atomic.LoadInt64(&warnsCollector),
		"warns_storage":    atomic.LoadInt64(&warnsStorage),
		"provider_calls":   atomic.LoadInt64(&providerCalls),
		"batches_built":    atomic.LoadInt64(&batchesBuilt),
		"sink_writes":      atomic.LoadInt64(&sinkWrites),
		"records_written":  atomic.LoadInt64(&recordsWritten),
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        int64(memStats.Used) / 1024 / 1024,
		"disk_mb":          int64(diskStats.Used) / 1024 / 1024,
		"channels":         channelData,
		"net_bytes_sent":   int64(bytesSent),
		"net_bytes_recv":   int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-ErrorsProvider"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_provider"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-ErrorsCollector"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_collector"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-ErrorsStorage"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_storage"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-WarnsProvider"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_provider"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-WarnsCollector"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_collector"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-WarnsStorage"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_storage"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-ProviderCalls"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["provider_calls"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-BatchesBuilt"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["batches_built"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-SinkWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["sink_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-RecordsWritten"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["records_written"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("OptionFlow-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("OptionFlow-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("OptionFlow-ChannelRecords"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["records"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
