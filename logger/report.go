package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type flowStat struct {
	messages int64
	bytes    int64
}

var (
	errorsStream     int64
	errorsDispatch   int64
	warnsStream      int64
	warnsDispatch    int64
	streamReads      int64
	bookUpdates      int64
	portfolioPushes  int64
	commandsSent     int64
	commandsDropped  int64
	streamReconnects int64
	flows            sync.Map // map[string]*flowStat
)

func recordWarn(component string) {
	if strings.Contains(component, "stream") {
		atomic.AddInt64(&warnsStream, 1)
	} else if strings.Contains(component, "dispatch") {
		atomic.AddInt64(&warnsDispatch, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "stream") {
		atomic.AddInt64(&errorsStream, 1)
	} else if strings.Contains(component, "dispatch") {
		atomic.AddInt64(&errorsDispatch, 1)
	}
}

// IncrementStreamRead counts one inbound frame of the given size.
func IncrementStreamRead(size int) {
	atomic.AddInt64(&streamReads, 1)
	recordFlow("stream_ws", size)
}

// IncrementBookUpdates counts applied order-book update entries.
func IncrementBookUpdates(n int) {
	atomic.AddInt64(&bookUpdates, int64(n))
}

// IncrementPortfolioPush counts one portfolio replacement push.
func IncrementPortfolioPush(size int) {
	atomic.AddInt64(&portfolioPushes, 1)
	recordFlow("portfolio_push", size)
}

// IncrementCommandSent counts one command forwarded to the venue.
func IncrementCommandSent() {
	atomic.AddInt64(&commandsSent, 1)
	recordFlow("venue_rest", 1)
}

// IncrementCommandDropped counts one command rejected by admission control.
func IncrementCommandDropped() {
	atomic.AddInt64(&commandsDropped, 1)
}

// IncrementStreamReconnect counts one reconnection attempt.
func IncrementStreamReconnect() {
	atomic.AddInt64(&streamReconnects, 1)
}

func recordFlow(name string, size int) {
	v, _ := flows.LoadOrStore(name, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.messages, 1)
	atomic.AddInt64(&fs.bytes, int64(size))
}

// StartReport begins periodic logging of system and flow statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
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

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	netStats, _ := gnet.IOCounters(false)

	flowData := map[string]map[string]int64{}
	flows.Range(func(k, v any) bool {
		name := k.(string)
		fs := v.(*flowStat)
		flowData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&fs.messages),
			"bytes":    atomic.LoadInt64(&fs.bytes),
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
		"errors_stream":     atomic.LoadInt64(&errorsStream),
		"errors_dispatch":   atomic.LoadInt64(&errorsDispatch),
		"warns_stream":      atomic.LoadInt64(&warnsStream),
		"warns_dispatch":    atomic.LoadInt64(&warnsDispatch),
		"stream_reads":      atomic.LoadInt64(&streamReads),
		"book_updates":      atomic.LoadInt64(&bookUpdates),
		"portfolio_pushes":  atomic.LoadInt64(&portfolioPushes),
		"commands_sent":     atomic.LoadInt64(&commandsSent),
		"commands_dropped":  atomic.LoadInt64(&commandsDropped),
		"stream_reconnects": atomic.LoadInt64(&streamReconnects),
		"goroutines":        runtime.NumGoroutine(),
		"cpu_percent":       cpuPct,
		"memory_mb":         int64(memStats.Used) / 1024 / 1024,
		"flows":             flowData,
		"net_bytes_sent":    int64(bytesSent),
		"net_bytes_recv":    int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("StreamReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&streamReads)))},
		cwtypes.MetricDatum{MetricName: aws.String("BookUpdates"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&bookUpdates)))},
		cwtypes.MetricDatum{MetricName: aws.String("PortfolioPushes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&portfolioPushes)))},
		cwtypes.MetricDatum{MetricName: aws.String("CommandsSent"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&commandsSent)))},
		cwtypes.MetricDatum{MetricName: aws.String("CommandsDropped"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&commandsDropped)))},
		cwtypes.MetricDatum{MetricName: aws.String("StreamReconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&streamReconnects)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range flowData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("FlowMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Flow"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("FlowBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Flow"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
