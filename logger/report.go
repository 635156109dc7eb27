package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsPoll        int64
	errorsStream      int64
	warnsPoll         int64
	warnsStream       int64
	snapshotPolls     int64
	liquidationEvents int64
	storeWrites       int64
	channels          sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "collector") || strings.Contains(component, "provider") {
		atomic.AddInt64(&warnsPoll, 1)
	} else if strings.Contains(component, "liq") {
		atomic.AddInt64(&warnsStream, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "collector") || strings.Contains(component, "provider") {
		atomic.AddInt64(&errorsPoll, 1)
	} else if strings.Contains(component, "liq") {
		atomic.AddInt64(&errorsStream, 1)
	}
}

// IncrementSnapshotPoll records a completed snapshot poll cycle.
func IncrementSnapshotPoll() {
	atomic.AddInt64(&snapshotPolls, 1)
}

// IncrementLiquidationEvent records one ingested liquidation message of the
// given payload size.
func IncrementLiquidationEvent(size int) {
	atomic.AddInt64(&liquidationEvents, 1)
	recordChannel("liq_ws", size)
}

// IncrementStoreWrite records one persisted blob of the given size.
func IncrementStoreWrite(size int) {
	atomic.AddInt64(&storeWrites, 1)
	recordChannel("store_write", size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport begins periodic logging of collection statistics.
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
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	fields := Fields{
		"errors_poll":        atomic.LoadInt64(&errorsPoll),
		"errors_stream":      atomic.LoadInt64(&errorsStream),
		"warns_poll":         atomic.LoadInt64(&warnsPoll),
		"warns_stream":       atomic.LoadInt64(&warnsStream),
		"snapshot_polls":     atomic.LoadInt64(&snapshotPolls),
		"liquidation_events": atomic.LoadInt64(&liquidationEvents),
		"store_writes":       atomic.LoadInt64(&storeWrites),
		"goroutines":         runtime.NumGoroutine(),
		"channels":           channelData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("SnapshotPolls"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&snapshotPolls)))},
		{MetricName: aws.String("LiquidationEvents"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&liquidationEvents)))},
		{MetricName: aws.String("StoreWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&storeWrites)))},
		{MetricName: aws.String("ErrorsPoll"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsPoll)))},
		{MetricName: aws.String("ErrorsStream"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsStream)))},
	}

	for name, stats := range channelData {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("ChannelMessages"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
			Value:      aws.Float64(float64(stats["messages"])),
		})
	}

	publishMetrics(ctx, data)
}
