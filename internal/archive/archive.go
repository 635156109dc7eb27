// Package archive persists significant liquidation events to S3 as
// snappy-compressed parquet files, batched per exchange and symbol.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "sentimentflow/config"
	"sentimentflow/internal/models"
	"sentimentflow/logger"
)

const (
	keySeparator     = "|"
	defaultFlush     = time.Minute
	defaultMaxBuffer = 100
)

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, io.EOF }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// liquidationRecord defines the parquet schema for archived liquidations.
type liquidationRecord struct {
	Exchange  string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Quantity  float64 `parquet:"name=quantity, type=DOUBLE"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Value     float64 `parquet:"name=value, type=DOUBLE"`
	EventTime int64   `parquet:"name=event_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type batch struct {
	Exchange string
	Symbol   string
	Events   []models.LiquidationEvent
}

// Writer buffers liquidation events and periodically uploads them to S3 as
// parquet objects partitioned by exchange, symbol and date.
type Writer struct {
	cfg       *appconfig.Config
	s3Client  *s3.Client
	log       *logger.Log
	bucket    string
	prefix    string
	ctx       context.Context
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
	running   bool
	mu        sync.Mutex
	buffer    map[string][]models.LiquidationEvent
	lastFlush map[string]time.Time
	interval  time.Duration
	maxBuffer int
}

// NewWriter initializes the S3 client from the storage config. It fails when
// S3 archival is disabled or the bucket is missing.
func NewWriter(cfg *appconfig.Config) (*Writer, error) {
	log := logger.GetLogger()
	if !cfg.Storage.S3.Enabled {
		return nil, fmt.Errorf("s3 storage is disabled")
	}

	bucket := strings.TrimSpace(cfg.Storage.S3.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket not configured")
	}

	ctx := context.Background()
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	interval := cfg.Storage.S3.FlushInterval
	if interval <= 0 {
		interval = defaultFlush
	}

	w := &Writer{
		cfg:       cfg,
		s3Client:  s3.NewFromConfig(awsCfg),
		log:       log,
		bucket:    bucket,
		prefix:    strings.Trim(cfg.Storage.S3.Prefix, "/"),
		wg:        &sync.WaitGroup{},
		buffer:    make(map[string][]models.LiquidationEvent),
		lastFlush: make(map[string]time.Time),
		interval:  interval,
		maxBuffer: defaultMaxBuffer,
	}

	log.WithComponent("liq_archive").WithFields(logger.Fields{
		"bucket":         bucket,
		"region":         cfg.Storage.S3.Region,
		"flush_interval": interval.String(),
	}).Info("liquidation archive initialized")

	return w, nil
}

// Start launches the flush worker.
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("liquidation archive already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.buffer = make(map[string][]models.LiquidationEvent)
	w.lastFlush = make(map[string]time.Time)
	w.mu.Unlock()

	w.wg.Add(1)
	go w.flushWorker()
	return nil
}

// Stop terminates the flush worker and uploads any buffered events.
func (w *Writer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	w.flushAll("stop")
	w.log.WithComponent("liq_archive").Info("liquidation archive stopped")
}

// Enqueue buffers one event for upload. A buffer that reaches the size cap is
// flushed immediately.
func (w *Writer) Enqueue(event models.LiquidationEvent) {
	key := bufferKey(event.Exchange, event.Symbol)

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.buffer[key] = append(w.buffer[key], event)
	if _, ok := w.lastFlush[key]; !ok {
		w.lastFlush[key] = time.Now()
	}
	shouldFlush := len(w.buffer[key]) >= w.maxBuffer
	w.mu.Unlock()

	if shouldFlush {
		w.flushKey(key)
	}
}

func (w *Writer) flushWorker() {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushTimedOut()
		}
	}
}

func (w *Writer) flushTimedOut() {
	now := time.Now()
	w.mu.Lock()
	keys := make([]string, 0, len(w.buffer))
	for key := range w.buffer {
		if len(w.buffer[key]) == 0 {
			continue
		}
		if now.Sub(w.lastFlush[key]) >= w.interval {
			keys = append(keys, key)
		}
	}
	w.mu.Unlock()

	for _, key := range keys {
		w.flushKey(key)
	}
}

func (w *Writer) flushAll(reason string) {
	w.mu.Lock()
	keys := make([]string, 0, len(w.buffer))
	for key := range w.buffer {
		if len(w.buffer[key]) > 0 {
			keys = append(keys, key)
		}
	}
	w.mu.Unlock()

	if len(keys) == 0 {
		return
	}

	w.log.WithComponent("liq_archive").WithFields(logger.Fields{
		"flushed_buffers": len(keys),
		"reason":          reason,
	}).Info("flushing liquidation archive buffers")

	for _, key := range keys {
		w.flushKey(key)
	}
}

func (w *Writer) flushKey(key string) {
	w.mu.Lock()
	events := w.buffer[key]
	if len(events) == 0 {
		w.mu.Unlock()
		return
	}
	delete(w.buffer, key)
	delete(w.lastFlush, key)
	w.mu.Unlock()

	parts := strings.SplitN(key, keySeparator, 2)
	b := batch{Exchange: parts[0], Events: events}
	if len(parts) > 1 {
		b.Symbol = parts[1]
	}

	w.writeBatch(b)
}

func (w *Writer) writeBatch(b batch) {
	data, err := encodeParquet(b.Events)
	if err != nil {
		w.log.WithComponent("liq_archive").WithError(err).Error("failed to encode liquidation batch")
		return
	}

	key := w.objectKey(b)
	if err := w.upload(key, data); err != nil {
		w.log.WithComponent("liq_archive").WithError(err).WithFields(logger.Fields{
			"s3_key": key,
		}).Error("failed to upload liquidation batch")
		return
	}

	w.log.WithComponent("liq_archive").WithFields(logger.Fields{
		"s3_key":  key,
		"records": len(b.Events),
		"bytes":   len(data),
	}).Info("liquidation batch uploaded")
}

func encodeParquet(events []models.LiquidationEvent) ([]byte, error) {
	mf := newMemFile()
	pw, err := writer.NewParquetWriter(mf, new(liquidationRecord), 1)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, event := range events {
		rec := liquidationRecord{
			Exchange:  strings.ToLower(event.Exchange),
			Symbol:    strings.ToUpper(event.Symbol),
			Side:      string(event.Side),
			Quantity:  event.Quantity,
			Price:     event.Price,
			Value:     event.Value,
			EventTime: event.Time.UTC().UnixMilli(),
		}
		if err := pw.Write(rec); err != nil {
			return nil, err
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mf.Bytes(), nil
}

func (w *Writer) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}

	ctx := context.WithoutCancel(w.ctx)
	_, err := w.s3Client.PutObject(ctx, input)
	return err
}

func bufferKey(exchange, symbol string) string {
	exch := strings.ToLower(strings.TrimSpace(exchange))
	if exch == "" {
		exch = "unknown"
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.Join([]string{exch, sym}, keySeparator)
}

func (w *Writer) objectKey(b batch) string {
	now := time.Now().UTC()

	parts := []string{}
	if w.prefix != "" {
		parts = append(parts, w.prefix)
	}
	parts = append(parts,
		fmt.Sprintf("exchange=%s", strings.ToLower(b.Exchange)),
		fmt.Sprintf("symbol=%s", strings.ToUpper(b.Symbol)),
		fmt.Sprintf("date=%04d-%02d-%02d", now.Year(), now.Month(), now.Day()),
	)

	ts := now.Format("20060102150405")
	filename := fmt.Sprintf("%s_liq_%s_%s_%s.parquet",
		strings.ToLower(b.Exchange), strings.ToUpper(b.Symbol), ts, uuid.NewString()[:8])
	return filepath.ToSlash(filepath.Join(append(parts, filename)...))
}
