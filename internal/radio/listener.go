package radio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Shivam-nitt/CropionApp/internal/db"
)

// Epsilons below which a position frame counts as a duplicate of the last
// one seen for its device.
const (
	latLonEpsilon    = 1e-7
	altitudeEpsilon  = 0.01
)

// Config holds radio link listener settings.
type Config struct {
	// Addr is the TCP address the telemetry radio bridge listens on.
	Addr string
	// PositionHz caps how many position frames per device per second are
	// kept. Zero means 5.
	PositionHz float64
	// QueueSize bounds the write queue. Zero means 1000.
	QueueSize int
	// BatchSize is the max readings per database transaction. Zero means 50.
	BatchSize int
	// FlushInterval forces a partial batch write. Zero means 1s.
	FlushInterval time.Duration
}

// frame is one JSON line from the radio bridge.
type frame struct {
	DeviceID    string  `json:"device_id"`
	Timestamp   float64 `json:"timestamp"`
	Battery     float64 `json:"battery"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Altitude    float64 `json:"altitude"`
	Speed       float64 `json:"speed"`
	Temperature float64 `json:"temperature"`
}

type lastPosition struct {
	lat, lon, altitude float64
	valid              bool
}

// Listener consumes high-rate telemetry frames from a radio bridge over
// TCP, throttles and deduplicates them per device, and writes survivors to
// the database in batches.
type Listener struct {
	cfg Config
	db  *db.DB
	log *slog.Logger

	limiters  map[string]*rate.Limiter
	positions map[string]lastPosition
	queue     chan db.Reading

	received atomic.Uint64
	kept     atomic.Uint64
	dropped  atomic.Uint64
}

// NewListener wires a listener for the given radio bridge address.
func NewListener(cfg Config, database *db.DB, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PositionHz <= 0 {
		cfg.PositionHz = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &Listener{
		cfg:       cfg,
		db:        database,
		log:       log,
		limiters:  make(map[string]*rate.Limiter),
		positions: make(map[string]lastPosition),
		queue:     make(chan db.Reading, cfg.QueueSize),
	}
}

// Run connects to the bridge and processes frames until ctx is done,
// redialing on connection loss.
func (l *Listener) Run(ctx context.Context) {
	go l.writeLoop(ctx)
	go l.reportLoop(ctx)

	for ctx.Err() == nil {
		if err := l.consume(ctx); err != nil && ctx.Err() == nil {
			l.log.Warn("radio link lost, redialing",
				"addr", l.cfg.Addr,
				"error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (l *Listener) consume(ctx context.Context) error {
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", l.cfg.Addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	l.log.Info("radio link established", "addr", l.cfg.Addr)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var f frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			continue
		}
		l.process(f)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("radio stream closed")
}

// process applies throttle and dedupe rules and enqueues survivors.
// Exposed to tests through process_test helpers; the TCP plumbing above
// stays out of the decision path.
func (l *Listener) process(f frame) {
	l.received.Add(1)
	if f.DeviceID == "" {
		f.DeviceID = "unknown"
	}

	if l.isDuplicate(f) {
		l.dropped.Add(1)
		return
	}
	if !l.limiter(f.DeviceID).Allow() {
		l.dropped.Add(1)
		return
	}

	ts := time.Now().UTC()
	if f.Timestamp > 0 {
		sec := int64(f.Timestamp)
		ts = time.Unix(sec, int64((f.Timestamp-float64(sec))*float64(time.Second))).UTC()
	}

	reading := db.Reading{
		DeviceID:    f.DeviceID,
		Timestamp:   ts,
		Battery:     f.Battery,
		Lat:         f.Lat,
		Lon:         f.Lon,
		Temperature: f.Temperature,
		Altitude:    f.Altitude,
		Speed:       f.Speed,
	}

	select {
	case l.queue <- reading:
		l.kept.Add(1)
	default:
		// Queue full: shedding load beats blocking the radio stream.
		l.dropped.Add(1)
	}
}

func (l *Listener) isDuplicate(f frame) bool {
	last := l.positions[f.DeviceID]
	defer func() {
		l.positions[f.DeviceID] = lastPosition{lat: f.Lat, lon: f.Lon, altitude: f.Altitude, valid: true}
	}()

	if !last.valid {
		return false
	}
	return math.Abs(f.Lat-last.lat) < latLonEpsilon &&
		math.Abs(f.Lon-last.lon) < latLonEpsilon &&
		math.Abs(f.Altitude-last.altitude) < altitudeEpsilon
}

func (l *Listener) limiter(deviceID string) *rate.Limiter {
	limiter, ok := l.limiters[deviceID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.cfg.PositionHz), 1)
		l.limiters[deviceID] = limiter
	}
	return limiter
}

// writeLoop drains the queue into batched inserts.
func (l *Listener) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]db.Reading, 0, l.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.db.InsertTelemetryBatch(context.Background(), batch); err != nil {
			l.log.Error("failed to write telemetry batch",
				"size", len(batch),
				"error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case reading := <-l.queue:
			batch = append(batch, reading)
			if len(batch) >= l.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// reportLoop logs throughput counters every 10 seconds.
func (l *Listener) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.log.Info("radio link stats",
				"received", l.received.Load(),
				"kept", l.kept.Load(),
				"dropped", l.dropped.Load())
		}
	}
}
