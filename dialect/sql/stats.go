package sql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/syssam/veloq/dialect"
)

// QueryStats holds query execution statistics.
type QueryStats struct {
	// TotalQueries is the total number of queries executed.
	TotalQueries atomic.Int64
	// TotalExecs is the total number of exec statements executed.
	TotalExecs atomic.Int64
	// TotalDuration is the total time spent executing queries.
	TotalDuration atomic.Int64 // nanoseconds
	// SlowQueries is the count of queries exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors is the count of query errors.
	Errors atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *QueryStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalExecs.Store(0)
	s.TotalDuration.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of query statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// AvgQueryDuration returns the average query duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgQueryDuration(),
		s.SlowQueries, s.Errors,
	)
}

// SlowQueryHook is a function called when a slow query is detected.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsDriver wraps a Driver with query statistics collection.
type StatsDriver struct {
	*Driver
	stats         *QueryStats
	metrics       *statsMetrics
	slowThreshold time.Duration
	slowHook      SlowQueryHook
	mu            sync.RWMutex
}

// StatsOption configures the StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the threshold for slow query detection.
// Queries taking longer than this duration will be counted as slow queries.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.slowThreshold = d
	}
}

// WithSlowQueryHook sets a callback function for slow queries.
// The hook is called whenever a query exceeds the slow threshold.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog logs slow queries to the default logger.
// This is a convenience wrapper around WithSlowQueryHook.
func WithSlowQueryLog() StatsOption {
	return WithSlowQueryHook(func(_ context.Context, query string, args []any, duration time.Duration) {
		slog.Warn("slow query detected", "duration", duration, "query", query, "args", args)
	})
}

// NewStatsDriver wraps a Driver with statistics collection.
//
// Example:
//
//	drv, _ := sql.Open("postgres", dsn)
//	statsDriver := sql.NewStatsDriver(drv,
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(),
//	)
//	prometheus.MustRegister(statsDriver.Collector())
//
//	// Later, check statistics:
//	stats := statsDriver.QueryStats().Stats()
//	fmt.Println(stats)
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Driver:        drv,
		stats:         &QueryStats{},
		metrics:       newStatsMetrics(drv.Dialect()),
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the underlying QueryStats for reading statistics.
func (d *StatsDriver) QueryStats() *QueryStats {
	return d.stats
}

// SlowThreshold returns the current slow query threshold.
func (d *StatsDriver) SlowThreshold() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.slowThreshold
}

// SetSlowThreshold updates the slow query threshold.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slowThreshold = threshold
}

// Query executes a query and records statistics.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.record(ctx, query, args, start, err, true)
	return err
}

// Exec executes a statement and records statistics.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.record(ctx, query, args, start, err, false)
	return err
}

func (d *StatsDriver) record(ctx context.Context, query string, args any, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	if isQuery {
		d.stats.TotalQueries.Add(1)
	} else {
		d.stats.TotalExecs.Add(1)
	}
	d.stats.TotalDuration.Add(int64(duration))

	if err != nil {
		d.stats.Errors.Add(1)
	}
	d.metrics.sample(isQuery, duration, err)

	d.mu.RLock()
	threshold := d.slowThreshold
	hook := d.slowHook
	d.mu.RUnlock()

	if duration > threshold {
		d.stats.SlowQueries.Add(1)
		if hook != nil {
			argsSlice, _ := args.([]any)
			hook(ctx, query, argsSlice, duration)
		}
	}
}

// Tx starts a transaction on a new recorded session. The transaction
// control statements are recorded as well.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	s, err := d.Session(ctx)
	if err != nil {
		return nil, err
	}
	return s.ownedTx(ctx)
}

// Session returns a Session whose statements are recorded by the driver.
func (d *StatsDriver) Session(ctx context.Context, opts ...SessionOption) (*Session, error) {
	return d.Driver.Session(ctx, append(opts, withExecQuerier(func(ex dialect.ExecQuerier) dialect.ExecQuerier {
		return &statsExecQuerier{ExecQuerier: ex, driver: d}
	}))...)
}

// Collector returns a prometheus.Collector exporting the statistics of the
// driver.
//
//	registry := prometheus.NewRegistry()
//	registry.MustRegister(statsDriver.Collector())
func (d *StatsDriver) Collector() prometheus.Collector {
	return d.metrics
}

// statsExecQuerier records the statements of a session.
type statsExecQuerier struct {
	dialect.ExecQuerier
	driver *StatsDriver
}

func (s *statsExecQuerier) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := s.ExecQuerier.Query(ctx, query, args, v)
	s.driver.record(ctx, query, args, start, err, true)
	return err
}

func (s *statsExecQuerier) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := s.ExecQuerier.Exec(ctx, query, args, v)
	s.driver.record(ctx, query, args, start, err, false)
	return err
}

// statsMetrics holds the prometheus metrics of one StatsDriver.
type statsMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newStatsMetrics(dialect string) *statsMetrics {
	labels := prometheus.Labels{"dialect": dialect}
	return &statsMetrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "veloq_statements_total",
				Help:        "Total of executed statements",
				ConstLabels: labels,
			},
			[]string{"kind", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "veloq_statement_duration_seconds",
				Help:        "Duration of statement execution",
				ConstLabels: labels,
				Buckets: []float64{
					.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1,
					2.5, 5, 10,
				},
			},
			[]string{"kind", "status"},
		),
	}
}

func (m *statsMetrics) sample(isQuery bool, elapsed time.Duration, err error) {
	kind, status := "exec", "ok"
	if isQuery {
		kind = "query"
	}
	if err != nil {
		status = "error"
	}
	labels := prometheus.Labels{"kind": kind, "status": status}
	m.total.With(labels).Inc()
	m.duration.With(labels).Observe(elapsed.Seconds())
}

// Describe implements prometheus.Collector.
func (m *statsMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.total.Describe(ch)
	m.duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *statsMetrics) Collect(ch chan<- prometheus.Metric) {
	m.total.Collect(ch)
	m.duration.Collect(ch)
}

// DebugDriver wraps a Driver with debug logging.
type DebugDriver struct {
	*Driver
	log func(context.Context, ...any)
}

// DebugOption configures the DebugDriver.
type DebugOption func(*DebugDriver)

// DebugWithLog sets a custom log function.
func DebugWithLog(logFunc func(context.Context, ...any)) DebugOption {
	return func(d *DebugDriver) {
		d.log = logFunc
	}
}

// NewDebugDriver wraps a Driver with debug logging.
//
// Example:
//
//	drv, _ := sql.Open("postgres", dsn)
//	debugDriver := sql.NewDebugDriver(drv, sql.DebugWithLog(func(ctx context.Context, v ...any) {
//	    log.Println(v...)
//	}))
//	s, _ := debugDriver.Session(ctx)
func NewDebugDriver(drv *Driver, opts ...DebugOption) *DebugDriver {
	d := &DebugDriver{
		Driver: drv,
		log: func(_ context.Context, v ...any) {
			slog.Info(fmt.Sprint(v...))
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Query executes a query and logs it.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.log(ctx, fmt.Sprintf("query: %s args: %v", query, args))
	return d.Driver.Query(ctx, query, args, v)
}

// Exec executes a statement and logs it.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.log(ctx, fmt.Sprintf("exec: %s args: %v", query, args))
	return d.Driver.Exec(ctx, query, args, v)
}

// Tx starts a transaction on a new logged session.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	s, err := d.Session(ctx)
	if err != nil {
		return nil, err
	}
	return s.ownedTx(ctx)
}

// Session returns a Session whose statements are logged by the driver.
func (d *DebugDriver) Session(ctx context.Context, opts ...SessionOption) (*Session, error) {
	return d.Driver.Session(ctx, append(opts, withExecQuerier(func(ex dialect.ExecQuerier) dialect.ExecQuerier {
		return &debugExecQuerier{ExecQuerier: ex, log: d.log}
	}))...)
}

// debugExecQuerier logs the statements of a session.
type debugExecQuerier struct {
	dialect.ExecQuerier
	log func(context.Context, ...any)
}

func (s *debugExecQuerier) Query(ctx context.Context, query string, args, v any) error {
	s.log(ctx, fmt.Sprintf("session query: %s args: %v", query, args))
	return s.ExecQuerier.Query(ctx, query, args, v)
}

func (s *debugExecQuerier) Exec(ctx context.Context, query string, args, v any) error {
	s.log(ctx, fmt.Sprintf("session exec: %s args: %v", query, args))
	return s.ExecQuerier.Exec(ctx, query, args, v)
}

// Ensure interfaces are implemented.
var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
	_ dialect.Tx     = (*Tx)(nil)
)

// OpenWithStats opens a database connection with statistics collection enabled.
//
// Example:
//
//	drv, stats, err := sql.OpenWithStats("postgres", dsn,
//	    sql.WithSlowThreshold(100*time.Millisecond),
//	    sql.WithSlowQueryLog(),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Monitor statistics periodically
//	go func() {
//	    for range time.Tick(time.Minute) {
//	        s := stats.Stats()
//	        log.Printf("Query stats: %s", s)
//	    }
//	}()
func OpenWithStats(driverName, source string, opts ...StatsOption) (*StatsDriver, *QueryStats, error) {
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, nil, err
	}
	drv := NewDriver(driverName, Conn{db, driverName})
	statsDriver := NewStatsDriver(drv, opts...)
	stats := statsDriver.QueryStats()
	return statsDriver, stats, nil
}
