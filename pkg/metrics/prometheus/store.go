// Package prometheus provides the Prometheus-backed instrumentation for
// recovery stores.
package prometheus

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittomq/pkg/linkstate"
	"github.com/marmos91/dittomq/pkg/metrics"
)

// StoreMetrics records recovery store operations.
type StoreMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	purged     *prometheus.CounterVec
}

// NewStoreMetrics creates store metrics on the global registry.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStoreMetrics() *StoreMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return NewStoreMetricsWith(metrics.GetRegistry())
}

// NewStoreMetricsWith creates store metrics on reg.
func NewStoreMetricsWith(reg prometheus.Registerer) *StoreMetrics {
	return &StoreMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomq_recovery_store_operations_total",
				Help: "Recovery store operations by store type, operation and result",
			},
			[]string{"store", "operation", "result"}, // result: "ok", "not_found", "error"
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittomq_recovery_store_operation_duration_milliseconds",
				Help: "Duration of recovery store operations in milliseconds",
				Buckets: []float64{
					0.05, // in-memory
					0.25,
					1,
					5, // badger, local sqlite
					25,
					100, // postgres round trips
					500,
				},
			},
			[]string{"store", "operation"},
		),
		purged: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomq_recovery_store_purged_records_total",
				Help: "Link records removed by retention purges",
			},
			[]string{"store"},
		),
	}
}

func (m *StoreMetrics) observe(store, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case linkstate.IsNotFoundError(err):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	m.operations.WithLabelValues(store, op, result).Inc()
	m.duration.WithLabelValues(store, op).Observe(float64(time.Since(start).Microseconds()) / 1000)
}

// InstrumentStore wraps s so every call is recorded under storeType. With
// nil metrics s is returned unchanged.
func InstrumentStore(s linkstate.RecoveryStore, storeType string, m *StoreMetrics) linkstate.RecoveryStore {
	if m == nil {
		return s
	}
	return &instrumentedStore{next: s, store: storeType, m: m}
}

type instrumentedStore struct {
	next  linkstate.RecoveryStore
	store string
	m     *StoreMetrics
}

func (s *instrumentedStore) Put(ctx context.Context, rec *linkstate.Record) error {
	start := time.Now()
	err := s.next.Put(ctx, rec)
	s.m.observe(s.store, "put", start, err)
	return err
}

func (s *instrumentedStore) Get(ctx context.Context, key linkstate.Key) (*linkstate.Record, error) {
	start := time.Now()
	rec, err := s.next.Get(ctx, key)
	s.m.observe(s.store, "get", start, err)
	return rec, err
}

func (s *instrumentedStore) Delete(ctx context.Context, key linkstate.Key) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.m.observe(s.store, "delete", start, err)
	return err
}

func (s *instrumentedStore) List(ctx context.Context) ([]*linkstate.Record, error) {
	start := time.Now()
	recs, err := s.next.List(ctx)
	s.m.observe(s.store, "list", start, err)
	return recs, err
}

func (s *instrumentedStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	start := time.Now()
	n, err := s.next.PurgeBefore(ctx, cutoff)
	s.m.observe(s.store, "purge", start, err)
	if err == nil && n > 0 {
		s.m.purged.WithLabelValues(s.store).Add(float64(n))
	}
	return n, err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
