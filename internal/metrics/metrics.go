package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del motor offline. Viven en un paquete propio para que
// replication, reconcile y http no se importen entre sí.

var (
	ReplicationEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_events_total",
		Help: "Eventos emitidos por el worker de replicación",
	}, []string{"collection", "event", "method"})

	ReplicationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_errors_total",
		Help: "Errores de replicación por clase",
	}, []string{"collection", "class"})

	MirrorSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mirror_documents",
		Help: "Documentos en el mirror en memoria",
	}, []string{"collection"})

	SearchRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "search_requests_total",
		Help: "Búsquedas de clientes por origen",
	}, []string{"source"}) // source: remote|local|failed

	ReconcileRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_runs_total",
		Help: "Corridas del reconciliador por resultado",
	}, []string{"result"}) // result: ok|offline|error|skipped

	OrderSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_submissions_total",
		Help: "Resultado por orden enviada al ERP",
	}, []string{"outcome"}) // outcome: accepted|rejected|unchanged|failed

	ReconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconcile_duration_seconds",
		Help:    "Duración de una corrida de reconciliación",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)

// Register registra las métricas en reg (o en el default si es nil).
// Registrar dos veces no es error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		ReplicationEvents, ReplicationErrors, MirrorSize,
		SearchRequests, ReconcileRuns, OrderSubmissions, ReconcileDuration,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
