package metrics

import (
	"net/http"

	"github.com/jhunt/go-log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shieldproject/relstore/core/bus"
)

type Exporter struct {
	Namespace string

	/* catalog sizes at startup; the gauges
	   track create-object events from there. */
	ReleaseCount         int
	ReleaseVersionCount  int
	PackageCount         int
	TemplateCount        int
	CompiledPackageCount int
	StemcellCount        int

	/* optional; reports how many chores are waiting */
	Backlog func() float64

	Username string
	Password string
	Realm    string

	bus      *bus.Bus
	registry *prometheus.Registry

	releasesGauge         prometheus.Gauge
	releaseVersionsGauge  prometheus.Gauge
	packagesGauge         prometheus.Gauge
	templatesGauge        prometheus.Gauge
	compiledPackagesGauge prometheus.Gauge
	stemcellsGauge        prometheus.Gauge

	ingestions *prometheus.CounterVec
	artifacts  *prometheus.CounterVec
	blobWrites prometheus.Counter
	durations  prometheus.Histogram
}

const (
	releasesTotal         = "releases_total"
	releaseVersionsTotal  = "release_versions_total"
	packagesTotal         = "packages_total"
	templatesTotal        = "jobs_total"
	compiledPackagesTotal = "compiled_packages_total"
	stemcellsTotal        = "stemcells_total"
	ingestionsTotal       = "ingestions_total"
	artifactsTotal        = "artifacts_total"
	blobWritesTotal       = "blob_writes_total"
	ingestSeconds         = "ingest_duration_seconds"
	backlogChores         = "scheduler_backlog"
)

func New(endpoint *Exporter) *Exporter {
	if endpoint == nil {
		endpoint = &Exporter{}
	}

	if endpoint.Username == "" {
		endpoint.Username = "prometheus"
	}
	if endpoint.Password == "" {
		endpoint.Password = "relstore"
	}
	if endpoint.Realm == "" {
		endpoint.Realm = "relstore Prometheus Exporter"
	}
	if endpoint.Namespace == "" {
		endpoint.Namespace = "relstore"
	}

	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: endpoint.Namespace,
			Name:      name,
			Help:      help,
		})
	}

	endpoint.releasesGauge = gauge(releasesTotal, "How many releases are in the catalog")
	endpoint.releaseVersionsGauge = gauge(releaseVersionsTotal, "How many release versions have been committed")
	endpoint.packagesGauge = gauge(packagesTotal, "How many package rows are in the catalog")
	endpoint.templatesGauge = gauge(templatesTotal, "How many job rows are in the catalog")
	endpoint.compiledPackagesGauge = gauge(compiledPackagesTotal, "How many compiled packages are in the catalog")
	endpoint.stemcellsGauge = gauge(stemcellsTotal, "How many stemcells have been registered")

	endpoint.ingestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: endpoint.Namespace,
			Name:      ingestionsTotal,
			Help:      "How many release ingestions have started, completed or failed",
		}, []string{"state"})

	endpoint.artifacts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: endpoint.Namespace,
			Name:      artifactsTotal,
			Help:      "How many artifacts ingestion has created or reused, by kind",
		}, []string{"kind", "outcome"})

	endpoint.blobWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: endpoint.Namespace,
			Name:      blobWritesTotal,
			Help:      "How many blobs ingestion has written to the blobstore",
		})

	endpoint.durations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: endpoint.Namespace,
			Name:      ingestSeconds,
			Help:      "How long successful ingestions took, in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		})

	endpoint.registry = prometheus.NewRegistry()
	endpoint.registry.MustRegister(
		endpoint.releasesGauge,
		endpoint.releaseVersionsGauge,
		endpoint.packagesGauge,
		endpoint.templatesGauge,
		endpoint.compiledPackagesGauge,
		endpoint.stemcellsGauge,
		endpoint.ingestions,
		endpoint.artifacts,
		endpoint.blobWrites,
		endpoint.durations,
	)

	if endpoint.Backlog != nil {
		endpoint.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: endpoint.Namespace,
				Name:      backlogChores,
				Help:      "How many chores are waiting for a free worker",
			}, endpoint.Backlog))
	}

	endpoint.releasesGauge.Set(float64(endpoint.ReleaseCount))
	endpoint.releaseVersionsGauge.Set(float64(endpoint.ReleaseVersionCount))
	endpoint.packagesGauge.Set(float64(endpoint.PackageCount))
	endpoint.templatesGauge.Set(float64(endpoint.TemplateCount))
	endpoint.compiledPackagesGauge.Set(float64(endpoint.CompiledPackageCount))
	endpoint.stemcellsGauge.Set(float64(endpoint.StemcellCount))

	return endpoint
}

func (e *Exporter) Inform(mbus *bus.Bus) {
	e.bus = mbus
}

func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e *Exporter) Handler() http.Handler {
	return BasicAuthenticator{
		username: e.Username,
		password: e.Password,
		realm:    e.Realm,
		handler:  promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}),
	}
}

func (e *Exporter) createObjectCount(typ string) {
	switch typ {
	case "release":
		e.releasesGauge.Inc()
	case "release-version":
		e.releaseVersionsGauge.Inc()
	case "package":
		e.packagesGauge.Inc()
	case "template":
		e.templatesGauge.Inc()
	case "compiled-package":
		e.compiledPackagesGauge.Inc()
	case "stemcell":
		e.stemcellsGauge.Inc()
	default:
		log.Debugf("ignoring create event for object type `%s'", typ)
	}
}

func number(data map[string]interface{}, key string) float64 {
	/* bus data has been through JSON, so numbers are float64 */
	if f, ok := data[key].(float64); ok {
		return f
	}
	return 0
}

func (e *Exporter) ingestCompleted(raw interface{}) {
	e.ingestions.WithLabelValues("completed").Inc()

	data, ok := raw.(map[string]interface{})
	if !ok {
		return
	}

	for _, kind := range []string{"packages", "jobs", "compiled"} {
		counts, ok := data[kind].(map[string]interface{})
		if !ok {
			continue
		}
		e.artifacts.WithLabelValues(kind, "created").Add(number(counts, "created"))
		e.artifacts.WithLabelValues(kind, "reused").Add(number(counts, "reused"))
	}
	e.blobWrites.Add(number(data, "blob_writes"))
	e.durations.Observe(number(data, "duration") / 1e9)
}

func (e *Exporter) Watch(queues ...string) {
	ch, _, err := e.bus.Register(queues)
	if err != nil {
		log.Errorf("metrics exporter unable to register with the message bus: %s", err)
		return
	}

	for ev := range ch {
		switch ev.Event {
		case bus.CreateObjectEvent:
			e.createObjectCount(ev.Type)
		case bus.IngestStartedEvent:
			e.ingestions.WithLabelValues("started").Inc()
		case bus.IngestCompletedEvent:
			e.ingestCompleted(ev.Data)
		case bus.IngestFailedEvent:
			e.ingestions.WithLabelValues("failed").Inc()
		default:
			log.Debugf("ignoring event of type `%s'", ev.Event)
		}
	}
}
