package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests     *prometheus.CounterVec
	tableRows    prometheus.Gauge
	reloads      prometheus.Counter
	reloadErrors prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apartment_finder",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		tableRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apartment_finder",
			Name:      "table_rows",
			Help:      "Rows in the currently loaded cleaned table.",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apartment_finder",
			Name:      "table_reloads_total",
			Help:      "Successful reloads of the cleaned table.",
		}),
		reloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apartment_finder",
			Name:      "table_reload_errors_total",
			Help:      "Failed reloads of the cleaned table.",
		}),
	}
	reg.MustRegister(m.requests, m.tableRows, m.reloads, m.reloadErrors)
	return m
}
