// Package monitoring wires the Prometheus scrape endpoint into the API
// router. The pipeline metrics themselves live in internal/metrics and
// register against the default registry on import.
package monitoring

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupPrometheusMetrics registers build info and exposes /metrics on the
// given router using the default Prometheus registry.
func SetupPrometheusMetrics(router gin.IRoutes) {
	// Ignore the error so repeated setup (tests, reload) stays harmless.
	_ = prometheus.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sentinel_core_build_info",
		Help: "Build information for sentinel-core",
		ConstLabels: prometheus.Labels{
			"version":   "v0.3.1",
			"component": "sentinel-core",
		},
	}, func() float64 { return 1 }))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
