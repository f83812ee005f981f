package auth

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	authResultCounter *prometheus.CounterVec
	authMetricsOnce   sync.Once
)

func getOrCreateCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
		return promauto.NewCounterVec(opts, labels)
	}
	return c
}

func initAuthMetrics() {
	authMetricsOnce.Do(func() {
		authResultCounter = getOrCreateCounterVec(prometheus.CounterOpts{
			Name: "relay_auth_requests_total",
			Help: "Total token validations by result",
		}, []string{"result"})
	})
}

// RecordAuthResult increments the validation counter with result
// "success" or "failure".
func RecordAuthResult(result string) {
	initAuthMetrics()
	authResultCounter.WithLabelValues(result).Inc()
}
