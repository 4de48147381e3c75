package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Attendance punch engine build information.",
		},
		[]string{"version", "component"},
	)
)

// InitBuildInfo sets build_info{version, component} to 1.
func InitBuildInfo(version, component string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, component).Set(1)
}
