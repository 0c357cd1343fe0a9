package obs

import (
	"runtime"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	GoVersion string
}

var buildInfoGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "chatarra_build_info",
		Help: "Build metadata of the running auth API; the value is always 1.",
	},
	[]string{"version", "commit", "goversion"},
)

// ReadBuildInfo fills missing fields from the module build information
// embedded by the Go toolchain.
func ReadBuildInfo(version, commit string) BuildInfo {
	bi := BuildInfo{Version: version, Commit: commit, GoVersion: runtime.Version()}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && (bi.Commit == "" || bi.Commit == "dev") {
				bi.Commit = s.Value
			}
		}
		if bi.Version == "" && info.Main.Version != "" {
			bi.Version = info.Main.Version
		}
	}
	return bi
}

// InitBuildInfo publishes bi as chatarra_build_info. Registration happens in Init.
func InitBuildInfo(bi BuildInfo) {
	buildInfoGauge.Reset()
	buildInfoGauge.WithLabelValues(bi.Version, bi.Commit, bi.GoVersion).Set(1)
}
