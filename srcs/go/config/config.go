package config

import (
	"os"
	"strings"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/utils"
)

const (
	DialRetryCount  = 500
	DialRetryPeriod = 200 * time.Millisecond
)

const (
	EnableMonitoringEnvKey = `INCNET_CONFIG_ENABLE_MONITORING`
	LogLevelEnvKey         = `INCNET_CONFIG_LOG_LEVEL`
	MonitoringPeriodEnvKey = `INCNET_CONFIG_MONITORING_PERIOD`
)

var ConfigEnvKeys = []string{
	EnableMonitoringEnvKey,
	LogLevelEnvKey,
	MonitoringPeriodEnvKey,
}

var (
	EnableMonitoring = false
	LogLevel         = `INFO`
	MonitoringPeriod = 1 * time.Second
)

func init() {
	if val := os.Getenv(EnableMonitoringEnvKey); len(val) > 0 {
		EnableMonitoring = isTrue(val)
	}
	if val := os.Getenv(MonitoringPeriodEnvKey); len(val) > 0 {
		MonitoringPeriod = parseDuration(val)
	}
	if val := os.Getenv(LogLevelEnvKey); len(val) > 0 {
		LogLevel = strings.ToUpper(val)
	}
}

func isTrue(val string) bool {
	return val == "true"
}

func parseDuration(val string) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		utils.ExitErr(err)
	}
	return d
}
