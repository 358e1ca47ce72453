package utils

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

func LogArgs() {
	for i, a := range os.Args {
		fmt.Printf("[arg] [%d]=%s\n", i, a)
	}
}

func LogEnvWithPrefix(prefix string, logPrefix string) {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, prefix) {
			fmt.Printf("[%s]: %s\n", logPrefix, kv)
		}
	}
}

func LogIncnetEnv() {
	LogEnvWithPrefix(`INCNET_`, `incnet-env`)
}

func LogNICInfo() error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return err
	}
	for i, nic := range ifaces {
		addrs, err := nic.Addrs()
		if err != nil {
			return err
		}
		var as []string
		for _, a := range addrs {
			as = append(as, a.String())
		}
		fmt.Printf("[nic] [%d] %s :: %s\n", i, nic.Name, strings.Join(as, ", "))
	}
	return nil
}

func ExitErr(err error) {
	fmt.Printf("exit on error: %v\n", err)
	os.Exit(1)
}

func Measure(f func() error) (time.Duration, error) {
	t0 := time.Now()
	err := f()
	d := time.Since(t0)
	return d, err
}

func Rate(n int64, d time.Duration) float64 {
	return float64(n) / (float64(d) / float64(time.Second))
}

func ShowRate(r float64) string {
	const Ki = 1 << 10
	const Mi = 1 << 20
	const Gi = 1 << 30
	switch {
	case r > Gi:
		return fmt.Sprintf("%.2f GiB/s", r/float64(Gi))
	case r > Mi:
		return fmt.Sprintf("%.2f MiB/s", r/float64(Mi))
	case r > Ki:
		return fmt.Sprintf("%.2f KiB/s", r/float64(Ki))
	default:
		return fmt.Sprintf("%.2f B/s", r)
	}
}

func pluralize(n int, singular, plural string) string {
	if n > 1 {
		return plural
	}
	return singular
}

func Pluralize(n int, singular, plural string) string {
	return fmt.Sprintf("%d %s", n, pluralize(n, singular, plural))
}
