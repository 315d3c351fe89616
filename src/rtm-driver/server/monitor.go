package server

import (
	"context"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

const monitorInterval = 30 * time.Second

func startMonitor(ctx context.Context, log *logrus.Entry, interval time.Duration) {
	var m runtime.MemStats

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runtime.ReadMemStats(&m)
			log.WithField("heapAlloc", m.HeapAlloc).WithField("routines", runtime.NumGoroutine()).Info("Monitoring runtime.")
		}
	}
}
