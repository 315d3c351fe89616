package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/libp2p/zeroconf/v2"
	"github.com/sirupsen/logrus"
)

// ServiceType under which drivers announce their WebSocket endpoint.
const ServiceType = "_rtm-driver._tcp"

// Driver is a driver instance found on the local network.
type Driver struct {
	Instance  string
	Address   string
	Port      int
	Version   string
	MachineId string
}

func (d Driver) String() string {
	return fmt.Sprintf("%s ws://%s:%d/rtm (version %s)", d.Instance, d.Address, d.Port, d.Version)
}

// Advertise announces the driver via mDNS until ctx is done.
func Advertise(ctx context.Context, log *logrus.Entry, port int, systemInfo *SystemInfo) error {
	server, err := zeroconf.Register("RTM Driver", ServiceType, "local.", port, txtRecords(systemInfo), nil)
	if err != nil {
		return err
	}
	log.WithField("type", ServiceType).WithField("port", port).Info("Advertising driver.")

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
	return nil
}

func txtRecords(systemInfo *SystemInfo) []string {
	return []string{
		"version=" + Version(),
		"machineId=" + systemInfo.MachineId,
		"os=" + systemInfo.Os,
	}
}

// Discover lists drivers announcing themselves within timeout.
func Discover(ctx context.Context, timeout time.Duration) ([]Driver, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Zeroconf closes the channel on context cancellation
	entries := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- zeroconf.Browse(ctx, ServiceType, "local.", entries)
	}()

	var drivers []Driver
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return drivers, nil
			}
			if entry != nil && len(entry.AddrIPv4) > 0 {
				drivers = append(drivers, driverFromEntry(entry))
			}
		case err := <-browseErr:
			// Browse does not close entries when it fails to start
			if ctx.Err() != nil {
				return drivers, nil
			}
			if err != nil {
				return drivers, err
			}
			browseErr = nil
		}
	}
}

func driverFromEntry(entry *zeroconf.ServiceEntry) Driver {
	driver := Driver{
		Instance: entry.Instance,
		Address:  entry.AddrIPv4[0].String(),
		Port:     entry.Port,
	}
	for _, field := range entry.Text {
		if strings.HasPrefix(field, "version=") {
			driver.Version = strings.TrimPrefix(field, "version=")
		} else if strings.HasPrefix(field, "machineId=") {
			driver.MachineId = strings.TrimPrefix(field, "machineId=")
		}
	}
	return driver
}
