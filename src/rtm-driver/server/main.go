package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/rtm500/driver/src/rtm-driver/config"
	"github.com/rtm500/driver/src/rtm-driver/connection"
	"github.com/rtm500/driver/src/rtm-driver/logging"
	"github.com/rtm500/driver/src/rtm-driver/rtm"
)

// build var (-ldflags)
var version string

// Version of the driver, set at build time.
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}

// Options for Start.
type Options struct {
	Config config.Config
	// File the selected port is persisted to
	ConfigPath string
	Fs         afero.Fs
}

// Start the driver server
func Start(logger *logrus.Logger, options Options) context.CancelFunc {
	cfg := options.Config
	fs := options.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	// Log Server
	logServer := logging.NewLogServer(logging.DefaultBufferSize)
	logger.AddHook(logServer)

	baseLog := logger.WithFields(logrus.Fields{
		"version": Version(),
	})

	// Get System information
	systemInfo, err := GetSystemInfo()
	if err != nil {
		baseLog.WithError(err).Warn("Could not get machine id.")
	}

	baseLog = baseLog.WithFields(logrus.Fields{
		"machineId": systemInfo.MachineId,
		"os":        systemInfo.Os,
		"arch":      systemInfo.Arch,
	})

	baseLog.Info("RTM Driver starting")

	// Setup a context
	ctx, cancel := context.WithCancel(context.Background())

	// Setup the controller handle
	rtmHandle := rtm.New(ctx, baseLog.WithField("package", "rtm"), rtm.Config{
		Options:          cfg.Options(),
		Scale:            cfg.Scale(),
		TunnelCounts:     cfg.Tunnel.Counts,
		ConnectAttempts:  cfg.Connection.ConnectAttempts,
		MeasureDirectory: cfg.Measure.Directory,
		Fs:               fs,
		Connected: func(endpoint connection.Endpoint) {
			if options.ConfigPath == "" || endpoint.Name == connection.SimulatedPort {
				return
			}
			if err := config.SetPort(fs, options.ConfigPath, endpoint); err != nil {
				baseLog.WithError(err).Warn("Could not save port selection.")
			}
		},
	})

	if cfg.Server.ConnectOnStart {
		rtmHandle.Connect(cfg.Endpoint())
	}

	// Create a logger for server
	log := baseLog.WithField("package", "server")

	// Start the monitor
	go startMonitor(ctx, baseLog.WithField("package", "monitor"), monitorInterval)

	if cfg.Server.Advertise {
		if err := Advertise(ctx, baseLog.WithField("package", "discovery"), cfg.Server.Port, systemInfo); err != nil {
			log.WithError(err).Warn("Could not advertise driver.")
		}
	}

	// Setup HTTP Server
	server := http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: NewMux(cfg.Server.Origins, systemInfo, rtmHandle, logServer),
	}

	// Start the server
	log.WithField("address", server.Addr).Info("Starting HTTP server.")

	go func() {
		serverErr := server.ListenAndServe()
		if serverErr != http.ErrServerClosed {
			log.Panic(serverErr)
		}
	}()

	// cleanup routine
	go func() {
		<-ctx.Done()

		log.Info("Server closing down.")
		server.Close()

	}()

	return cancel
}

// NewMux routes the driver endpoints: the root information document, the
// controller WebSocket at /rtm and the log at /log.
func NewMux(origins []string, systemInfo *SystemInfo, rtmHandle http.Handler, logServer http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/log", corsHeaders(origins, logServer))
	mux.Handle("/rtm", corsHeaders(origins, rtmHandle))

	// Server root
	rootMsg, _ := json.Marshal(map[string]string{
		"message":   "RTM Driver",
		"version":   Version(),
		"machineId": systemInfo.MachineId,
		"os":        systemInfo.Os,
		"arch":      systemInfo.Arch,
	})
	mux.Handle("/", corsHeaders(origins, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(rootMsg)
	})))

	return mux
}

// Middleware for CORS headers, to be applied to any route that should be accessible from browser apps.
func corsHeaders(origins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.Header["Origin"]) == 1 && contains(origins, r.Header["Origin"][0]) {
			w.Header().Set("Access-Control-Allow-Origin", r.Header["Origin"][0])
			w.Header().Set("Access-Control-Allow-Private-Network", "true")
		}

		// Announce that `Origin` header value may affect response
		w.Header().Set("Vary", "Origin")

		if r.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		} else {
			next.ServeHTTP(w, r)
		}
	})
}

func contains(slice []string, candidate string) bool {
	for _, member := range slice {
		if member == candidate {
			return true
		}
	}
	return false
}
