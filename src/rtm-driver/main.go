package main

// Start up driver as a service, or run one of the maintenance commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/rtm500/driver/src/rtm-driver/config"
	"github.com/rtm500/driver/src/rtm-driver/connection"
	"github.com/rtm500/driver/src/rtm-driver/logging"
	"github.com/rtm500/driver/src/rtm-driver/panel"
	"github.com/rtm500/driver/src/rtm-driver/recorder"
	"github.com/rtm500/driver/src/rtm-driver/rtm"
	"github.com/rtm500/driver/src/rtm-driver/server"
)

type program struct {
	logger  *logrus.Logger
	options server.Options
	close   context.CancelFunc
}

func (p *program) Start(s service.Service) error {
	p.close = server.Start(p.logger, p.options)
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.close != nil {
		p.close()
	}
	return nil
}

var svcConfig = &service.Config{
	Name:        "RTMDriver",
	DisplayName: "RTM Driver",
	Description: "Driver for the 500 EUR RTM microscope controller.",
	Arguments:   []string{"start"},
}

func main() {
	app := cli.NewApp()

	app.Name = "rtm-driver"
	app.Usage = "Serial driver for the 500 EUR RTM microscope controller"
	app.Version = server.Version()

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: config.DefaultPath(),
			Usage: "path of config.ini, created with defaults if missing",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:   "start",
			Usage:  "start the driver",
			Action: start,
		},
		{
			Name:   "install",
			Usage:  "install the driver as a system service",
			Action: controlService("install"),
		},
		{
			Name:   "uninstall",
			Usage:  "remove the system service",
			Action: controlService("uninstall"),
		},
		{
			Name:   "ports",
			Usage:  "list serial ports",
			Action: listPorts,
		},
		{
			Name:      "set-port",
			Usage:     "store the serial port to connect to",
			ArgsUsage: "<port>",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "baud", Usage: "baud rate, unchanged if 0"},
			},
			Action: setPort,
		},
		{
			Name:      "send",
			Usage:     "connect, send raw commands and print the controller's answers",
			ArgsUsage: "<command>...",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "port", Usage: "serial port, or SIMULATE; the configured port if empty"},
				cli.DurationFlag{Name: "wait", Value: 2 * time.Second, Usage: "time to print answers after the last command"},
			},
			Action: send,
		},
		{
			Name:      "panel",
			Usage:     "connect, open a panel and print its events until interrupted",
			ArgsUsage: "<Measure|Adjust|Parameter|Tunnel|Sinus>",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "port", Usage: "serial port, or SIMULATE; the configured port if empty"},
				cli.BoolFlag{Name: "simulate", Usage: "ask the firmware to simulate the measurement"},
			},
			Action: openPanel,
		},
		{
			Name:      "record",
			Usage:     "record the messages of a running driver",
			ArgsUsage: "<ws://host:port/rtm> [command]...",
			Action:    record,
		},
		{
			Name:  "discover",
			Usage: "list drivers advertised on the local network",
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "timeout", Value: 3 * time.Second},
			},
			Action: discover,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (afero.Fs, string, config.Config, error) {
	fs := afero.NewOsFs()
	path := c.GlobalString("config")
	cfg, err := config.Load(fs, path)
	return fs, path, cfg, err
}

// newLogger applies the LOG section. release closes the log file.
func newLogger(cfg config.Config, out io.Writer) (logger *logrus.Logger, release func(), err error) {
	logger = logrus.New()
	logger.SetOutput(out)

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel(level)

	release = func() {}
	if cfg.Log.File != "" {
		file, err := logging.FileOutput{Path: cfg.Log.File, MaxSizeMB: cfg.Log.MaxSizeMB}.Attach(logger)
		if err != nil {
			return nil, nil, err
		}
		release = func() { file.Close() }
	}
	return logger, release, nil
}

func start(c *cli.Context) error {
	fs, path, cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, release, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer release()

	prg := &program{
		logger: logger,
		options: server.Options{
			Config:     cfg,
			ConfigPath: path,
			Fs:         fs,
		},
	}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		return err
	}

	if !service.Interactive() {
		systemLogger, err := s.Logger(nil)
		if err != nil {
			return err
		}
		logger.AddHook(logging.NewSystemHook(systemLogger))
	}

	return s.Run()
}

func controlService(action string) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := service.New(&program{}, svcConfig)
		if err != nil {
			return err
		}
		if err := service.Control(s, action); err != nil {
			return err
		}
		fmt.Printf("Service %sed.\n", action)
		return nil
	}
}

func listPorts(c *cli.Context) error {
	ports, err := connection.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
	}
	for _, port := range ports {
		fmt.Println(port)
	}
	return nil
}

func setPort(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("expected exactly one port", 2)
	}
	fs, path, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	endpoint := connection.Endpoint{Name: c.Args().First(), BaudRate: c.Int("baud")}
	if err := config.SetPort(fs, path, endpoint); err != nil {
		return err
	}
	fmt.Printf("Port %s saved to %s.\n", endpoint.Name, path)
	return nil
}

// startHandle creates a handle printing all client messages to out. The
// handle does not follow any command context: it lives until stop is called,
// so a panel can still be closed after Ctrl-C.
func startHandle(logger *logrus.Logger, cfg config.Config, fs afero.Fs, out io.Writer) (handle *rtm.Handle, stop context.CancelFunc) {
	ctx, stop := context.WithCancel(context.Background())

	handle = rtm.New(ctx, logger.WithField("package", "rtm"), rtm.Config{
		Options:          cfg.Options(),
		Scale:            cfg.Scale(),
		TunnelCounts:     cfg.Tunnel.Counts,
		ConnectAttempts:  cfg.Connection.ConnectAttempts,
		MeasureDirectory: cfg.Measure.Directory,
		Fs:               fs,
	})

	go printMessages(ctx, handle.Subscribe(), out)
	return handle, stop
}

// connectHandle connects a new handle to the --port flag or the configured
// port. ctx only bounds the connection attempts. release disconnects and
// frees the handle.
func connectHandle(ctx context.Context, c *cli.Context) (handle *rtm.Handle, release func(), err error) {
	fs, _, cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	logger, releaseLog, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	handle, stop := startHandle(logger, cfg, fs, os.Stdout)
	release = func() {
		handle.Disconnect()
		stop()
		releaseLog()
	}

	endpoint := cfg.Endpoint()
	if port := c.String("port"); port != "" {
		endpoint.Name = port
	}
	if err := handle.ConnectAndWait(ctx, endpoint); err != nil {
		release()
		return nil, nil, err
	}
	return handle, release, nil
}

func printMessages(ctx context.Context, messages chan interface{}, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case i, ok := <-messages:
			if !ok {
				return
			}
			message, isMessage := i.(rtm.Message)
			if !isMessage || message.Status != nil {
				continue
			}
			if message.Terminal != nil {
				fmt.Fprintln(out, *message.Terminal)
				continue
			}
			if data, err := message.MarshalJSON(); err == nil {
				fmt.Fprintln(out, string(data))
			}
		}
	}
}

func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func send(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.NewExitError("expected at least one command", 2)
	}
	ctx, cancel := interruptible()
	defer cancel()

	handle, release, err := connectHandle(ctx, c)
	if err != nil {
		return err
	}
	defer release()

	for _, command := range c.Args() {
		if err := handle.Send(command); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(c.Duration("wait")):
	}
	return nil
}

func openPanel(c *cli.Context) error {
	name, err := panel.ParseName(c.Args().First())
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	ctx, cancel := interruptible()
	defer cancel()

	handle, release, err := connectHandle(ctx, c)
	if err != nil {
		return err
	}
	defer release()

	return runPanel(ctx, handle, name, c.Bool("simulate"))
}

// runPanel keeps the panel open until ctx is done, then closes it, which
// stops the device.
func runPanel(ctx context.Context, handle *rtm.Handle, name panel.Name, simulate bool) error {
	if err := handle.OpenPanel(name, simulate); err != nil {
		return err
	}
	<-ctx.Done()
	return handle.ClosePanel()
}

func record(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.NewExitError("expected the WebSocket URL to record from", 2)
	}
	u, err := recorder.ParseURL(c.Args().First())
	if err != nil {
		return err
	}
	ctx, cancel := interruptible()
	defer cancel()
	return recorder.Record(ctx, u, clockwork.NewRealClock(), os.Stdout, c.Args().Tail()...)
}

func discover(c *cli.Context) error {
	drivers, err := server.Discover(context.Background(), c.Duration("timeout"))
	if err != nil {
		return err
	}
	if len(drivers) == 0 {
		fmt.Println("No drivers found.")
	}
	for _, driver := range drivers {
		fmt.Println(driver)
	}
	return nil
}
