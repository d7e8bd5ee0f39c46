// Command corelink-device is a reference corelink peripheral device.
//
// It runs a device session against an in-process demo core, so the
// whole session lifecycle can be explored without infrastructure:
// handshake, reconnect handling, auto-subscription replay, the idle
// keep-alive and the liveness watchdog.
//
// Usage:
//
//	corelink-device [flags]
//
// Flags:
//
//	-config string     YAML session configuration file
//	-device-id string  Device id (default "DEV-1")
//	-token string      Device token (default "secret")
//	-type string       Device type (default "sensor")
//	-name string       Human-readable device name
//	-watchdog          Enable the liveness watchdog
//	-log-level string  Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Start with defaults and poke around interactively
//	corelink-device
//
//	# Start from a config file with the watchdog enabled
//	corelink-device -config device.yaml -watchdog -log-level debug
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/corelink-protocol/corelink-go/cmd/corelink-device/interactive"
	"github.com/corelink-protocol/corelink-go/internal/coretest"
	"github.com/corelink-protocol/corelink-go/pkg/connector"
	"github.com/corelink-protocol/corelink-go/pkg/session"
	"github.com/corelink-protocol/corelink-go/pkg/trace"
	"github.com/corelink-protocol/corelink-go/pkg/watchdog"
)

type cliConfig struct {
	ConfigFile string
	DeviceID   string
	Token      string
	Type       string
	Name       string
	Watchdog   bool
	LogLevel   string
}

var config cliConfig

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "YAML session configuration file")
	flag.StringVar(&config.DeviceID, "device-id", "DEV-1", "Device id")
	flag.StringVar(&config.Token, "token", "secret", "Device token")
	flag.StringVar(&config.Type, "type", "sensor", "Device type")
	flag.StringVar(&config.Name, "name", "Reference Device", "Human-readable device name")
	flag.BoolVar(&config.Watchdog, "watchdog", false, "Enable the liveness watchdog")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	logger := newLogger(config.LogLevel)

	opts, err := buildOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	opts.Logger = logger
	opts.Tracer = trace.NewSlogAdapter(logger)

	core := coretest.NewCore()
	core.RequireToken(opts.Identity.DeviceID, opts.Identity.Token)

	var conn *coretest.Conn
	opts.NewConnector = func() (connector.Connector, error) {
		conn = coretest.NewConn(core)
		return conn, nil
	}

	sess, err := session.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Creating session: %v\n", err)
		os.Exit(1)
	}

	// Route the demo core's echo channel back into the session, the
	// way a hosting process routes the core's server-initiated
	// commands.
	core.OnEcho(sess.SetPingResponse)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deviceID, err := sess.Init(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Initializing session: %v\n", err)
		os.Exit(1)
	}
	logger.Info("session initialized", "deviceID", deviceID)

	if wd := sess.Watchdog(); wd != nil {
		wd.OnUnhealthy(func(sig watchdog.Signal) {
			logger.Error("watchdog declared the session unhealthy", "checks", sig.Checks)
			os.Exit(1)
		})
	}

	ui, err := interactive.New(sess, func() *coretest.Conn { return conn }, core)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Starting interactive mode: %v\n", err)
		os.Exit(1)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	ui.Run(ctx, cancel)

	sess.Destroy()
	logger.Info("goodbye")
}

func buildOptions() (session.Options, error) {
	if config.ConfigFile != "" {
		return session.LoadOptions(config.ConfigFile)
	}

	opts := session.Options{
		Identity: session.DeviceIdentity{
			DeviceID: config.DeviceID,
			Token:    config.Token,
		},
		Descriptor: session.DeviceDescriptor{
			Type: config.Type,
			Name: config.Name,
		},
		EnableWatchdog: config.Watchdog,
	}
	if err := opts.Validate(); err != nil {
		return session.Options{}, err
	}
	return opts, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
