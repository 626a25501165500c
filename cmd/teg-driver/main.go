// Command teg-driver runs one printer driver: it owns a single serial
// connection and the PSM/FeedbackIntegrator/TaskSpooler/TimerEngine
// quartet that drive it, and exposes a CBOR-framed control channel
// over a Unix domain socket for a combinator process to spool tasks
// and receive feedback over.
//
// Usage:
//
//	teg-driver [flags]
//
// Flags:
//
//	-config string        Path to a driver YAML configuration file
//	-control string        Unix socket path the combinator dials (default none: headless)
//	-simulate               Run against an in-memory simulated serial port
//	-serial-port string     Serial device path (e.g. /dev/ttyUSB0)
//	-baud int               Baud rate override
//	-log-level string       slog level: debug, info, warn, error (default "info")
//	-protocol-log string    File path for CBOR protocol event logging (.mlog)
//
// Examples:
//
//	# Run against a real printer, combinator dials the control socket
//	teg-driver -config /etc/teg-driver/ender3.yaml -control /run/teg-driver/ender3.sock
//
//	# Exercise the driver standalone against a simulated printer
//	teg-driver -simulate -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/print-spool/teg-driver/pkg/config"
	"github.com/print-spool/teg-driver/pkg/driver"
	"github.com/print-spool/teg-driver/pkg/log"
)

// cliConfig holds the flags that layer over a loaded config.Config.
type cliConfig struct {
	ConfigFile   string
	ControlSock  string
	Simulate     bool
	SerialPortID string
	BaudRate     int
	LogLevel     string
	ProtocolLog  string
}

var cli cliConfig

func init() {
	flag.StringVar(&cli.ConfigFile, "config", "", "Path to a driver YAML configuration file")
	flag.StringVar(&cli.ControlSock, "control", "", "Unix socket path the combinator dials (default: headless)")
	flag.BoolVar(&cli.Simulate, "simulate", false, "Run against an in-memory simulated serial port")
	flag.StringVar(&cli.SerialPortID, "serial-port", "", "Serial device path (e.g. /dev/ttyUSB0)")
	flag.IntVar(&cli.BaudRate, "baud", 0, "Baud rate override")
	flag.StringVar(&cli.LogLevel, "log-level", "info", "slog level: debug, info, warn, error")
	flag.StringVar(&cli.ProtocolLog, "protocol-log", "", "File path for CBOR protocol event logging (.mlog)")
}

func main() {
	flag.Parse()
	setupLogging(cli.LogLevel)

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLogger, err := buildProtocolLogger()
	if err != nil {
		slog.Error("failed to set up protocol logger", "error", err)
		os.Exit(1)
	}
	defer closeLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if cli.ControlSock == "" {
		slog.Info("starting driver headless (no -control socket configured)", "machine", cfg.Name)
		runDriver(ctx, cfg, nil, logger)
		return
	}

	runWithControlSocket(ctx, cfg, logger)
}

// runWithControlSocket listens on a Unix socket and runs the driver
// once the combinator dials in. Only one control connection is
// accepted at a time, matching the one-driver-per-printer contract.
func runWithControlSocket(ctx context.Context, cfg config.Config, logger log.Logger) {
	_ = os.Remove(cli.ControlSock)

	ln, err := net.Listen("unix", cli.ControlSock)
	if err != nil {
		slog.Error("failed to listen on control socket", "path", cli.ControlSock, "error", err)
		os.Exit(1)
	}
	defer ln.Close()

	slog.Info("listening for combinator connection", "socket", cli.ControlSock)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("accept failed", "error", err)
		os.Exit(1)
	}
	slog.Info("combinator connected", "remote", conn.RemoteAddr())

	runDriver(ctx, cfg, conn, logger)
}

func runDriver(ctx context.Context, cfg config.Config, control net.Conn, logger log.Logger) {
	d := driver.New(cfg, control, logger)

	slog.Info("driver starting", "machine", cfg.Name, "simulate", cfg.Simulate, "serial_port", cfg.SerialPortID)
	if err := d.Run(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		slog.Error("driver exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("driver stopped")
}

func loadConfig() (config.Config, error) {
	var cfg config.Config
	var err error

	if cli.ConfigFile != "" {
		cfg, err = config.Load(cli.ConfigFile)
		if err != nil {
			return config.Config{}, err
		}
	} else {
		cfg = config.Default()
	}

	if cli.Simulate {
		cfg.Simulate = true
	}
	if cli.SerialPortID != "" {
		cfg.SerialPortID = cli.SerialPortID
	}
	if cli.BaudRate != 0 {
		cfg.BaudRate = cli.BaudRate
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// buildProtocolLogger wires console (slog) and file (CBOR) protocol
// logging together when -protocol-log is set; console-only otherwise.
func buildProtocolLogger() (log.Logger, func(), error) {
	console := log.NewSlogAdapter(slog.Default())
	if cli.ProtocolLog == "" {
		return console, func() {}, nil
	}

	fileLogger, err := log.NewFileLogger(cli.ProtocolLog)
	if err != nil {
		return nil, nil, fmt.Errorf("protocol log %s: %w", cli.ProtocolLog, err)
	}
	slog.Info("protocol logging to file", "path", cli.ProtocolLog)

	return log.NewMultiLogger(console, fileLogger), func() {
		if err := fileLogger.Close(); err != nil {
			slog.Warn("failed to close protocol log", "error", err)
		}
	}, nil
}

func setupLogging(level string) {
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

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
