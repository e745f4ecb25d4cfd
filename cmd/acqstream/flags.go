package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/c360/acqstream/config"
)

// options are the command-line flags. Everything else comes from the
// config layers and ACQSTREAM_* variables; flags win over both.
type options struct {
	ConfigFiles     []string      `short:"c" long:"config" env:"ACQSTREAM_CONFIG" env-delim:"," description:"Configuration layer, JSON or YAML; repeat to stack layers"`
	EnvFile         string        `long:"env-file" description:"Additional .env file loaded before configuration"`
	Host            string        `short:"H" long:"host" description:"Acquisition server host; disables discovery"`
	ControlPort     int           `short:"p" long:"control-port" description:"Acquisition server control port"`
	Channels        []string      `short:"C" long:"channel" description:"Channel to activate (class:index); repeatable"`
	BatchSize       int           `short:"b" long:"batch-size" description:"Samples per drained batch"`
	Listen          string        `short:"l" long:"listen" description:"HTTP gateway listen address"`
	LogLevel        string        `long:"log-level" description:"Log level: debug, info, warn, error"`
	LogFormat       string        `long:"log-format" description:"Log format: json, text"`
	LogFile         string        `long:"log-file" description:"Also write logs to this file, rotated"`
	ShutdownTimeout time.Duration `long:"shutdown-timeout" env:"ACQSTREAM_SHUTDOWN_TIMEOUT" default:"15s" description:"Graceful shutdown budget"`
	Validate        bool          `long:"validate" description:"Validate the configuration, print it and exit"`
	ShowVersion     bool          `short:"V" long:"version" description:"Display version information and exit"`
}

// errHelp signals that usage was printed and the process should exit cleanly.
var errHelp = stderrors.New("help requested")

// loadDotEnv reads .env from the working directory when present, then the
// named file. Variables already set in the environment are kept.
func loadDotEnv(extra string) error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	if extra != "" {
		if err := godotenv.Load(extra); err != nil {
			return fmt.Errorf("load %s: %w", extra, err)
		}
	}
	return nil
}

// envFileArg finds --env-file before the full parse so the file can feed
// env-tagged flags.
func envFileArg(args []string) string {
	for i, a := range args {
		if v, ok := strings.CutPrefix(a, "--env-file="); ok {
			return v
		}
		if a == "--env-file" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func parseFlags(args []string) (*options, error) {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS]\n\nStreams samples from a physiological acquisition server to NATS and WebSocket clients."

	if _, err := parser.ParseArgs(args); err != nil {
		var ferr *flags.Error
		if stderrors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return nil, errHelp
		}
		return nil, err
	}
	return &opts, nil
}

// loadConfig stacks the layers and applies flag overrides. Validation runs
// after the overrides so flags can repair a layer.
func loadConfig(opts *options) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(false)
	for _, path := range opts.ConfigFiles {
		loader.AddLayer(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, opts)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, opts *options) {
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
		cfg.Server.Discover = false
	}
	if opts.ControlPort != 0 {
		cfg.Server.ControlPort = opts.ControlPort
	}
	if len(opts.Channels) > 0 {
		cfg.Session.Channels = append([]string(nil), opts.Channels...)
	}
	if opts.BatchSize != 0 {
		cfg.Session.BatchSize = opts.BatchSize
	}
	if opts.Listen != "" {
		cfg.HTTP.ListenAddr = opts.Listen
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}
	if opts.LogFile != "" {
		cfg.Log.File = opts.LogFile
	}
}
