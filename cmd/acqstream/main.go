// Command acqstream connects to a physiological acquisition server, streams
// the configured channels and republishes drained sample batches to NATS and
// WebSocket clients. An HTTP gateway exposes channel control, health and
// metrics.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360/acqstream/config"
	"github.com/c360/acqstream/control"
	"github.com/c360/acqstream/discovery"
	"github.com/c360/acqstream/errors"
	gatewayhttp "github.com/c360/acqstream/gateway/http"
	"github.com/c360/acqstream/health"
	"github.com/c360/acqstream/metric"
	"github.com/c360/acqstream/natsclient"
	"github.com/c360/acqstream/output"
	"github.com/c360/acqstream/output/natspub"
	"github.com/c360/acqstream/output/websocket"
	"github.com/c360/acqstream/service"
	"github.com/c360/acqstream/session"
)

// Build information, overridden with -ldflags at release time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "acqstream"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		if stderrors.Is(err, errHelp) {
			return
		}
		slog.Error("acqstream failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	if err := loadDotEnv(envFileArg(args)); err != nil {
		return err
	}

	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.ShowVersion {
		fmt.Printf("%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.Validate {
		fmt.Println(cfg.String())
		return nil
	}

	out, closeLog, err := logOutput(cfg.Log.File)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format, out)
	slog.SetDefault(logger)
	logger.Info("starting acqstream", "build_time", BuildTime, "config", opts.ConfigFiles)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return d.run(ctx, opts.ShutdownTimeout)
}

// daemon is the wired process.
type daemon struct {
	logger  *slog.Logger
	client  *control.XMLRPCClient
	nats    *natsclient.Client
	acq     *service.Acquisition
	gateway *gatewayhttp.Gateway
	monitor *health.Monitor
	mgr     *service.Manager
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()
	d := &daemon{logger: logger, monitor: health.NewMonitor(metrics)}
	d.mgr = service.NewManager(logger.With("component", "service-manager"), d.monitor)

	addr, err := resolveServer(ctx, cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	logger.Info("using acquisition server", "address", addr.String())

	d.client = control.NewXMLRPCClient(addr,
		control.WithTimeout(cfg.Server.RPCTimeout),
		control.WithLogger(logger.With("component", "control")),
		control.WithMetrics(metrics),
	)

	pool, err := session.NewPortPool(cfg.Session.PortMin, cfg.Session.PortMax)
	if err != nil {
		return nil, err
	}
	sess, err := session.New(cfg.SessionTuning(), session.Deps{
		Client:   d.client,
		Pool:     pool,
		Logger:   logger.With("component", "session"),
		Registry: registry,
	})
	if err != nil {
		return nil, err
	}

	var sinks []output.Sink
	if cfg.NATS.Enabled {
		sink, err := d.connectNATS(ctx, cfg, logger, metrics)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	var broadcaster *websocket.Broadcaster
	if cfg.WebSocket.Enabled {
		broadcaster, err = websocket.New(cfg.Broadcaster(), logger.With("component", "websocket"), registry)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, broadcaster)
	}

	d.acq, err = service.NewAcquisition(cfg.Acquisition(), service.AcquisitionDeps{
		Client:   d.client,
		Session:  sess,
		Sinks:    sinks,
		Logger:   logger.With("component", "acquisition"),
		Registry: registry,
	})
	if err != nil {
		return nil, err
	}
	if err := d.mgr.Add("acquisition", d.acq); err != nil {
		return nil, err
	}

	gwDeps := gatewayhttp.Deps{
		Session:  sess,
		Server:   d.client,
		Monitor:  d.monitor,
		Registry: registry,
		Logger:   logger.With("component", "gateway"),
	}
	if broadcaster != nil {
		gwDeps.WebSocket = broadcaster
	}
	d.gateway, err = gatewayhttp.New(cfg.Gateway(), gwDeps)
	if err != nil {
		return nil, err
	}
	if err := d.mgr.Add("http", d.gateway); err != nil {
		return nil, err
	}
	return d, nil
}

// resolveServer returns the configured server, or runs discovery and picks
// the preferred reply.
func resolveServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *metric.Metrics) (control.ServerAddress, error) {
	if cfg.Server.Host != "" {
		return control.ServerAddress{Host: cfg.Server.Host, ControlPort: cfg.Server.ControlPort}, nil
	}

	disc := discovery.New(cfg.Discovery, logger.With("component", "discovery"), metrics)
	servers, err := disc.Discover(ctx, cfg.Server.DiscoveryTimeout)
	if err != nil {
		return control.ServerAddress{}, err
	}
	addr, ok := discovery.SelectDefault(servers)
	if !ok {
		return control.ServerAddress{}, errors.WrapTransient(errors.ErrDiscovery, "main", "resolveServer",
			"no acquisition server answered")
	}
	if len(servers) > 1 {
		logger.Info("several acquisition servers answered", "count", len(servers), "selected", addr.String())
	}
	return addr, nil
}

func (d *daemon) connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *metric.Metrics) (*natspub.Sink, error) {
	n := cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithName(n.Name),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithReconnectWait(n.ReconnectWait),
		natsclient.WithLogger(logger.With("component", "natsclient")),
		natsclient.WithMetrics(metrics),
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}

	client, err := natsclient.NewClient(strings.Join(n.URLs, ","), opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	d.nats = client
	d.monitor.Register("nats", client)

	sink, err := natspub.New(cfg.Publisher(), client, logger.With("component", "natspub"), metrics)
	if err != nil {
		return nil, err
	}
	if err := sink.Start(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

// run starts the services and blocks until ctx is cancelled. The gateway
// is added last, so it stops first and no request races the session
// teardown.
func (d *daemon) run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := d.mgr.StartAll(ctx, shutdownTimeout); err != nil {
		d.closeTransport(shutdownTimeout)
		return err
	}
	d.logger.Info("acqstream started", "http", d.gateway.Addr())

	<-ctx.Done()
	d.logger.Info("received shutdown signal")

	err := d.mgr.StopAll(shutdownTimeout)
	d.closeTransport(shutdownTimeout)
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	d.logger.Info("acqstream shutdown complete")
	return nil
}

func (d *daemon) closeTransport(timeout time.Duration) {
	if d.nats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := d.nats.Close(ctx); err != nil {
			d.logger.Warn("closing NATS", "error", err)
		}
		cancel()
	}
	if err := d.client.Close(); err != nil {
		d.logger.Warn("closing control client", "error", err)
	}
}
