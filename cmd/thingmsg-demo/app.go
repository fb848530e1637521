package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bjaus/thingmsg"
	"github.com/bjaus/thingmsg/internal/config"
	"github.com/bjaus/thingmsg/internal/observability"
	"github.com/bjaus/thingmsg/promhooks"
	"github.com/bjaus/thingmsg/transport/mem"
	"github.com/bjaus/thingmsg/transport/natsbus"
)

const (
	exitOK      = 0
	exitSetup   = 1
	exitTimeout = 2
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return exitSetup
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return exitSetup
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("thingmsg-demo started", zap.String("transport", cfg.Transport))
	logger.Debug("effective configuration", zap.Any("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics, err := promhooks.New(reg, cfg.Metrics.Namespace)
	if err != nil {
		logger.Error("failed to register metrics", zap.Error(err))
		return exitSetup
	}
	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	first, second, err := openTransports(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to open transport", zap.Error(err))
		return exitSetup
	}

	done := thingmsg.NewCoordinator(cfg.CompletionMode())
	routerOpts := append([]thingmsg.Option{
		thingmsg.WithMaxConcurrency(cfg.Dispatch.MaxConcurrency),
		thingmsg.WithCompletion(done),
	}, metrics.Options()...)

	receiver := thingmsg.NewClient(first,
		thingmsg.WithClientLogger(logger.Named("client")),
		thingmsg.WithRouterOptions(routerOpts...))
	sender := thingmsg.NewClient(second,
		thingmsg.WithClientLogger(logger.Named("client2")))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, c := range []*thingmsg.Client{sender, receiver} {
			if err := c.Close(closeCtx); err != nil {
				logger.Warn("close client", zap.Error(err))
			}
		}
	}()

	d := newDemo(cfg.Demo.Namespace, receiver, sender, logger)
	if err := d.register(); err != nil {
		logger.Error("failed to register handlers", zap.Error(err))
		return exitSetup
	}
	for _, c := range []*thingmsg.Client{receiver, sender} {
		if err := c.StartConsumption(ctx); err != nil {
			logger.Error("failed to start consumption", zap.Error(err))
			return exitSetup
		}
	}

	if err := d.send(ctx); err != nil {
		logger.Error("failed to send messages", zap.Error(err))
		return exitSetup
	}

	out := done.Await(ctx, cfg.Demo.Expected, cfg.Demo.AwaitTimeout)
	logger.Info("all messages received",
		zap.Bool("received", out.Delivered()),
		zap.Int("count", out.Count),
		zap.Int("expected", out.Threshold),
		zap.Stringer("mode", done.Mode()))
	if out.TimedOut {
		return exitTimeout
	}
	return exitOK
}

// openTransports returns the receiving and the sending side.
func openTransports(cfg *config.Config, logger *zap.Logger, metrics *promhooks.Metrics) (thingmsg.Transport, thingmsg.Transport, error) {
	if cfg.Transport == "mem" {
		hub := mem.NewHub(mem.WithLogger(logger.Named("mem")))
		return hub.Connect("client"), hub.Connect("client2"), nil
	}

	dial := func(name string) (*natsbus.Bus, error) {
		return natsbus.Connect(cfg.NATS.URL,
			[]nats.Option{nats.Name(name), nats.Timeout(cfg.NATS.ConnectTimeout)},
			natsbus.WithSubject(cfg.NATS.Subject),
			natsbus.WithLogger(logger.Named("nats").With(zap.String("conn", name))),
			natsbus.WithOnInvalidEnvelope(metrics.ObserveInvalidEnvelope))
	}
	first, err := dial(cfg.NATS.Name + "-1")
	if err != nil {
		return nil, nil, err
	}
	second, err := dial(cfg.NATS.Name + "-2")
	if err != nil {
		_ = first.Close(context.Background())
		return nil, nil, err
	}
	return first, second, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}
