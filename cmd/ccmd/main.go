// Command ccmd runs the consensus cluster membership daemon for one node.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/dd0wney/cluso-ccm/pkg/audit"
	"github.com/dd0wney/cluso-ccm/pkg/auth"
	"github.com/dd0wney/cluso-ccm/pkg/ccm"
	"github.com/dd0wney/cluso-ccm/pkg/clusterfile"
	"github.com/dd0wney/cluso-ccm/pkg/health"
	"github.com/dd0wney/cluso-ccm/pkg/logging"
	"github.com/dd0wney/cluso-ccm/pkg/metrics"
	"github.com/dd0wney/cluso-ccm/pkg/pubsub"
	"github.com/dd0wney/cluso-ccm/pkg/server"
	tlspkg "github.com/dd0wney/cluso-ccm/pkg/tls"
	"github.com/dd0wney/cluso-ccm/pkg/transport"
)

const (
	shutdownTimeout = 10 * time.Second
	metricsInterval = 10 * time.Second
	auditBufferSize = 1024
)

// options are the resolved command line settings.
type options struct {
	configPath string
	node       string
	adminAddr  string
	transport  string
	logLevel   string
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("ccmd", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.configPath, "config", "cluster.yaml", "Cluster file")
	fs.StringVar(&o.node, "node", os.Getenv("CCM_NODE"), "Local node name (or set CCM_NODE)")
	fs.StringVar(&o.adminAddr, "admin", "", "Admin HTTP address, overrides admin.addr")
	fs.StringVar(&o.transport, "transport", "", "Bus transport (mangos or zmq), overrides the file")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level, overrides log_level")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.node == "" {
		return o, errors.New("-node is required")
	}
	return o, nil
}

// resolve loads the cluster file and applies flag overrides.
func resolve(o options) (*clusterfile.File, error) {
	f, err := clusterfile.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.transport != "" {
		f.Transport = o.transport
	}
	if o.logLevel != "" {
		f.LogLevel = o.logLevel
	}
	if o.adminAddr != "" {
		f.Admin.Addr = o.adminAddr
	}
	if f.Admin.Addr == "" {
		if n, err := f.Node(o.node); err == nil && n.Admin != "" {
			f.Admin.Addr = n.Admin
		}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if _, err := f.Node(o.node); err != nil {
		return nil, err
	}
	return f, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "ccmd: %v\n", err)
		os.Exit(2)
	}

	f, err := resolve(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ccmd: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(f.LogLevel))
	if err := run(context.Background(), o, f, logger); err != nil {
		logger.Error("ccmd exited", logging.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, f *clusterfile.File, logger *logging.JSONLogger) error {
	started := time.Now()
	log := logger.With(logging.Component("ccmd"), logging.Node(o.node))
	reg := metrics.NewRegistry()

	factory, err := transport.FactoryByName(f.Transport)
	if err != nil {
		return err
	}
	busCfg, err := f.BusConfig(o.node)
	if err != nil {
		return err
	}
	busCfg.Factory = factory
	busCfg.Logger = logger
	busCfg.Metrics = reg
	bus, err := transport.NewSocketBus(busCfg)
	if err != nil {
		return err
	}
	if err := bus.Start(); err != nil {
		return fmt.Errorf("start %s bus: %w", f.Transport, err)
	}
	defer bus.Close()

	engineCfg, err := f.EngineConfig(o.node)
	if err != nil {
		return err
	}
	events := pubsub.NewPubSub()
	defer events.Shutdown()
	engine, err := ccm.NewEngine(engineCfg, bus,
		ccm.WithLogger(logger),
		ccm.WithMetrics(reg),
		ccm.WithPublisher(events))
	if err != nil {
		return err
	}

	var tokens auth.TokenValidator
	if f.Admin.JWTSecret != "" {
		jwt, err := auth.NewJWTManager(f.Admin.JWTSecret, f.Cluster.Name, time.Hour)
		if err != nil {
			return err
		}
		tokens = jwt
	} else {
		log.Warn("admin auth disabled, no jwt_secret configured")
	}

	trail := audit.NewAuditLogger(o.node, auditBufferSize)
	engine.Subscribe(func(r ccm.Report) {
		ev := audit.NewEvent("", audit.ActionMembership, strconv.FormatUint(uint64(r.Transition), 10))
		ev.Metadata = map[string]any{"leader": r.Leader, "cookie": r.Cookie, "members": r.MemberNames()}
		_ = trail.Log(ev)
	})

	hc := health.NewHealthChecker()
	server.RegisterEngineChecks(hc, engine)
	hc.RegisterLivenessCheck("memory", health.MemoryCheck(memUsage))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var admin *server.GracefulServer
	adminErr := make(chan error, 1)
	if f.Admin.Addr != "" {
		handler := server.NewAdminHandler(server.AdminConfig{
			Engine:  engine,
			Health:  hc,
			Metrics: reg,
			Events:  events,
			Tokens:  tokens,
			Audit:   trail,
			Logger:  logger,
		})
		admin = server.NewGracefulServer(f.Admin.Addr, handler, logger)
		var certs *tlspkg.CertReloader
		if f.Admin.TLS().Enabled() {
			tc, reloader, err := tlspkg.ServerConfig(f.Admin.TLS())
			if err != nil {
				return fmt.Errorf("admin tls: %w", err)
			}
			admin.SetTLSConfig(tc)
			certs = reloader
		}
		admin.SetConfigReloadFunc(func() error {
			nf, err := clusterfile.Load(o.configPath)
			if err != nil {
				return err
			}
			level := nf.LogLevel
			if o.logLevel != "" {
				level = o.logLevel
			}
			logger.SetLevel(logging.ParseLevel(level))
			if certs != nil {
				return certs.Reload()
			}
			return nil
		})
		if err := admin.Listen(); err != nil {
			return fmt.Errorf("admin listen: %w", err)
		}
		go func() { adminErr <- admin.Start() }()
		go admin.WatchSignals(ctx, cancel)
	} else {
		go watchSignals(ctx, cancel)
	}

	go func() {
		ticker := time.NewTicker(metricsInterval)
		defer ticker.Stop()
		for {
			reg.UpdateSystemMetrics(started)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	log.Info("ccmd started",
		logging.String("transport", f.Transport),
		logging.String("cluster", f.Cluster.Name),
		logging.String("admin", f.Admin.Addr),
		logging.Int("roster", len(f.Nodes)))

	engineErr := make(chan error, 1)
	go func() { engineErr <- engine.Run(ctx) }()

	select {
	case err = <-engineErr:
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	case err = <-adminErr:
		if err != nil {
			err = fmt.Errorf("admin server: %w", err)
		}
		cancel()
		<-engineErr
	}
	cancel()

	if admin != nil {
		if shutdownErr := admin.Shutdown(shutdownTimeout); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}
	log.Info("ccmd stopped", logging.Duration("uptime", time.Since(started)))
	return err
}

func memUsage() (alloc, sys uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc, m.Sys
}
