// Command cluso-cluster runs one database cluster middleware instance.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-dbcluster/pkg/admin"
	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/backend/pgxconn"
	"github.com/dd0wney/cluso-dbcluster/pkg/backend/sqlconn"
	"github.com/dd0wney/cluso-dbcluster/pkg/cluster"
	"github.com/dd0wney/cluso-dbcluster/pkg/config"
	"github.com/dd0wney/cluso-dbcluster/pkg/group"
	"github.com/dd0wney/cluso-dbcluster/pkg/health"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/metrics"
	clustertls "github.com/dd0wney/cluso-dbcluster/pkg/tls"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "cluster.yaml", "Cluster configuration file")
	addr := flag.String("metrics-addr", ":9090", "Address serving the admin api, /metrics and /health")
	issue := flag.String("issue-token", "", "Print an admin token for subject:role and exit")
	flag.Parse()

	logger := logging.DefaultLogger().With(logging.Component("cluso-cluster"))

	if *issue != "" {
		if err := issueToken(*configPath, *issue); err != nil {
			logger.Error("failed to issue token", logging.Error(err))
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *addr, logger); err != nil {
		logger.Error("cluster middleware failed", logging.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, addr string, logger logging.Logger) error {
	file, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if file.LogLevel != "" {
		logger.SetLevel(logging.ParseLevel(file.LogLevel))
	}
	logger = logger.With(logging.ClusterID(file.ClusterID))
	registry := metrics.DefaultRegistry()

	tlsConfig, err := clustertls.LoadTLSConfig(file.TLS)
	if err != nil {
		return err
	}

	var network group.Network
	if file.Group != nil {
		mn, err := group.NewMangosNetwork(file.GroupConfig(tlsConfig, logger, registry))
		if err != nil {
			return fmt.Errorf("failed to create group network: %w", err)
		}
		defer mn.Close()
		if err := mn.Start(); err != nil {
			return fmt.Errorf("failed to start group network: %w", err)
		}
		network = mn
		logger.Info("joined group", logging.InstanceID(mn.LocalID()))
	}

	coord, err := file.BuildCoordination(network, logger, registry)
	if err != nil {
		return err
	}

	connector := newConnector(logger)
	defer connector.Close()

	cfg, err := file.ClusterConfig(connector, coord, logger, registry)
	if err != nil {
		return err
	}
	c, err := cluster.New(cfg)
	if err != nil {
		return err
	}
	defer c.Stop()

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cluster: %w", err)
	}

	authn, err := file.Authenticator()
	if err != nil {
		return err
	}
	if authn == nil {
		logger.Warn("admin api is unauthenticated; set admin.jwt_secret to require tokens")
	}

	trail, err := file.AuditTrail()
	if err != nil {
		return err
	}
	defer trail.Close()

	hc := health.NewHealthChecker(cfg.ProbeTimeout)
	health.Register(hc, c)

	router, err := admin.NewRouter(c, hc, registry, authn, trail, logger)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         tlsConfig,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("serving http", logging.String("addr", addr), logging.Bool("tls", tlsConfig != nil))
		if tlsConfig != nil {
			serveErr <- srv.ListenAndServeTLS("", "")
			return
		}
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// issueToken prints a signed admin token. grant is subject:role.
func issueToken(configPath, grant string) error {
	file, err := config.Load(configPath)
	if err != nil {
		return err
	}
	authn, err := file.Authenticator()
	if err != nil {
		return err
	}
	if authn == nil {
		return errors.New("admin.jwt_secret is not configured")
	}
	subject, role, ok := strings.Cut(grant, ":")
	if !ok {
		return fmt.Errorf("expected subject:role, got %q", grant)
	}
	token, err := authn.GenerateToken(subject, role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// newConnector routes pgx members to pgxpool and mysql members to
// database/sql.
func newConnector(logger logging.Logger) backend.Multi {
	pg := pgxconn.DefaultConfig()
	pg.Logger = logger

	my := sqlconn.MySQLConfig()
	my.Logger = logger

	return backend.Multi{
		pgxconn.DriverName: pgxconn.NewConnector(pg),
		my.DriverName:      sqlconn.NewConnector(my),
	}
}
