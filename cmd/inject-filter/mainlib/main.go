// Package mainlib implements the inject-filter binary: a gRPC health
// service and Prometheus metrics endpoint fronting the hot-reloadable
// filter Config, grounded on cmd/extproc/mainlib/main.go.
package mainlib

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/msample/header-inject-filter/internal/inject"
	injectconfig "github.com/msample/header-inject-filter/internal/inject/config"
	"github.com/msample/header-inject-filter/internal/inject/rpcclient"
	"github.com/msample/header-inject-filter/internal/version"
)

// flags holds the values parsed from the command line.
type flags struct {
	configPath  string
	clusterName string
	rpcTarget   string
	listenAddr  string
	logLevel    slog.Level
	promAddr    string
}

// parseAndValidateFlags parses and validates the flags passed to the
// inject-filter binary.
func parseAndValidateFlags(args []string) (flags, error) {
	var (
		f    flags
		errs []error
		fs   = flag.NewFlagSet("inject-filter", flag.ContinueOnError)
	)

	fs.StringVar(&f.configPath, "configPath", "",
		"path to the filter configuration file (JSON). Watched for changes.")
	fs.StringVar(&f.clusterName, "clusterName", "",
		"the cluster_name this instance answers for; config loads whose cluster_name doesn't match this are rejected.")
	fs.StringVar(&f.rpcTarget, "rpcTarget", "",
		"gRPC dial target for the enrichment service's InjectService.InjectHeaders RPC.")
	fs.StringVar(&f.listenAddr, "listenAddr", ":9191",
		"gRPC address for this binary's own health service.")
	fs.StringVar(&f.promAddr, "promAddr", ":9190",
		"address for Prometheus metrics.")
	logLevelPtr := fs.String("logLevel", "info",
		"log level: one of 'debug', 'info', 'warn', or 'error'.")

	if err := fs.Parse(args); err != nil {
		return flags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	if f.configPath == "" {
		errs = append(errs, fmt.Errorf("configPath must be provided"))
	}
	if f.clusterName == "" {
		errs = append(errs, fmt.Errorf("clusterName must be provided"))
	}
	if f.rpcTarget == "" {
		errs = append(errs, fmt.Errorf("rpcTarget must be provided"))
	}
	if err := f.logLevel.UnmarshalText([]byte(*logLevelPtr)); err != nil {
		errs = append(errs, fmt.Errorf("failed to unmarshal log level: %w", err))
	}

	return f, errors.Join(errs...)
}

// Main is the inject-filter binary's entry point, exposed for embedding in
// a caller-owned main package.
func Main() {
	f, err := parseAndValidateFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("failed to parse and validate flags: %v", err)
	}

	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: f.logLevel}))
	l.Info("starting inject-filter",
		slog.String("version", version.Get().String()),
		slog.String("configPath", f.configPath),
		slog.String("clusterName", f.clusterName),
		slog.String("rpcTarget", f.rpcTarget),
		slog.String("listenAddr", f.listenAddr),
		slog.String("promAddr", f.promAddr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalsChan := make(chan os.Signal, 1)
	signal.Notify(signalsChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalsChan
		cancel()
	}()

	client, err := rpcclient.NewGRPCClient(f.rpcTarget)
	if err != nil {
		log.Fatalf("failed to dial enrichment service: %v", err)
	}

	live := &liveFilter{
		client:  client,
		metrics: inject.NewFilterMetrics(),
		logger:  l,
	}
	cm := injectconfig.NewStaticClusterSet(f.clusterName)
	if err := injectconfig.StartWatcher(ctx, f.configPath, cm, live, l, 5*time.Second); err != nil {
		log.Fatalf("failed to start config watcher: %v", err)
	}

	lis, err := net.Listen(listenNetwork(f.listenAddr))
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", f.listenAddr, err)
	}

	grpcServer := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, &healthServer{ready: live.ready})

	metricsServer := &http.Server{
		Addr:              f.promAddr,
		Handler:           promHandler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	var g errgroup.Group
	g.Go(func() error {
		l.Info("starting gRPC health service", slog.String("address", f.listenAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		l.Info("starting metrics server", slog.String("address", f.promAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		grpcServer.GracefulStop()
		return metricsServer.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		l.Error("inject-filter exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func promHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return mux
}

// listenNetwork returns the network and address for the given address
// flag, supporting a "unix://" prefix for Unix domain sockets.
func listenNetwork(addr string) (string, string) {
	if strings.HasPrefix(addr, "unix://") {
		return "unix", strings.TrimPrefix(addr, "unix://")
	}
	return "tcp", addr
}
