// Command meshbus-mediator runs the pub/sub mediator: the central registry
// that tracks nodes, topics, publishers, and subscribers, and tells
// subscriber nodes where to dial once a matching publisher appears.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/meshbus/meshbus-go/internal/cmdutil"
	"github.com/meshbus/meshbus-go/internal/version"
	"github.com/meshbus/meshbus-go/lifecycle"
	"github.com/meshbus/meshbus-go/mediator"
	"github.com/meshbus/meshbus-go/meshmetrics/prom"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	cfg := mediator.DefaultConfig()

	listenAddr := cmdutil.EnvString("MESHBUS_MEDIATOR_LISTEN", cfg.BindAddr)
	listenPort, err := cmdutil.EnvInt("MESHBUS_MEDIATOR_PORT", cfg.BindPort)
	if err != nil {
		fmt.Fprintf(stderr, "invalid MESHBUS_MEDIATOR_PORT: %v\n", err)
		return 2
	}
	metricsListen := cmdutil.EnvString("MESHBUS_MEDIATOR_METRICS_LISTEN", "")
	verbose, err := cmdutil.EnvBool("MESHBUS_MEDIATOR_VERBOSE", false)
	if err != nil {
		fmt.Fprintf(stderr, "invalid MESHBUS_MEDIATOR_VERBOSE: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("meshbus-mediator", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := false
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&listenAddr, "listen", listenAddr, "bind address (env: MESHBUS_MEDIATOR_LISTEN)")
	fs.IntVar(&listenPort, "port", listenPort, "bind port, 0 for OS-assigned (env: MESHBUS_MEDIATOR_PORT)")
	fs.StringVar(&metricsListen, "metrics-listen", metricsListen, "optional host:port for /metrics and /registry (env: MESHBUS_MEDIATOR_METRICS_LISTEN)")
	fs.BoolVar(&verbose, "v", verbose, "add microseconds to log timestamps; no extra debug output (env: MESHBUS_MEDIATOR_VERBOSE)")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	if showVersion {
		fmt.Fprintln(stdout, version.String(buildVersion, buildCommit, buildDate))
		return 0
	}

	logger := log.New(stderr, "", log.LstdFlags)
	if verbose {
		logger.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}

	reg := prom.NewRegistry()
	obs := prom.NewObserver(reg)

	cfg.BindAddr = listenAddr
	cfg.BindPort = listenPort
	cfg.Observer = obs

	srv, err := mediator.New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "start mediator: %v\n", err)
		return 1
	}
	logger.Printf("mediator listening on %s", srv.Addr())

	var metricsSrv *http.Server
	if metricsListen != "" {
		metricsSrv, err = srv.ServeAdmin(metricsListen, prom.Handler(reg))
		if err != nil {
			fmt.Fprintf(stderr, "start metrics server: %v\n", err)
			srv.Shutdown()
			return 1
		}
		logger.Printf("admin endpoint listening on %s (/metrics, /registry)", metricsSrv.Addr)
	}

	fmt.Fprintf(stdout, "%s\n", srv.Addr())

	if err := lifecycle.Init(); err != nil {
		fmt.Fprintf(stderr, "lifecycle init: %v\n", err)
		srv.Shutdown()
		return 1
	}
	lifecycle.RegisterDeactivateRoutine(func() {
		logger.Printf("shutting down")
		srv.Shutdown()
		if metricsSrv != nil {
			_ = metricsSrv.Close()
		}
	})
	lifecycle.HandleSignals()

	shutdownDone := make(chan struct{})
	lifecycle.RegisterDeactivateRoutine(func() { close(shutdownDone) })
	<-shutdownDone
	return 0
}
