package main

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/deathcounter/backend/internal/config"
	"github.com/deathcounter/backend/internal/dispatch"
	"github.com/deathcounter/backend/internal/mock"
	"github.com/deathcounter/backend/internal/persist"
	"github.com/deathcounter/backend/internal/service"
	"github.com/deathcounter/backend/internal/ws"
)

var log = logging.Logger("deathcounter")

const defaultMaxRenderers = 4

var runFlags = []cli.Flag{
	&cli.StringFlag{Name: "host", Usage: "listen address (overrides DEATHCOUNTER_HOST)"},
	&cli.IntFlag{Name: "port", Usage: "listen port (overrides DEATHCOUNTER_PORT)"},
	&cli.StringFlag{Name: "data-dir", Usage: "directory holding the ledger"},
	&cli.StringFlag{Name: "config", Usage: "path to the panel config file"},
	&cli.StringFlag{Name: "backend", Usage: "ledger backend: file, memory or leveldb"},
	&cli.StringFlag{Name: "token", Usage: "token required on the host API"},
	&cli.StringSliceFlag{Name: "allowed-origin", Usage: "origin allowed to open the panel websocket"},
	&cli.IntFlag{Name: "max-renderers", Value: defaultMaxRenderers, Usage: "maximum concurrent panel renderers"},
	&cli.BoolFlag{Name: "mock", Usage: "simulate a game server with a few dying players"},
	&cli.StringFlag{Name: "log-level", Value: "info", Usage: "log level for the daemon itself; subsystems follow the config debug flag"},
}

func run(c *cli.Context) error {
	rt, err := runtimeFromFlags(c)
	if err != nil {
		return err
	}
	if err := logging.SetLogLevel("deathcounter", c.String("log-level")); err != nil {
		return fmt.Errorf("setting log level: %w", err)
	}

	backend, closeBackend, err := openBackend(rt)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			log.Warnf("closing ledger backend: %v", err)
		}
	}()

	loop := dispatch.NewLoop(nil)
	bridge := ws.NewBridge(c.Int("max-renderers"))
	svc := service.New(service.Options{
		Dispatcher: loop,
		Store:      persist.NewGateway(backend, rt.ConfigPath()),
		Provider:   bridge,
	})
	server := ws.NewServer(svc, loop, bridge, rt.AllowedOrigins, rt.AuthToken)

	// The loop outlives the request context so Unload can still run on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(loopCtx) }()

	if err := loop.Do(c.Context, func() {
		svc.Init()
		svc.Loaded()
	}); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}

	g, ctx := errgroup.WithContext(c.Context)
	addr := net.JoinHostPort(rt.Host, strconv.Itoa(rt.Port))
	g.Go(func() error {
		return ws.ListenAndServe(ctx, addr, server.Handler())
	})
	if c.Bool("mock") {
		log.Info("starting in mock mode")
		if err := mock.NewGenerator(svc, loop, nil, 0).Start(ctx); err != nil {
			log.Errorf("starting mock generator: %v", err)
		}
	}

	log.Infof("ledger backend %s, config %s", rt.Backend, rt.ConfigPath())
	serveErr := g.Wait()

	if err := loop.Do(context.Background(), svc.Unload); err != nil {
		log.Errorf("unloading: %v", err)
	}
	stopLoop()
	<-loopDone

	return serveErr
}

func runtimeFromFlags(c *cli.Context) (*config.Runtime, error) {
	rt, err := config.LoadRuntime()
	if err != nil {
		return nil, err
	}
	if c.IsSet("host") {
		rt.Host = c.String("host")
	}
	if c.IsSet("port") {
		rt.Port = c.Int("port")
	}
	if c.IsSet("data-dir") {
		rt.DataDir = c.String("data-dir")
	}
	if c.IsSet("config") {
		rt.ConfigFile = c.String("config")
	}
	if c.IsSet("backend") {
		rt.Backend = c.String("backend")
	}
	if c.IsSet("token") {
		rt.AuthToken = c.String("token")
	}
	if c.IsSet("allowed-origin") {
		rt.AllowedOrigins = c.StringSlice("allowed-origin")
	}
	if err := rt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return rt, nil
}

func openBackend(rt *config.Runtime) (persist.Backend, func() error, error) {
	switch rt.Backend {
	case config.BackendMemory:
		return persist.NewDatastoreBackend(dssync.MutexWrap(datastore.NewMapDatastore())), noClose, nil
	case config.BackendLevelDB:
		return persist.OpenLevelDB(rt.DataDir)
	default:
		return persist.NewFileBackend(rt.DataDir), noClose, nil
	}
}

func noClose() error { return nil }
