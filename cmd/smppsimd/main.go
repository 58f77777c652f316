// Command smppsimd runs the SMPP v5.0 server simulator: a bind-aware TCP
// listener, a lifecycle scheduler that ages submitted messages to a
// terminal delivery state, an MO injector, and an HTTP Observability API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v7"
	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nimbusgw/smppsim/internal/accounts"
	"github.com/nimbusgw/smppsim/internal/api"
	"github.com/nimbusgw/smppsim/internal/lifecycle"
	"github.com/nimbusgw/smppsim/internal/message"
	"github.com/nimbusgw/smppsim/internal/moinject"
	"github.com/nimbusgw/smppsim/internal/registry"
	"github.com/nimbusgw/smppsim/internal/session"
	"github.com/nimbusgw/smppsim/internal/smppd"
)

type rootConfig struct {
	SystemID string `env:"SMPP_SYSTEM_ID" envDefault:"simulator"`
	Password string `env:"SMPP_PASSWORD" envDefault:"password"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	QueueInboundCapacity int `env:"QUEUE_INBOUND_CAPACITY" envDefault:"10000"`
}

func main() {
	os.Exit(run())
}

func run() int {
	log := logrus.New()

	var cfg rootConfig
	if err := env.Parse(&cfg); err != nil {
		log.WithError(err).Error("failed to load configuration")
		return 1
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	logrus.SetLevel(level)

	instanceID, err := uuid.NewV4()
	if err != nil {
		log.WithError(err).Error("failed to generate instance id")
		return 1
	}
	entry := log.WithField("instance_id", instanceID.String())

	var smppdCfg smppd.Config
	if err := env.Parse(&smppdCfg); err != nil {
		entry.WithError(err).Error("failed to load smppd configuration")
		return 1
	}
	var lifecycleCfg lifecycle.Config
	if err := env.Parse(&lifecycleCfg); err != nil {
		entry.WithError(err).Error("failed to load lifecycle configuration")
		return 1
	}
	var moinjectCfg moinject.Config
	if err := env.Parse(&moinjectCfg); err != nil {
		entry.WithError(err).Error("failed to load moinject configuration")
		return 1
	}
	var apiCfg api.Config
	if err := env.Parse(&apiCfg); err != nil {
		entry.WithError(err).Error("failed to load api configuration")
		return 1
	}

	accountStore := accounts.NewStore([]accounts.Account{
		{SystemID: cfg.SystemID, Password: cfg.Password},
	})
	reg := registry.New()
	inbound := message.NewQueue(cfg.QueueInboundCapacity)
	idAlloc := message.NewIDAllocator(0)
	sched := lifecycle.New(lifecycleCfg, reg, entry.WithField("subsystem", "lifecycle"))
	// spec §6 defines no MO-source config surface, so the periodic
	// injector ships with a single canned record aimed at the default
	// account; operators wanting richer MO traffic drive it through
	// POST /api/mo instead.
	defaultMOSource := []moinject.Record{
		{SourceAddr: "15555550100", DestAddr: "15555550101", ShortMessage: "test MO", TargetSystemID: cfg.SystemID},
	}
	injector := moinject.New(moinjectCfg, defaultMOSource, reg, entry.WithField("subsystem", "moinject"))

	sessDeps := session.Deps{
		Accounts:  accountStore,
		Registry:  reg,
		Scheduler: sched,
		Inbound:   inbound,
		IDAlloc:   idAlloc,
		Log:       entry.WithField("subsystem", "session"),
	}
	listener := smppd.New(smppdCfg, session.DefaultConfig(), sessDeps)

	apiSrv := api.New(apiCfg, api.Deps{
		Registry:  reg,
		Inbound:   inbound,
		Scheduler: sched,
		Injector:  injector,
		Listener:  listener,
		Log:       entry.WithField("subsystem", "api"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, entry)
	})
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})
	g.Go(func() error {
		injector.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return apiSrv.Run(ctx)
	})
	g.Go(func() error {
		err := listener.Serve(ctx)
		if err != nil {
			entry.WithError(err).Error("smpp listener exited")
			cancel()
		}
		return err
	})

	entry.WithFields(logrus.Fields{
		"smpp_port": smppdCfg.Port,
		"api_port":  apiCfg.Port,
	}).Info("smppsimd starting")

	if err := g.Wait(); err != nil {
		entry.WithError(err).Error("smppsimd terminated")
		return 1
	}
	return 0
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, log *logrus.Entry) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
