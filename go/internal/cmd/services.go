package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardroom/go/internal/auth"
	authdb "github.com/mcdev12/cardroom/go/internal/auth/db"
	"github.com/mcdev12/cardroom/go/internal/blocks"
	blocksdb "github.com/mcdev12/cardroom/go/internal/blocks/db"
	"github.com/mcdev12/cardroom/go/internal/config"
	"github.com/mcdev12/cardroom/go/internal/events"
	"github.com/mcdev12/cardroom/go/internal/gateway"
	"github.com/mcdev12/cardroom/go/internal/presence"
	"github.com/mcdev12/cardroom/go/internal/rematch"
	"github.com/mcdev12/cardroom/go/internal/session"
	"github.com/mcdev12/cardroom/go/internal/turnclock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Services struct {
	Store       *session.Store
	TurnClock   *turnclock.Clock
	Presence    *presence.Tracker
	Rematch     *rematch.Coordinator
	Relay       *events.Relay
	Publisher   events.Publisher
	Gateway     *gateway.Service
	Connections *gateway.ConnectionManager

	subscriptions []*session.Subscription
	cancel        context.CancelFunc
	group         *errgroup.Group
}

func setupServices(ctx context.Context, cfg *config.Config, database *sql.DB) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Turn Clock / Presence / Rematch → Gateway, with the relay and gateway observing the store
	clock := clockwork.NewRealClock()

	rules := session.NewRotationEngine(cfg.Session.AllowedActions, cfg.Session.FinishingActions)
	store := session.NewStore(cfg.SessionConfig(), rules, clock)

	var resolver turnclock.AutoplayResolver = turnclock.PassResolver{}
	if cfg.TurnClock.Resolver == "random" {
		resolver = turnclock.NewRandomResolver(cfg.Session.AllowedActions)
	}
	turnClock := turnclock.New(store, resolver, clock, cfg.TurnClockConfig())

	tracker := presence.NewTracker(store, clock, cfg.PresenceConfig())

	var registry blocks.Registry = blocks.NewMemoryRegistry()
	var revocations auth.RevocationChecker = auth.NewMemoryRevocations()
	if database != nil {
		registry = blocks.NewRepository(blocksdb.New(database))
		revocations = auth.NewRepository(authdb.New(database), clock)
	}

	coordinator := rematch.NewCoordinator(store, registry, clock, cfg.RematchConfig())
	store.SetReferenceChecker(coordinator)

	var publisher events.Publisher = events.NewLogPublisher()
	if cfg.NATS.Enabled {
		js, err := events.NewJetStreamPublisher(ctx, cfg.JetStreamConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream publisher: %w", err)
		}
		publisher = js
	}
	relay := events.NewRelay(publisher, cfg.NATS.RelayBuffer)

	verifier := auth.NewJWTVerifier(cfg.AuthConfig(), revocations, clock)
	gatewayService := gateway.NewService(store, coordinator, tracker, verifier)

	connCfg := gateway.DefaultConnectionConfig()
	connCfg.SendBuffer = cfg.Server.SendBuffer
	connCfg.PingInterval = cfg.Server.PingInterval
	connections := gateway.NewConnectionManager(connCfg, gatewayService)

	s := &Services{
		Store:       store,
		TurnClock:   turnClock,
		Presence:    tracker,
		Rematch:     coordinator,
		Relay:       relay,
		Publisher:   publisher,
		Gateway:     gatewayService,
		Connections: connections,
	}

	// Observers run in subscription order on each room's goroutine.
	s.subscriptions = append(s.subscriptions,
		store.Subscribe(turnClock),
		store.Subscribe(tracker),
		store.Subscribe(connections),
		store.Subscribe(relay),
	)
	coordinator.AddListener(connections)
	coordinator.AddListener(relay)

	return s, nil
}

// Start runs the background loops until Stop.
func (s *Services) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)

	s.group.Go(func() error {
		s.Store.RunReaper(ctx)
		return nil
	})
	s.group.Go(func() error {
		s.Presence.Run(ctx)
		return nil
	})
	s.group.Go(func() error {
		s.Rematch.Run(ctx)
		return nil
	})
	s.group.Go(func() error {
		s.Relay.Run(ctx)
		return nil
	})
	s.group.Go(func() error {
		return s.TurnClock.Run(ctx)
	})
}

// Stop closes connections, halts the loops and the store, then flushes the publisher.
func (s *Services) Stop() {
	s.Connections.Shutdown()
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		if err := s.group.Wait(); err != nil {
			log.Error().Err(err).Msg("background loop failed")
		}
	}

	for _, sub := range s.subscriptions {
		sub.Close()
	}
	s.Store.Close()
	if err := s.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close publisher")
	}
}
