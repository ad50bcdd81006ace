package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"chatwire/config"
	"chatwire/logger"
	"chatwire/middleware"
	"chatwire/service/chat"
	"chatwire/service/natsx"
	"chatwire/service/seq"
	"chatwire/service/storage"
	"chatwire/tools/errs"
	"chatwire/tools/ids"
	"chatwire/tools/security"
)

func main() {
	cfg := config.Load()
	ids.SetNodeID(cfg.NodeID)

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := storage.NewMongoStore(initCtx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		logger.Fatalf("mongo: %v", err)
	}
	if err := store.EnsureIndexes(initCtx); err != nil {
		logger.Warnf("mongo indexes: %v", err)
	}

	// Redis is optional: without it the gateway runs single-node with an
	// in-memory sequencer and no presence mirror.
	var sequencer seq.Sequencer = seq.NewMemory(store.MaxSeq)
	var mirror chat.PresenceMirror
	var lookup chat.PresenceLookup
	if cfg.RedisAddr != "" {
		rdb, err := storage.NewRedis(initCtx, storage.RedisConfig{
			Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB,
		})
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer func() { _ = rdb.Close() }()
		pm := storage.NewPresenceMirror(rdb, cfg.GatewayID, 2*time.Minute)
		mirror = pm
		lookup = pm
		sequencer = &seq.RedisAllocator{Rdb: rdb, Source: store}
	}

	jwtOpts := security.DefaultOptions([]byte(cfg.JWTSecret))
	validator := chat.SessionValidatorFunc(func(ctx context.Context, credential string) (*chat.Identity, error) {
		if credential == "" {
			return nil, errs.ErrHandshakeRejected.WithDetail("missing credential")
		}
		claims, err := security.Verify(jwtOpts, credential, "")
		if err != nil {
			return nil, errs.ErrHandshakeRejected.WrapMsg(err.Error())
		}
		sub := claims.Subject()
		if sub == "" {
			return nil, errs.ErrHandshakeRejected.WithDetail("token missing subject")
		}
		return &chat.Identity{UserID: sub, DisplayName: claims.Name()}, nil
	})

	policy := middleware.NewOriginPolicy(cfg.AllowedOrigins)

	srv := chat.NewServer(chat.ServerConf{
		GatewayID:        cfg.GatewayID,
		PresenceGrace:    cfg.PresenceGrace,
		HandshakeTimeout: cfg.HandshakeTimeout,
		PersistTimeout:   cfg.PersistTimeout,
		Manager: chat.ManagerConf{
			IdleTTL:     cfg.IdleTTL,
			SweepEvery:  cfg.SweepEvery,
			MaxPerUser:  cfg.MaxPerUser,
			EvictOldest: cfg.EvictOldest,
		},
	}, validator, store, sequencer, policy.CheckRequest)
	if mirror != nil {
		srv.SetMirror(mirror)
	}

	if cfg.NATSURL != "" {
		relay, err := natsx.NewRelay(cfg.NATSURL, cfg.GatewayID)
		if err != nil {
			logger.Fatalf("nats: %v", err)
		}
		if err := relay.Start(func(ev *chat.MessageEvent) {
			srv.Router().DeliverLocal(ev)
		}); err != nil {
			logger.Fatalf("nats subscribe: %v", err)
		}
		srv.SetRelay(relay)
		defer relay.Close()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), policy.CORS())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"gateway":     cfg.GatewayID,
			"connections": srv.Registry().Len(),
		})
	})
	r.GET("/socket", srv.HandleWS)
	chat.NewAdminAPI(store, lookup, srv.Registry(), cfg.PersistTimeout).Register(r)

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	go func() {
		logger.Infof("[http] listening on %s gateway=%s", cfg.ListenAddr, cfg.GatewayID)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("[main] shutting down")
	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	srv.Shutdown()
	if err := store.Close(shutCtx); err != nil {
		logger.Warnf("mongo close: %v", err)
	}
}
