package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AzielCF/az-connect/connection/application"
	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/AzielCF/az-connect/connection/repository"
	coreconfig "github.com/AzielCF/az-connect/core/config"
	"github.com/AzielCF/az-connect/integrations/automation"
	"github.com/AzielCF/az-connect/pkg/eventbroker"
	"github.com/AzielCF/az-connect/pkg/msgworker"
	"github.com/AzielCF/az-connect/pkg/utils"
	"github.com/AzielCF/az-connect/ui/rest"
	"github.com/AzielCF/az-connect/ui/rest/middleware"
	"github.com/AzielCF/az-connect/ui/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	bodyLimit      = 32 << 20
	brokerBuffer   = 64
	automationWait = 10 * time.Second
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Serve the connection API and the provider webhook over http",
	RunE:  restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) error {
	cfg := coreconfig.Global

	if len(cfg.App.BasicAuth) == 0 {
		logrus.Fatalln("APP_BASIC_AUTH is required. Nothing should be public; please set APP_BASIC_AUTH=<user>:<secret>[,<user2>:<secret2>] and restart.")
	}
	account := make(map[string]string)
	for _, basicAuth := range cfg.App.BasicAuth {
		ba := strings.SplitN(basicAuth, ":", 2)
		if len(ba) != 2 {
			logrus.Fatalln("Basic auth is not valid, please this following format <user>:<secret>")
		}
		account[ba[0]] = ba[1]
	}

	base, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openStore(base, cfg)
	if err != nil {
		return err
	}
	defer closeStore(db)

	cipher, err := newCipher(cfg)
	if err != nil {
		return err
	}

	conns := repository.NewConnectionGormRepository(db)
	messages := repository.NewMessageGormRepository(db)
	workspaces := repository.NewWorkspaceGormRepository(db, cipher)

	// Cross replica plumbing is optional; a single node runs without Valkey.
	vk := openValkey(cfg)
	broker := eventbroker.New(brokerBuffer)
	var dedup domain.DedupStore
	if vk != nil {
		defer vk.Close()
		serverID := utils.GetPersistentServerID(cfg.App.ServerID, cfg.Paths.Storages)
		logrus.Infof("[BROKER] relaying events as %s", serverID)
		broker.WithRelay(vk, serverID)
		dedup = repository.NewValkeyDedupStore(vk, cfg.Webhook.DedupTTL)
	} else {
		dedup = repository.NewMemoryDedupStore(cfg.Webhook.DedupTTL)
	}
	go broker.Run(base)

	pool := msgworker.NewPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize)
	pool.Start(base)

	provider := newEvolutionClient(cfg)
	automations := automation.NewClient(automationWait)

	svc := rest.Services{
		Lifecycle: application.NewLifecycleService(conns, provider, broker, application.LifecycleConfig{
			WebhookURL:        cfg.Webhook.PublicURL,
			WebhookByEvents:   cfg.Webhook.ByEvents,
			SecretGracePeriod: cfg.Webhook.SecretGracePeriod,
		}),
		Receiver: application.NewReceiver(conns, messages, workspaces, dedup, broker, automations, pool),
		Reconciler: application.NewReconciler(conns, provider, broker, application.ReconcilerConfig{
			PollInterval:       cfg.Reconciler.PollInterval,
			QRFallbackTimeout:  cfg.Reconciler.QRFallbackTimeout,
			QRFallbackInterval: cfg.Reconciler.QRFallbackInterval,
		}),
		Router:     application.NewRouter(conns, messages, workspaces, provider, automations),
		Conns:      conns,
		Workspaces: workspaces,
		Pool:       pool,
		Checks: map[string]rest.Check{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		},
		Started: time.Now(),
		Base:    base,
	}
	if vk != nil {
		svc.Checks["valkey"] = vk.Ping
	}

	app := newFiberApp(cfg)

	// The provider authenticates with the per channel secret, not basic auth.
	rest.RegisterPublic(app.Group(cfg.App.BasePath), svc)

	apiGroup := app.Group(cfg.App.BasePath + "/api")
	apiGroup.Use(basicauth.New(basicauth.Config{
		Users: account,
		Next: func(c *fiber.Ctx) bool {
			// Allow CORS preflight without credentials.
			return c.Method() == fiber.MethodOptions
		},
	}))
	rest.RegisterAPI(apiGroup, svc)
	websocket.RegisterRoutes(apiGroup, websocket.Handler{
		Service:    svc.Lifecycle,
		Reconciler: svc.Reconciler,
		Base:       base,
	})

	apiGroup.All("/*", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "API Endpoint not found",
			"path":  c.Path(),
		})
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Reception of termination signal, shutting down gracefully...")
		// Streams watch base; cancel first so Shutdown does not wait on them.
		cancel()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logrus.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}
	}()

	logrus.Infof("[REST] webhook endpoint: %s", cfg.Webhook.PublicURL)
	err = app.Listen(":" + cfg.App.Port)

	pool.Stop()
	broker.Close()
	logrus.Info("[APP] Application stopped cleanly.")
	return err
}

func newFiberApp(cfg *coreconfig.Config) *fiber.App {
	fiberConfig := fiber.Config{
		EnableTrustedProxyCheck: true,
		BodyLimit:               bodyLimit,
		Network:                 "tcp",
		AppName:                 "az-connect",
		ServerHeader:            "Hidden",
	}
	if len(cfg.App.TrustedProxies) > 0 {
		fiberConfig.TrustedProxies = cfg.App.TrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedHost
	}

	app := fiber.New(fiberConfig)
	app.Use(requestid.New())

	origins := strings.Join(cfg.App.CorsAllowedOrigins, ", ")
	if cfg.App.BaseUrl != "" && !strings.Contains(origins, cfg.App.BaseUrl) {
		if origins != "" {
			origins += ", "
		}
		origins += cfg.App.BaseUrl
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: strings.Join([]string{
			"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID",
			middleware.HeaderWorkspaceID, middleware.HeaderUserID,
		}, ", "),
	}))
	app.Use(middleware.Recovery())
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))
	if cfg.App.Debug {
		app.Use(logger.New())
	}
	return app
}
