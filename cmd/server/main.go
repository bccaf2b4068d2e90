package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"storefront-hooks/internal/auth"
	"storefront-hooks/internal/config"
	"storefront-hooks/internal/engine"
	"storefront-hooks/internal/events"
	"storefront-hooks/internal/instrument"
	"storefront-hooks/internal/messaging"
	"storefront-hooks/internal/recordstore"
	"storefront-hooks/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, env: %s, record store: %q)", cfg.Server.Port, cfg.Server.Env, cfg.RecordStore.URL)

	// 2. Local subscription store: SQL when enabled, else in-process
	var local engine.SubscriptionStore = engine.NewMemorySubscriptionStore()
	if cfg.Database.Enabled {
		db, err := store.New(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.Bootstrap(ctx); err != nil {
			log.Fatalf("Failed to bootstrap system tables: %v", err)
		}
		log.Printf("Database connected (%s)", db.Dialect.Name())
		local = engine.NewSQLSubscriptionStore(db)
	}

	// 3. Record store and the stores layered on it
	rs := recordstore.New(cfg.RecordStore)
	subs := local
	var flows engine.FlowStore = engine.NewMemoryFlowStore()
	var lookup engine.RecordLookup
	if rs.Configured() {
		remote := engine.NewRemoteSubscriptionStore(rs, cfg.Collections.Subscriptions, cfg.Collections.Failures)
		subs = engine.NewFallbackSubscriptionStore(remote, local)
		flows = engine.NewRemoteFlowStore(rs, cfg.Collections.Flows)
		lookup = rs
	} else {
		log.Println("WARN: recordstore.url not set, subscriptions stay local and no flows are loaded")
	}

	// 4. Tracing
	recorder := instrument.NewRecorder(cfg.Tracing.Recent)
	var inst instrument.Instrumenter = &instrument.NoopInstrumenter{}
	if cfg.Tracing.Enabled {
		inst = instrument.NewOtelInstrumenter(recorder)
	}

	// 5. Dispatcher and automation runner
	dispatcher := engine.NewDispatcher(subs, engine.WithUserAgent(cfg.Webhook.UserAgent))
	runnerOpts := []engine.RunnerOption{
		engine.WithMessenger(messaging.NewClient(cfg.Messaging)),
		engine.WithRunnerUserAgent(cfg.Webhook.UserAgent),
	}
	if lookup != nil {
		runnerOpts = append(runnerOpts, engine.WithRecordLookup(lookup, cfg.Collections.Orders, cfg.Collections.Customers))
	}
	runner := engine.NewRunner(flows, runnerOpts...)
	validator := engine.NewPayloadValidator()

	// 6. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler(cfg.Server.IsProduction()),
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(instrument.Middleware(inst))

	// 7. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 8. Admin guard
	guardCfg := auth.GuardConfigFrom(cfg)
	if guardCfg.Open() {
		log.Println("WARN: no admin credentials configured, admin routes are open")
	}
	adminMW := auth.AdminGuard(guardCfg)
	auth.RegisterAuthRoutes(app, auth.NewTokenHandler(cfg.Auth.JWTSecret), adminMW)

	// 9. Webhook and automation routes
	webhookHandler := engine.NewWebhookHandler(subs, dispatcher, validator, cfg.Webhook.DefaultTimeoutMs, cfg.Webhook.DefaultRetries)
	engine.RegisterWebhookRoutes(app, webhookHandler, adminMW)
	engine.RegisterAutomationRoutes(app, engine.NewAutomationHandler(runner, flows, validator), adminMW)

	// 10. Recent spans
	eventHandler := instrument.NewEventHandler(recorder)
	app.Get("/_events", adminMW, eventHandler.List)
	app.Post("/_events", adminMW, eventHandler.Emit)

	// 11. NATS ingress
	if cfg.NATS.URL != "" {
		ingress, err := events.NewIngress(cfg.NATS.URL, cfg.NATS.Subject, dispatcher, runner)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		ingress.WithInstrumenter(inst)
		if err := ingress.Start(); err != nil {
			log.Fatalf("Failed to start NATS ingress: %v", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := ingress.Close(closeCtx); err != nil {
				log.Printf("WARN: NATS ingress shutdown: %v", err)
			}
		}()
	}

	// 12. Start server
	go func() {
		<-ctx.Done()
		log.Println("Shutting down")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("WARN: server shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Printf("ERROR: server stopped: %v", err)
	}
}
