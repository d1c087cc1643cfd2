package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	config "leadrouter/app/configs"
	"leadrouter/app/core/crm/db"
	"leadrouter/app/core/crm/routing"
	"leadrouter/app/core/crm/seed"
	"leadrouter/app/core/crm/store"
	amqpchannel "leadrouter/app/core/interaction/amqp"
	"leadrouter/app/core/interaction/gateway"
	httpchannel "leadrouter/app/core/interaction/http"
	"leadrouter/app/pkg/logger"
)

func main() {
	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := cfgManager.Get()

	if err := logger.Init(cfg.Server.LogDir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Lead router starting...")

	database, err := db.NewSQLiteDB(cfg.Server.DataDir)
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	crmStore := store.NewStore(database)
	if err := seed.ApplyFile(ctx, crmStore, cfg.Seed.Path); err != nil {
		logger.Error("Failed to apply seed topology: %v", err)
		os.Exit(1)
	}

	engine := routing.NewEngine(
		crmStore,
		routing.NewSelector(nil),
		cfg.Routing.AllowAnonymousLeads,
		cfg.Routing.MaxClaimRedraws,
	)
	dispatcher := gateway.NewDispatcher(engine, cfg.Routing.IdentityPaths)

	dispatcher.RegisterChannel(httpchannel.NewChannel(cfg.Server.HTTPPort, crmStore, dispatcher))

	if cfg.AMQP.URL != "" {
		client, err := amqpchannel.Dial(cfg.AMQP)
		if err != nil {
			logger.Error("Failed to connect to AMQP: %v", err)
			os.Exit(1)
		}
		defer client.Close()
		dispatcher.SetPublisher(amqpchannel.NewPublisher(client))
		dispatcher.RegisterChannel(amqpchannel.NewInboundChannel(client, dispatcher))
		logger.Info("AMQP channel enabled (queue %s)", cfg.AMQP.InboundQueue)
	}

	go func() {
		if err := dispatcher.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Gateway crashed: %v", err)
			os.Exit(1)
		}
	}()

	logger.Info("Lead router is ready to serve.")
	fmt.Printf("- Contact intake: http://localhost:%d/api/contacts/{source_code} (POST)\n", cfg.Server.HTTPPort)
	fmt.Printf("- Health:         http://localhost:%d/health\n", cfg.Server.HTTPPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. Lead router shutting down...", sig)
	cancel()
}
