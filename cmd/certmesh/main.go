package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	v1 "github.com/Hardcoreprawn/ai-content-farm-sub006/api/v1"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/acmeclient"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/auth"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/cache"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certstore"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/config"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/db"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/dnszone"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/dnszone/providers/cloudflare"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/event"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/identity"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/pki"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/rotation"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/trust"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("✓ Configuration loaded")

	// 2. Initialize MySQL
	if err := db.InitMySQL(cfg.MySQL.DSN); err != nil {
		log.Fatalf("Failed to initialize MySQL: %v", err)
	}
	defer db.Close()

	if cfg.Migrate {
		if err := db.Migrate(db.GetDB()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("✓ Database migrated")
	}

	// 3. Initialize Redis
	if err := cache.InitRedis(cfg.Redis); err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}
	defer cache.Close()

	// 4. Initialize JWT
	auth.InitJWT(cfg.JWT.Secret)

	// 5. Seed identities from configuration
	identityService := identity.NewService(db.GetDB())
	if err := identityService.Seed(context.Background(), cfg.Identities); err != nil {
		log.Fatalf("Failed to seed identities: %v", err)
	}
	log.Printf("✓ %d identities configured", len(cfg.Identities))

	// 6. Build the issuance pipeline
	dnsManager := dnszone.NewManager(
		cfg.Zone.Name,
		cfg.Zone.ProviderZoneID,
		cloudflare.NewProvider(cfg.Zone.CloudflareEmail, cfg.Zone.CloudflareToken),
		dnszone.NewNetResolver(cfg.Zone.Nameservers),
		time.Duration(cfg.Challenge.PropagationTimeoutSec)*time.Second,
		time.Duration(cfg.Challenge.PollIntervalSec)*time.Second,
	)

	if !cfg.ACME.LocalIssuer && len(cfg.Zone.HostTargets) > 0 {
		for _, name := range cfg.IdentityNames() {
			target, ok := cfg.Zone.HostTargets[name]
			if !ok {
				continue
			}
			if err := dnsManager.EnsureHostRecord(context.Background(), cfg.Identities[name], target); err != nil {
				log.Fatalf("Failed to ensure host record for %s: %v", name, err)
			}
		}
		log.Printf("✓ %d host records ensured", len(cfg.Zone.HostTargets))
	}

	orderService := acmeclient.NewOrderService(db.GetDB())

	var issuer acmeclient.Issuer
	if cfg.ACME.LocalIssuer {
		localCA, err := pki.NewLocalCA("certmesh local development CA")
		if err != nil {
			log.Fatalf("Failed to create local CA: %v", err)
		}
		issuer = acmeclient.NewLocalIssuer(localCA, orderService, 90*24*time.Hour)
		log.Println("✓ Using local development issuer")
	} else {
		issuer = acmeclient.NewLegoIssuer(db.GetDB(), dnsManager, orderService, acmeclient.AccountConfig{
			DirectoryURL: cfg.ACME.DirectoryURL,
			Email:        cfg.ACME.Email,
			EabKid:       cfg.ACME.EabKid,
			EabHmacKey:   cfg.ACME.EabHmacKey,
		})
	}

	workflow := acmeclient.NewWorkflow(orderService, issuer, dnsManager,
		time.Duration(cfg.Challenge.OrderTimeoutSec)*time.Second)

	store := certstore.NewStore(db.GetDB(), cfg.Store.MasterKey())
	publisher := event.NewPublisher(cache.Client)
	trustCfg := trust.NewConfigurator(store, publisher)
	if err := trustCfg.Refresh(context.Background()); err != nil {
		log.Fatalf("Failed to build initial trust bundle: %v", err)
	}
	log.Println("✓ Trust bundle loaded")

	// 7. Start the rotation scheduler
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	scheduler := rotation.NewScheduler(&rotation.Config{
		Identities:             identityService,
		Certs:                  store,
		Runner:                 workflow,
		Orders:                 orderService,
		Trust:                  trustCfg,
		Events:                 publisher,
		DNS:                    dnsManager,
		Logger:                 logrus.NewEntry(logger),
		IntervalSec:            cfg.Rotation.IntervalSec,
		RenewBeforeDays:        cfg.Rotation.RenewBeforeDays,
		MaxConsecutiveFailures: cfg.Rotation.MaxConsecutiveFailures,
		Concurrency:            cfg.Rotation.Concurrency,
		RateLimitRetryHours:    cfg.Challenge.RateLimitRetryHours,
		OrderTimeoutSec:        cfg.Challenge.OrderTimeoutSec,
	})
	if cfg.Rotation.Enabled {
		scheduler.Start()
		defer scheduler.Stop()
	} else {
		log.Println("Rotation scheduler disabled by configuration")
	}

	// 8. Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	v1.SetupRouter(r, &v1.Deps{
		Identities: identityService,
		Store:      store,
		Orders:     orderService,
		Scheduler:  scheduler,
		Trust:      trustCfg,
	})

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		log.Printf("✓ Server starting on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
