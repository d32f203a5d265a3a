package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presensi/internal/auth"
	"presensi/internal/card"
	"presensi/internal/config"
	"presensi/internal/device"
	"presensi/internal/gate"
	"presensi/internal/httpmiddleware"
	"presensi/internal/ledger"
	"presensi/internal/notify"
	"presensi/internal/queue"
	"presensi/internal/session"
	"presensi/internal/store"
	"presensi/internal/verify"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if db == nil {
		return err
	}
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}
	trigger := notify.NewTrigger(q, redisClient.Client)

	tz, err := time.LoadLocation(cfg.SchoolTimezone)
	if err != nil {
		log.Printf("unknown timezone %q, using UTC", cfg.SchoolTimezone)
		tz = time.UTC
	}

	sessionRepo := session.NewRepository(db.Client)
	checkinRepo := verify.NewRepository(db.Client)
	cardRepo := card.NewRepository(db.Client)
	gateRepo := gate.NewRepository(db.Client)
	registry := card.NewRegistry(cardRepo)

	a := &api{
		cfg:      cfg,
		issuer:   session.NewIssuer(sessionRepo, tz),
		sessions: sessionRepo,
		checkins: checkinRepo,
		gate:     verify.NewService(sessionRepo, checkinRepo, trigger),
		tracker:  gate.NewTracker(gateRepo, registry, trigger, tz),
		cards:    registry,
		cardRepo: cardRepo,
		gateRepo: gateRepo,
		ledger:   ledger.NewRepository(db.Client),
		devices:  device.NewRepository(db.Client),
		redis:    redisClient,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Device-ID"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil && db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/devices/register", a.registerDevice)
	r.POST("/v1/devices/refresh", a.refreshDevice)

	// Students scan from their own phones; no account needed, the rate
	// limit and session validity window bound abuse.
	r.POST("/v1/scans", a.scan)

	teachers := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleTeacher, auth.RoleAdmin))
	{
		teachers.POST("/sessions", a.openSession)
		teachers.GET("/sessions/:id", a.getSession)
		teachers.GET("/sessions/:id/qr", a.sessionQR)
		teachers.GET("/sessions/:id/checkins", a.listSessionCheckins)
		teachers.GET("/sessions/:id/checkins/:student", a.getCheckin)
		teachers.GET("/classes/:id/sessions", a.listClassSessions)
		teachers.POST("/gate/checkins", a.gateCheckIn)
		teachers.POST("/gate/checkouts", a.gateCheckOut)
		teachers.GET("/gate/records", a.listGateRecords)
		teachers.GET("/ledger", a.listLedger)
		teachers.GET("/events", a.liveEvents)
	}

	admins := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleAdmin))
	{
		admins.POST("/cards", a.registerCard)
		admins.GET("/cards", a.listCards)
		admins.GET("/cards/:uid", a.getCard)
		admins.PATCH("/cards/:uid/status", a.setCardStatus)
		admins.DELETE("/cards/:uid", a.unregisterCard)
	}

	readers := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleDevice))
	{
		readers.POST("/gate/taps", a.tap)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
