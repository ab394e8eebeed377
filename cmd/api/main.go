package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mealgate/internal/audit"
	"mealgate/internal/auth"
	"mealgate/internal/config"
	"mealgate/internal/httpmiddleware"
	"mealgate/internal/meal"
	"mealgate/internal/portal"
	"mealgate/internal/queue"
	"mealgate/internal/rtdb"
	"mealgate/internal/store"
)

func main() {
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
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var rt rtdb.Store
	if cfg.StoreBackend == "memory" {
		rt = rtdb.NewMemory()
	} else {
		rt = rtdb.NewRedisStore(redisClient.Client, cfg.StorePrefix)
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "mealgate:decisions")
	}

	var repo *audit.Repository
	if db != nil {
		repo = audit.NewRepository(db.Client)
	}

	svc := meal.NewService(rt, audit.NewQueueSink(q))
	students := portal.NewFileStore(cfg.StudentDataPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Stats().EnsureCounters(ctx); err != nil {
		log.Printf("warning: counter init failed: %v", err)
	}

	watcher := meal.NewWatcher(rt)
	stopWatch, err := watcher.Start(ctx)
	if err != nil {
		log.Printf("warning: session watch failed: %v", err)
	} else {
		defer stopWatch()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/terminals/register", func(c *gin.Context) {
		var req struct {
			TerminalID string `json:"terminal_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if repo != nil {
			if err := repo.UpsertTerminal(c.Request.Context(), req.TerminalID); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		tokens, err := auth.Issue(req.TerminalID, auth.RoleTerminal, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		if repo != nil {
			_ = repo.SaveRefreshToken(c.Request.Context(), req.TerminalID, tokens.RefreshToken, tokens.RefreshExp)
		}

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	terminal := r.Group("/v1/terminal", auth.TerminalAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	terminal.GET("/session", func(c *gin.Context) {
		snap := watcher.Current()
		resp := gin.H{"state": snap.Session.State}
		if snap.Session.LastAction != nil {
			resp["last_action"] = snap.Session.LastAction
		}
		if snap.Student != nil {
			// Advisory only: the approve handler re-checks inside the store
			// transaction and its answer can differ under races.
			resp["student"] = snap.Student
			resp["ineligible_reasons"] = meal.Evaluate(*snap.Student)
		}
		c.JSON(http.StatusOK, resp)
	})

	terminal.POST("/approve", func(c *gin.Context) {
		uid, ok := decisionUID(c, watcher)
		if !ok {
			return
		}
		outcome, err := svc.Approve(c.Request.Context(), uid, auth.Operator(c))
		if err != nil {
			writeDecisionError(c, err)
			return
		}
		if !outcome.Committed {
			c.JSON(http.StatusConflict, gin.H{"error": string(outcome.Reason)})
			return
		}
		resp := gin.H{"status": "approved", "uid": uid}
		if outcome.SideEffects != nil {
			// The meal is served and the deduction stands; only follow-up
			// writes failed.
			resp["warning"] = outcome.SideEffects.Error()
		}
		c.JSON(http.StatusOK, resp)
	})

	terminal.POST("/deny", func(c *gin.Context) {
		uid, ok := decisionUID(c, watcher)
		if !ok {
			return
		}
		if err := svc.Deny(c.Request.Context(), uid, auth.Operator(c)); err != nil {
			writeDecisionError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "denied", "uid": uid})
	})

	terminal.GET("/stats", func(c *gin.Context) {
		stats, err := svc.Stats().Snapshot(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	terminal.POST("/hardware", func(c *gin.Context) {
		var req struct {
			DoorLock string `json:"door_lock"`
			Buzzer   string `json:"buzzer"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		hw := svc.Hardware()
		var werr error
		switch req.DoorLock {
		case meal.DoorOpen:
			werr = hw.OpenDoor(c.Request.Context())
		case meal.DoorLocked:
			werr = hw.LockDoor(c.Request.Context())
		case "":
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "door_lock must be OPEN or LOCKED"})
			return
		}
		if werr == nil {
			switch req.Buzzer {
			case meal.BuzzerBeep:
				werr = hw.Beep(c.Request.Context())
			case meal.BuzzerOff:
				werr = hw.Silence(c.Request.Context())
			case "":
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "buzzer must be BEEP or OFF"})
				return
			}
		}
		if werr != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	terminal.GET("/decisions", func(c *gin.Context) {
		if repo == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log not configured"})
			return
		}
		uid := c.Query("uid")
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		decisions, err := repo.ListDecisions(c.Request.Context(), uid, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"decisions": decisions})
	})

	registerPortal(r, students)

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

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// decisionUID takes the student uid from the request body when given, falling
// back to the live session. Writes the error response itself when neither is
// available.
func decisionUID(c *gin.Context, watcher *meal.Watcher) (string, bool) {
	var req struct {
		UID string `json:"uid"`
	}
	_ = c.ShouldBindJSON(&req)
	uid := req.UID
	if uid == "" {
		if snap := watcher.Current(); snap.Student != nil {
			uid = snap.Student.UID
		}
	}
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no active student"})
		return "", false
	}
	return uid, true
}

func writeDecisionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, meal.ErrNoActiveStudent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no active student"})
	case errors.Is(err, rtdb.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable, try again"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
