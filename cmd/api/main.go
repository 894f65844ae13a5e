package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/www-e/formnew/internal/attendance"
	"github.com/www-e/formnew/internal/auth"
	"github.com/www-e/formnew/internal/backup"
	"github.com/www-e/formnew/internal/config"
	"github.com/www-e/formnew/internal/httpmiddleware"
	"github.com/www-e/formnew/internal/logger"
	"github.com/www-e/formnew/internal/notify"
	"github.com/www-e/formnew/internal/payment"
	"github.com/www-e/formnew/internal/roster"
	"github.com/www-e/formnew/internal/schedule"
	"github.com/www-e/formnew/internal/store"
	"github.com/www-e/formnew/internal/sweeper"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("api failed")
	}
}

func run(cfg config.App, log zerolog.Logger) error {
	ctx := context.Background()

	port, pg, err := openDocumentStore(cfg, log)
	if err != nil {
		return err
	}
	if pg != nil {
		defer pg.Close()
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var notifier notify.Notifier
	if cfg.NotifyBackend == "redis" {
		notifier = notify.NewRedis(redisClient.Client, cfg.NotifyChannel, log)
	} else {
		notifier = notify.NewMemory(64)
	}

	catalog := schedule.Default()
	rosterStore := roster.NewStore(port, log)
	if err := rosterStore.Load(ctx); err != nil {
		return err
	}

	att := attendance.NewService(rosterStore, catalog, log)
	pay := payment.NewService(rosterStore, log)
	backups := backup.NewManager(cfg.BackupDir, cfg.BackupKeep, log)

	// Other open sessions learn about mutations through the notifier; the
	// caller itself already gets the result in the response.
	publishRefresh := func(ctx context.Context, payload string) {
		if err := notifier.Notify(ctx, notify.EventRefreshNeeded, payload); err != nil {
			log.Warn().Err(err).Msg("refresh notification failed")
		}
	}

	sweep := sweeper.New(rosterStore, catalog, notifier, cfg.SweepInterval, cfg.AbsenceGrace, log)
	sweep.Start(ctx)
	defer sweep.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		storeHealthy := pg == nil || pg.Healthy(c.Request.Context())
		status := http.StatusOK
		if !storeHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "store": storeHealthy})
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			Key string `json:"key" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Key != cfg.AdminKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad admin key"})
			return
		}
		tokens, err := auth.Issue("admin", auth.RoleAdmin, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.GET("/v1/schedule", func(c *gin.Context) {
		// suggested is the group meeting closest to now, preselected by the
		// quick-attendance view; empty when no group meets today.
		c.JSON(http.StatusOK, gin.H{
			"groups":    catalog,
			"suggested": catalog.ClosestGroup(time.Now()),
		})
	})

	r.GET("/v1/students", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"students": rosterStore.ListStudents()})
	})

	r.POST("/v1/students", func(c *gin.Context) {
		var req struct {
			Name         string `json:"name" binding:"required"`
			StudentPhone string `json:"studentPhone" binding:"required"`
			ParentPhone  string `json:"parentPhone"`
			Grade        string `json:"grade" binding:"required"`
			Section      string `json:"section"`
			GroupTime    string `json:"groupTime"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		st, err := rosterStore.CreateStudent(c.Request.Context(), roster.Student{
			Name:         req.Name,
			StudentPhone: req.StudentPhone,
			ParentPhone:  req.ParentPhone,
			Grade:        roster.Grade(req.Grade),
			Section:      req.Section,
			GroupTime:    req.GroupTime,
		})
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"student": st})
	})

	r.GET("/v1/students/:id", func(c *gin.Context) {
		st, err := rosterStore.FindStudent(c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"student":    st,
			"groupLabel": catalog.Label(st.GroupTime),
		})
	})

	r.PUT("/v1/students/:id", func(c *gin.Context) {
		// Scalar edits only; attendance, payments and exemptions flow
		// through their dedicated operations below. A body without those
		// fields can therefore never erase nested history.
		var req struct {
			Name         *string  `json:"name"`
			StudentPhone *string  `json:"studentPhone"`
			ParentPhone  *string  `json:"parentPhone"`
			Grade        *string  `json:"grade"`
			Section      *string  `json:"section"`
			GroupTime    *string  `json:"groupTime"`
			PaidAmount   *float64 `json:"paidAmount"` // manual correction path
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		patch := roster.Patch{
			Name:         req.Name,
			StudentPhone: req.StudentPhone,
			ParentPhone:  req.ParentPhone,
			Section:      req.Section,
			GroupTime:    req.GroupTime,
			PaidAmount:   req.PaidAmount,
		}
		if req.Grade != nil {
			g := roster.Grade(*req.Grade)
			patch.Grade = &g
		}
		st, err := rosterStore.UpsertStudent(c.Request.Context(), c.Param("id"), patch)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"student": st})
	})

	r.POST("/v1/students/:id/attendance/toggle", func(c *gin.Context) {
		var req struct {
			Date string `json:"date" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := time.Parse("2006-01-02", req.Date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		marked, err := att.Toggle(c.Request.Context(), c.Param("id"), req.Date)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		publishRefresh(c.Request.Context(), req.Date)
		c.JSON(http.StatusOK, gin.H{"marked": marked, "date": req.Date})
	})

	r.POST("/v1/students/:id/checkin", func(c *gin.Context) {
		res, err := att.QuickCheckIn(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	})

	r.GET("/v1/students/:id/makeup-dates", func(c *gin.Context) {
		dates, err := att.MakeupCandidates(c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"dates": dates})
	})

	r.POST("/v1/students/:id/makeup", func(c *gin.Context) {
		var req struct {
			Date string `json:"date" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := time.Parse("2006-01-02", req.Date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		if err := att.RecordMakeup(c.Request.Context(), c.Param("id"), req.Date); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		publishRefresh(c.Request.Context(), req.Date)
		c.JSON(http.StatusOK, gin.H{"date": req.Date, "status": roster.StatusMakeup})
	})

	r.POST("/v1/students/:id/payments/toggle", func(c *gin.Context) {
		var req struct {
			Month string `json:"month" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := time.Parse("2006-01", req.Month); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "month must be YYYY-MM"})
			return
		}
		st, err := pay.Toggle(c.Request.Context(), c.Param("id"), req.Month)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		publishRefresh(c.Request.Context(), req.Month)
		c.JSON(http.StatusOK, gin.H{"student": st, "state": payment.StateFor(st, req.Month)})
	})

	r.POST("/v1/students/:id/exemption/toggle", func(c *gin.Context) {
		var req struct {
			Month string `json:"month"` // empty toggles the permanent exemption
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if req.Month != "" {
			if _, err := time.Parse("2006-01", req.Month); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "month must be YYYY-MM"})
				return
			}
		}
		st, err := pay.ToggleExemption(c.Request.Context(), c.Param("id"), req.Month)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		publishRefresh(c.Request.Context(), req.Month)
		c.JSON(http.StatusOK, gin.H{"student": st})
	})

	r.GET("/v1/payments", func(c *gin.Context) {
		month := c.Query("month")
		if month == "" {
			month = roster.MonthKey(time.Now())
		} else if _, err := time.Parse("2006-01", month); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "month must be YYYY-MM"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"month": month, "rows": pay.MonthSummary(month)})
	})

	r.GET("/v1/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, rosterStore.Statistics())
	})

	r.POST("/v1/import/csv", func(c *gin.Context) {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		summary, err := rosterStore.ImportCSV(c.Request.Context(), file, catalog)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "partial": summary})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	r.GET("/v1/export/csv", func(c *gin.Context) {
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", "attachment; filename=students.csv")
		if err := rosterStore.ExportCSV(c.Writer, catalog); err != nil {
			log.Error().Err(err).Msg("csv export failed")
		}
	})

	adminGroup := r.Group("/v1", auth.AdminAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	adminGroup.DELETE("/students/:id", func(c *gin.Context) {
		if err := rosterStore.RemoveStudent(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
	})

	adminGroup.POST("/backup", func(c *gin.Context) {
		snap, err := backups.Create(rosterStore)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, snap)
	})

	adminGroup.GET("/backups", func(c *gin.Context) {
		snaps, err := backups.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"backups": snaps})
	})

	adminGroup.POST("/restore", func(c *gin.Context) {
		var req struct {
			File string `json:"file" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := backups.Restore(c.Request.Context(), rosterStore, req.File); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"restored": req.File})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting api server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server exited")
	return nil
}

// openDocumentStore picks the persistence backend. The Postgres handle is
// returned separately so the caller can close it and use it for health checks.
func openDocumentStore(cfg config.App, log zerolog.Logger) (roster.DocumentStore, *store.Postgres, error) {
	switch cfg.StoreBackend {
	case "postgres":
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg, nil
	case "memory":
		log.Warn().Msg("memory store selected, data is not durable")
		return store.NewMemory(), nil, nil
	default:
		return store.NewFile(cfg.DataFile), nil, nil
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, roster.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, roster.ErrDuplicatePhone):
		return http.StatusConflict
	case errors.Is(err, roster.ErrInvalidGrade),
		errors.Is(err, attendance.ErrNotClassDay),
		errors.Is(err, attendance.ErrUnknownGroup):
		return http.StatusBadRequest
	case errors.Is(err, roster.ErrPersistence):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// CORS middleware for browser requests.
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

// Security headers middleware.
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
