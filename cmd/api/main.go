package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"sla-monitor/internal/handlers"
	"sla-monitor/internal/middleware"
	"sla-monitor/internal/models"
	"sla-monitor/internal/repository"
	"sla-monitor/internal/services"
)

// @title SLA Monitor API
// @version 1.0
// @description SLA risk monitoring and alerting engine for help-desk tickets
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initConfig()

	db, err := repository.NewDatabase()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := runMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	seedDefaultTemplates(db)

	alertHistoryRepo := repository.NewAlertHistoryRepository(db)
	preferenceRepo := repository.NewPreferenceRepository(db)
	recordRepo := repository.NewNotificationRecordRepository(db)
	templateRepo := repository.NewNotificationTemplateRepository(db)
	ticketRepo := repository.NewTicketRepository(db)
	configRepo := repository.NewAlertingConfigRepository(db)
	userRepo := repository.NewUserRepository(db)

	configStore := services.NewConfigStore(ctx, configRepo)
	resolver := services.NewPreferenceResolver(preferenceRepo)
	pipeline := services.NewDeliveryPipeline(buildSenders(userRepo), recordRepo, templateRepo,
		services.DefaultRetryPolicy(), nil)
	statsService := services.NewStatisticsService(alertHistoryRepo, recordRepo, configStore, nil)
	escalator := services.NewHTTPTicketEscalator(viper.GetString("ticket_service.base_url"))

	wsHandler := handlers.NewWebSocketHandler()

	engine := services.NewMonitoringEngine(
		services.NewRiskScorer(),
		configStore,
		alertHistoryRepo,
		ticketRepo,
		escalator,
		resolver,
		pipeline,
		wsHandler,
		nil,
	)

	slaAlertHandler := handlers.NewSLAAlertHandler(engine, alertHistoryRepo, configStore,
		statsService, resolver, pipeline)
	preferenceHandler := handlers.NewPreferenceHandler(preferenceRepo)
	notificationHandler := handlers.NewNotificationHandler(recordRepo)

	router := initRouter(wsHandler, slaAlertHandler, preferenceHandler, notificationHandler)

	addr := fmt.Sprintf("%s:%d", viper.GetString("app.host"), viper.GetInt("app.port"))

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	go func() {
		if err := engine.Start(ctx); err != nil {
			log.Printf("Monitoring engine stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	cancel()
	engine.WaitForDeliveries()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func buildSenders(userRepo *repository.UserRepository) []services.ChannelSender {
	var senders []services.ChannelSender

	if token := viper.GetString("slack.bot_token"); token != "" {
		senders = append(senders, services.NewSlackSender(token, userRepo))
	} else {
		log.Println("slack.bot_token not set, slack channel disabled")
	}

	if webhook := viper.GetString("teams.webhook_url"); webhook != "" {
		senders = append(senders, services.NewTeamsSender(webhook))
	} else {
		log.Println("teams.webhook_url not set, teams channel disabled")
	}

	smtp := services.SMTPConfig{
		Host:     viper.GetString("smtp.host"),
		Port:     viper.GetInt("smtp.port"),
		Username: viper.GetString("smtp.username"),
		Password: viper.GetString("smtp.password"),
		From:     viper.GetString("smtp.from"),
	}
	if smtp.Port == 0 {
		smtp.Port = 587
	}
	senders = append(senders, services.NewEmailSender(smtp, userRepo))

	return senders
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/sla-monitor")
	viper.AutomaticEnv()
	// So env vars like DATABASE_HOST (not DATABASE.HOST) override config keys like database.host
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.ReadInConfig()
}

func runMigrations(db *repository.Database) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			username VARCHAR(64) UNIQUE NOT NULL,
			email VARCHAR(128) UNIQUE NOT NULL,
			slack_user_id VARCHAR(64),
			status INT DEFAULT 1,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id UUID PRIMARY KEY,
			priority VARCHAR(16) NOT NULL,
			status VARCHAR(32) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			sla_deadline TIMESTAMPTZ NOT NULL,
			assigned_technician_id UUID,
			escalation_level INT DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS sla_alerts (
			id UUID PRIMARY KEY,
			ticket_id UUID NOT NULL,
			type VARCHAR(32) NOT NULL,
			severity VARCHAR(16) NOT NULL,
			risk_score DOUBLE PRECISION NOT NULL,
			time_remaining_seconds BIGINT NOT NULL,
			message TEXT,
			acknowledged BOOLEAN DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sla_alerts_ticket ON sla_alerts(ticket_id, severity, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sla_alerts_created ON sla_alerts(created_at)`,
		`CREATE TABLE IF NOT EXISTS notification_preferences (
			recipient_id UUID PRIMARY KEY,
			channels JSONB NOT NULL DEFAULT '{}',
			priorities JSONB NOT NULL DEFAULT '{}',
			quiet_hours JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notification_records (
			id UUID PRIMARY KEY,
			ticket_id UUID NOT NULL,
			alert_id UUID NOT NULL,
			recipient_id UUID NOT NULL,
			channel VARCHAR(16) NOT NULL,
			type VARCHAR(32) NOT NULL,
			status VARCHAR(16) NOT NULL,
			is_fallback BOOLEAN DEFAULT false,
			attempts INT DEFAULT 0,
			delivered_at TIMESTAMPTZ,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_records_ticket ON notification_records(ticket_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_records_created ON notification_records(created_at)`,
		`CREATE TABLE IF NOT EXISTS notification_templates (
			id UUID PRIMARY KEY,
			name VARCHAR(128) NOT NULL,
			channel VARCHAR(16) NOT NULL,
			priority VARCHAR(16) DEFAULT '',
			alert_type VARCHAR(32) DEFAULT '',
			subject VARCHAR(256),
			body TEXT,
			status INT DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sla_alerting_config (
			id INT PRIMARY KEY,
			enabled BOOLEAN NOT NULL,
			risk_medium DOUBLE PRECISION NOT NULL,
			risk_high DOUBLE PRECISION NOT NULL,
			risk_critical DOUBLE PRECISION NOT NULL,
			escalation_level1 DOUBLE PRECISION NOT NULL,
			escalation_level2 DOUBLE PRECISION NOT NULL,
			escalation_level3 DOUBLE PRECISION NOT NULL,
			scan_interval_ms BIGINT NOT NULL,
			cooldown_ms BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(context.Background(), migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func seedDefaultTemplates(db *repository.Database) {
	templateRepo := repository.NewNotificationTemplateRepository(db)

	count, err := templateRepo.Count(context.Background())
	if err != nil {
		log.Printf("Failed to count templates: %v", err)
		return
	}
	if count > 0 {
		return
	}

	templates := []models.NotificationTemplate{
		{
			Name:    "slack-default",
			Channel: models.ChannelSlack,
			Subject: "SLA alert for ticket {{ticket_id}}",
			Body:    ":warning: *{{type}}* for ticket `{{ticket_id}}`\nRisk score: {{risk_score}}\nTime remaining: {{time_remaining}}\n{{message}}",
			Status:  1,
		},
		{
			Name:      "slack-breach",
			Channel:   models.ChannelSlack,
			AlertType: models.AlertTypeBreach,
			Subject:   "SLA BREACHED for ticket {{ticket_id}}",
			Body:      ":rotating_light: *SLA BREACHED* for ticket `{{ticket_id}}`\n{{message}}",
			Status:    1,
		},
		{
			Name:    "teams-default",
			Channel: models.ChannelTeams,
			Subject: "SLA alert for ticket {{ticket_id}}",
			Body:    "**{{type}}** for ticket {{ticket_id}}. Risk score: {{risk_score}}. Time remaining: {{time_remaining}}. {{message}}",
			Status:  1,
		},
		{
			Name:    "email-default",
			Channel: models.ChannelEmail,
			Subject: "SLA alert for ticket {{ticket_id}}",
			Body:    "Alert type: {{type}}\nTicket: {{ticket_id}}\nRisk score: {{risk_score}}\nTime remaining: {{time_remaining}}\n\n{{message}}",
			Status:  1,
		},
	}

	for i := range templates {
		if err := templateRepo.Create(context.Background(), &templates[i]); err != nil {
			log.Printf("Failed to seed template %s: %v", templates[i].Name, err)
		}
	}
	log.Printf("Seeded %d default notification templates", len(templates))
}

func initRouter(
	wsHandler *handlers.WebSocketHandler,
	slaAlertHandler *handlers.SLAAlertHandler,
	preferenceHandler *handlers.PreferenceHandler,
	notificationHandler *handlers.NotificationHandler) *gin.Engine {

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	go wsHandler.HandleBroadcast()
	router.GET("/api/v1/ws", wsHandler.HandleConnection)

	api := router.Group("/api/v1")
	{
		api.POST("/sla-alerts/monitor", slaAlertHandler.Monitor)
		api.GET("/sla-alerts/history", slaAlertHandler.History)
		api.GET("/sla-alerts/config", slaAlertHandler.GetConfig)
		api.PUT("/sla-alerts/config", slaAlertHandler.UpdateConfig)
		api.GET("/sla-alerts/status", slaAlertHandler.Status)
		api.POST("/sla-alerts/test", slaAlertHandler.Test)
		api.POST("/sla-alerts/:id/ack", slaAlertHandler.Acknowledge)

		api.GET("/users/:id/preferences", preferenceHandler.Get)
		api.PUT("/users/:id/preferences", preferenceHandler.Update)

		api.GET("/notifications/ticket/:ticketId", notificationHandler.ListByTicket)
	}

	return router
}
