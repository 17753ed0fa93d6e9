package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"sla-monitor/internal/repository"
	"sla-monitor/internal/services"
)

// Headless monitoring worker: runs the scan loop without the API
// surface, for deployments that separate serving from scanning.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initConfig()

	db, err := repository.NewDatabase()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

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
	escalator := services.NewHTTPTicketEscalator(viper.GetString("ticket_service.base_url"))

	engine := services.NewMonitoringEngine(
		services.NewRiskScorer(),
		configStore,
		alertHistoryRepo,
		ticketRepo,
		escalator,
		resolver,
		pipeline,
		nil,
		nil,
	)

	log.Printf("Starting SLA monitoring worker with scan interval: %v", configStore.Get().ScanInterval())

	go func() {
		if err := engine.Start(ctx); err != nil {
			log.Printf("Monitoring engine stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()
	engine.WaitForDeliveries()
	log.Println("Worker exited")
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
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.ReadInConfig()
}
