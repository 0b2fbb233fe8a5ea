package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	httpHdlr "jobboard/handler/http"
	"jobboard/src/core/sponsorship"
	"jobboard/src/infrastructure/log"
	"jobboard/src/infrastructure/notification"
	"jobboard/src/storage/postgres/jobctrl"
	"jobboard/src/storage/postgres/ledgerctrl"
	"jobboard/src/storage/postgres/userctrl"
	rediscache "jobboard/src/storage/redis"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job board API server",
	Long:  `The serve command starts the HTTP server for job listings, impressions and the sponsorship ledger.`,
	Run:   RunServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	settingDefaultConfig()
}

func RunServer(cmd *cobra.Command, args []string) {
	// Initialize PostgreSQL connection
	host := viper.GetString("postgres.host")
	user := viper.GetString("postgres.user")
	password := viper.GetString("postgres.password")
	dbname := viper.GetString("postgres.db")
	port := viper.GetString("postgres.port")

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		host, user, password, dbname, port)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Error(err, "Failed to connect to database")
		return
	}

	if err := db.AutoMigrate(
		&userctrl.User{},
		&jobctrl.Job{},
		&ledgerctrl.JobImpression{},
		&ledgerctrl.BalanceTransaction{},
	); err != nil {
		log.Error(err, "Failed to migrate database")
		return
	}

	// Initialize redis cache; the server runs without it if unavailable
	var cache *rediscache.Cache
	if addr := viper.GetString("redis.addr"); addr != "" {
		cache, err = rediscache.New(addr, viper.GetString("redis.password"), viper.GetInt("redis.db"))
		if err != nil {
			log.Error(err, "Failed to connect to redis, continuing without cache")
			cache = nil
		}
	}

	// Initialize AMQP publisher for notifications
	amqpPublisher, err := amqp.NewPublisher(
		amqp.NewDurableQueueConfig(viper.GetString("amqp.url")),
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		log.Error(err, "Failed to create AMQP publisher")
		return
	}
	defer amqpPublisher.Close()

	// Initialize storage services
	jobService, err := jobctrl.NewJobService(db)
	if err != nil {
		log.Error(err, "Failed to create job service")
		return
	}
	userService, err := userctrl.NewUserService(db)
	if err != nil {
		log.Error(err, "Failed to create user service")
		return
	}

	var dedup ledgerctrl.DedupCache
	if cache != nil {
		dedup = cache
	}
	ledgerService, err := ledgerctrl.NewLedgerService(db, jobService, userService, dedup)
	if err != nil {
		log.Error(err, "Failed to create ledger service")
		return
	}

	// Initialize the sponsorship ledger with the notification publisher
	sponsorshipService := sponsorship.NewService(
		ledgerService,
		notification.NewPublisher(amqpPublisher),
	)

	// Initialize HTTP handler
	handler := httpHdlr.NewHandler(jobService, userService, sponsorshipService, cache)

	// Setup gin router
	r := gin.Default()

	// Register routes
	handler.RegisterRoutes(r)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Failed to start server")
			return
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Parse shutdown timeout
	timeout, err := time.ParseDuration(viper.GetString("server.shutdown_timeout"))
	if err != nil {
		log.Error(err, "Invalid shutdown timeout, using default 5s")
		timeout = 5 * time.Second
	}

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	log.Info("Server exited")
}
