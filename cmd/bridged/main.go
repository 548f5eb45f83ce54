package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lhwebs/bridged/internal/auth"
	"github.com/lhwebs/bridged/internal/config"
	"github.com/lhwebs/bridged/internal/database"
	"github.com/lhwebs/bridged/internal/logging"
	"github.com/lhwebs/bridged/internal/routing"
	"github.com/lhwebs/bridged/internal/server"
	"github.com/lhwebs/bridged/internal/tracking"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridged",
		Short: "Bridge routing and lead tracking backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("data-dir", defaults.GetString("data.dir"), "Directory holding the flat data files")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "Telemetry SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("admin-username", defaults.GetString("admin.username"), "Admin panel username")
	cmd.PersistentFlags().String("admin-password", "", "Admin panel password (overrides env)")
	cmd.PersistentFlags().String("signing-secret", "", "Admin session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "data.dir", "data-dir")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "admin.username", "admin-username")
	bindFlag(cmd, "admin.password", "admin-password")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "bridged-admin",
		Audience:      "bridged-api",
		AdminUsername: appConfig.AdminUsername,
		AdminPassword: appConfig.AdminPassword,
	})

	registry, err := routing.NewRegistry(routing.RegistryConfig{Path: appConfig.DestinationsPath()})
	if err != nil {
		return err
	}
	store, err := routing.NewStore(appConfig.AssignmentsPath())
	if err != nil {
		return err
	}
	settingsStore := routing.NewSettingsStore(appConfig.SettingsPath())

	routingService, err := routing.NewService(routing.ServiceConfig{
		Registry: registry,
		Store:    store,
		Settings: settingsStore,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	trackingService, err := tracking.NewService(tracking.ServiceConfig{
		Database:        db,
		BehaviorLogPath: appConfig.BehaviorsPath(),
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		RoutingService:  routingService,
		Registry:        registry,
		Store:           store,
		Settings:        settingsStore,
		TrackingService: trackingService,
		TokenManager:    tokenManager,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
