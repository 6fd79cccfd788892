package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"docindex/internal/config"
	"docindex/internal/db"
	"docindex/internal/server"
	"docindex/pkg/logger"
)

var (
	cfgFile  string
	dataDir  string
	host     string
	port     int
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "docindex",
	Short:         "Document indexing and retrieval service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("docindex %s\n", version())
	},
}

func init() {
	serveCmd.Flags().StringVar(&cfgFile, "config", "", "YAML config file")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	serveCmd.Flags().StringVar(&host, "host", "", "bind host (overrides config)")
	serveCmd.Flags().IntVar(&port, "port", 0, "bind port (overrides config)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	rootCmd.AddCommand(serveCmd, versionCmd)
	rootCmd.RunE = serveCmd.RunE
}

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	conf, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		conf.DataDir = dataDir
	}
	if flags.Changed("host") {
		conf.Host = host
	}
	if flags.Changed("port") {
		conf.Port = port
	}
	if flags.Changed("log-level") {
		conf.LogLevel = logLevel
	}
	return conf, conf.Validate()
}

func runServer(cmd *cobra.Command) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.Options{Level: conf.LogLevel, FilePath: conf.LogFile}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database := &db.DB{}
	if err := database.Open(ctx, conf); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	return server.New(database).Run(ctx, conf.Addr())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
