package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"haulhub/internal/microservices/realtime/client"
)

var (
	serverURL   string // realtime endpoint
	token       string // jwt
	verbose     bool
	maxAttempts int
)

var rootCmd = &cobra.Command{
	Use:   "haulhub-cli",
	Short: "haulhub-cli - talk to the HaulHub realtime server",
	Long: `haulhub-cli opens a websocket session to the HaulHub realtime server.
Use it to watch delivery offers and alerts as they are pushed, or to send a
single message of any type.

Use "haulhub-cli command -h" to see command flags.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called once by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	_ = godotenv.Load(".env")

	rootCmd.PersistentFlags().StringVar(&serverURL, "url", envOr("REALTIME_URL", "ws://localhost:8080/ws"), "realtime server websocket URL")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("HAULHUB_TOKEN"), "JWT access token (default $HAULHUB_TOKEN)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log connection events")
	rootCmd.PersistentFlags().IntVar(&maxAttempts, "max-attempts", client.DefaultMaxAttempts, "give up after this many failed reconnects (0 = never)")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newManager() (*client.Manager, error) {
	if token == "" {
		return nil, fmt.Errorf("no token: pass --token or set HAULHUB_TOKEN")
	}
	var out io.Writer = io.Discard
	if verbose {
		out = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return client.NewManager(
		client.NewWSDialer(serverURL, token),
		client.WithLogger(logger),
		client.WithMaxAttempts(maxAttempts),
		client.WithDialTimeout(10*time.Second),
	), nil
}

func background(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
