package command

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"haulhub/internal/microservices/realtime/client"
)

var defaultListenTypes = []string{
	"new_delivery", "offer_accepted", "admin_alert",
	"chat_message", "chat_ack", "chat_history", "system", "error",
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print pushed messages until interrupted",
	Long: `Connects, subscribes to the given message types and prints every message
received. The session reconnects automatically with exponential backoff.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		types, _ := cmd.Flags().GetStringSlice("type")

		m, err := newManager()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		failed := make(chan struct{}, 1)
		m.OnStateChange(func(s client.State) {
			printState(out, s)
			if s == client.StateFailed {
				select {
				case failed <- struct{}{}:
				default:
				}
			}
		})
		for _, t := range types {
			msgType := t
			m.Subscribe(msgType, func(data json.RawMessage) { printEnvelope(out, msgType, data) })
		}

		ctx, stop := signal.NotifyContext(background(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := m.Connect(ctx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "initial connect failed, retrying: %v\n", err)
		}
		defer m.Disconnect()

		select {
		case <-ctx.Done():
			return nil
		case <-failed:
			return fmt.Errorf("could not reach %s", serverURL)
		}
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().StringSlice("type", defaultListenTypes, "message types to print (repeatable)")
}
