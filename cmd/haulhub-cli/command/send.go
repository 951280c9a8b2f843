package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send TYPE JSON",
	Short: "Send one message and optionally wait for a reply type",
	Example: `  haulhub-cli send chat_message '{"to_user_id":"hauler-3","body":"On my way"}' --wait chat_ack
  haulhub-cli send chat_history '{"with_user_id":"hauler-3"}' --wait chat_history`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgType, payload := args[0], []byte(args[1])
		if !json.Valid(payload) {
			return fmt.Errorf("data is not valid JSON: %s", args[1])
		}
		waitFor, _ := cmd.Flags().GetString("wait")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		m, err := newManager()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		replies := make(chan json.RawMessage, 1)
		failures := make(chan json.RawMessage, 1)
		if waitFor != "" {
			m.Subscribe(waitFor, func(data json.RawMessage) {
				select {
				case replies <- data:
				default:
				}
			})
		}
		m.Subscribe("error", func(data json.RawMessage) {
			select {
			case failures <- data:
			default:
			}
		})

		if err := m.Connect(background(cmd)); err != nil {
			m.Disconnect()
			return fmt.Errorf("connect %s: %w", serverURL, err)
		}
		defer m.Disconnect()

		if err := m.Send(msgType, json.RawMessage(payload)); err != nil {
			return err
		}
		if waitFor == "" {
			fmt.Fprintf(out, "sent %s\n", msgType)
			return nil
		}

		select {
		case data := <-replies:
			printEnvelope(out, waitFor, data)
			return nil
		case data := <-failures:
			printEnvelope(out, "error", data)
			return fmt.Errorf("server rejected %s", msgType)
		case <-time.After(timeout):
			return fmt.Errorf("no %s within %s", waitFor, timeout)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().String("wait", "", "message type to wait for after sending")
	sendCmd.Flags().Duration("timeout", 5*time.Second, "how long to wait for --wait")
}
