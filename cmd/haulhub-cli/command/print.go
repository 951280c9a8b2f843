package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"haulhub/internal/microservices/realtime/client"
)

var (
	alertColor  = color.New(color.FgRed, color.Bold)
	offerColor  = color.New(color.FgGreen)
	chatColor   = color.New(color.FgCyan)
	systemColor = color.New(color.FgYellow)
	plainColor  = color.New(color.FgWhite)
)

func colorFor(msgType string) *color.Color {
	switch {
	case msgType == "error" || msgType == "admin_alert":
		return alertColor
	case msgType == "new_delivery" || msgType == "offer_accepted":
		return offerColor
	case strings.HasPrefix(msgType, "chat_"):
		return chatColor
	case msgType == "system":
		return systemColor
	default:
		return plainColor
	}
}

// formatEnvelope renders one inbound message as a single line.
func formatEnvelope(at time.Time, msgType string, data json.RawMessage) string {
	body := "{}"
	if len(data) > 0 {
		var compact bytes.Buffer
		if err := json.Compact(&compact, data); err == nil {
			body = compact.String()
		} else {
			body = string(data)
		}
	}
	return fmt.Sprintf("%s [%s] %s", at.Format("15:04:05"), msgType, body)
}

func printEnvelope(w io.Writer, msgType string, data json.RawMessage) {
	colorFor(msgType).Fprintln(w, formatEnvelope(time.Now(), msgType, data))
}

func printState(w io.Writer, s client.State) {
	switch s {
	case client.StateConnected:
		color.New(color.FgGreen).Fprintln(w, "● connected")
	case client.StateConnecting:
		color.New(color.FgYellow).Fprintln(w, "◌ connecting")
	case client.StateFailed:
		color.New(color.FgRed).Fprintln(w, "✗ reconnect attempts exhausted")
	default:
		color.New(color.FgHiBlack).Fprintln(w, "○ disconnected")
	}
}
