package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Discord is a simple Discord webhook notifier.
type Discord struct {
	webhookURL string
	logger     *log.Logger
	client     *http.Client
}

// NewDiscord creates a new Discord notifier. If webhookURL is empty,
// notifications are silently skipped.
func NewDiscord(webhookURL string, logger *log.Logger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		logger:     logger,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured.
func (d *Discord) Enabled() bool {
	return d.webhookURL != ""
}

// discordMessage is the payload for Discord webhook.
type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// send posts a message to Discord webhook asynchronously.
// Errors are logged but don't affect caller.
func (d *Discord) send(ctx context.Context, msg discordMessage) {
	if !d.Enabled() {
		return
	}

	// Detach from the caller's context: HTTP handlers cancel theirs as soon
	// as the response is written, which would race the delivery goroutine.
	// The client timeout still bounds the request.
	ctx = context.WithoutCancel(ctx)

	go func() {
		body, err := json.Marshal(msg)
		if err != nil {
			d.logger.Printf("discord: failed to marshal message: %v", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", d.webhookURL, bytes.NewReader(body))
		if err != nil {
			d.logger.Printf("discord: failed to create request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			d.logger.Printf("discord: failed to send webhook: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			d.logger.Printf("discord: webhook returned status %d", resp.StatusCode)
		}
	}()
}

// NotifyNewUser sends a notification when a new user registers.
func (d *Discord) NotifyNewUser(ctx context.Context, email string) {
	msg := discordMessage{
		Embeds: []discordEmbed{{
			Title:       "New user",
			Description: fmt.Sprintf("New account registered: `%s`", email),
			Color:       0x00FF00, // Green
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}
	d.send(ctx, msg)
}

// NotifyJobCompleted sends a notification when a TTS job finishes.
func (d *Discord) NotifyJobCompleted(ctx context.Context, jobID string, characterCount int) {
	msg := discordMessage{
		Embeds: []discordEmbed{{
			Title: "TTS job completed",
			Color: 0x00FF00, // Green
			Fields: []embedField{
				{Name: "Job", Value: fmt.Sprintf("`%s`", jobID), Inline: true},
				{Name: "Characters", Value: fmt.Sprintf("%d", characterCount), Inline: true},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	}
	d.send(ctx, msg)
}

// NotifyJobFailed sends a notification when a TTS job fails.
func (d *Discord) NotifyJobFailed(ctx context.Context, jobID, reason string) {
	msg := discordMessage{
		Embeds: []discordEmbed{{
			Title: "TTS job failed",
			Color: 0xFF0000, // Red
			Fields: []embedField{
				{Name: "Job", Value: fmt.Sprintf("`%s`", jobID), Inline: true},
				{Name: "Reason", Value: reason, Inline: false},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	}
	d.send(ctx, msg)
}
