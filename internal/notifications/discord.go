// Package notifications delivers transcript-ready alerts to external
// channels.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/davidhora/notula/internal/logger"
	"github.com/davidhora/notula/internal/transcript"
)

// Discord is a simple Discord webhook notifier.
type Discord struct {
	webhookURL string
	log        *logger.Logger
	client     *http.Client
}

// NewDiscord creates a new Discord notifier. If webhookURL is empty,
// notifications are silently skipped.
func NewDiscord(webhookURL string, log *logger.Logger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		log:        log.Component("discord"),
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

// NotifyTranscriptReady announces a finished recording.
func (d *Discord) NotifyTranscriptReady(ctx context.Context, sess *transcript.RecordingSession) {
	dur := sess.Duration().Truncate(time.Second)
	msg := discordMessage{Embeds: []discordEmbed{{
		Title: "Transcript ready",
		Color: 0x59A14F,
		Fields: []embedField{
			{Name: "Session", Value: sess.ID, Inline: true},
			{Name: "Duration", Value: dur.String(), Inline: true},
			{Name: "Segments", Value: fmt.Sprintf("%d", len(sess.Segments)), Inline: true},
			{Name: "Speakers", Value: fmt.Sprintf("%d", len(sess.Speakers)), Inline: true},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}}}
	d.send(ctx, msg)
}

// NotifyBatchFailed announces a batch ingest that could not complete.
func (d *Discord) NotifyBatchFailed(ctx context.Context, path string, err error) {
	msg := discordMessage{Embeds: []discordEmbed{{
		Title:       "Batch transcription failed",
		Description: err.Error(),
		Color:       0xE15759,
		Fields:      []embedField{{Name: "File", Value: path}},
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}}}
	d.send(ctx, msg)
}

// send posts a message to Discord webhook asynchronously.
// Errors are logged but don't affect caller.
func (d *Discord) send(ctx context.Context, msg discordMessage) {
	if !d.Enabled() {
		return
	}

	go func() {
		body, err := json.Marshal(msg)
		if err != nil {
			d.log.WithError(err).Error("failed to marshal message")
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", d.webhookURL, bytes.NewReader(body))
		if err != nil {
			d.log.WithError(err).Error("failed to create request")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			d.log.WithError(err).Error("failed to send webhook")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			d.log.WithField("status", resp.StatusCode).Error("webhook rejected")
		}
	}()
}
