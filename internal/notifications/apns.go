package notifications

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/davidhora/notula/internal/logger"
	"github.com/davidhora/notula/internal/transcript"
)

// APNsConfig holds configuration for Apple Push Notification service
type APNsConfig struct {
	KeyPath    string // Path to .p8 key file
	KeyID      string // Key ID from Apple Developer Portal
	TeamID     string // Team ID from Apple Developer Portal
	BundleID   string // App bundle ID
	Production bool   // Use production environment
}

// APNsClient notifies the companion app when transcripts are ready.
type APNsClient struct {
	client   *apns2.Client
	bundleID string
	log      *logger.Logger
}

// NewAPNsClient creates a new APNs client. Incomplete configuration
// returns (nil, nil): push notifications disabled, not an error.
func NewAPNsClient(cfg APNsConfig, log *logger.Logger) (*APNsClient, error) {
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" || cfg.BundleID == "" {
		log.Info("APNs not configured, push notifications disabled")
		return nil, nil
	}

	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNs key file: %w", err)
	}

	block, _ := pem.Decode(keyBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode APNs key PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs key: %w", err)
	}
	ecdsaKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("APNs key is not an ECDSA private key")
	}

	authToken := &token.Token{
		AuthKey: ecdsaKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	var client *apns2.Client
	if cfg.Production {
		client = apns2.NewTokenClient(authToken).Production()
	} else {
		client = apns2.NewTokenClient(authToken).Development()
	}

	log.WithField("production", cfg.Production).
		WithField("bundle", cfg.BundleID).
		Info("APNs client initialized")

	return &APNsClient{
		client:   client,
		bundleID: cfg.BundleID,
		log:      log.Component("apns"),
	}, nil
}

// SendTranscriptReady pushes a notification for a finished recording.
func (c *APNsClient) SendTranscriptReady(deviceToken string, sess *transcript.RecordingSession) error {
	if c == nil || c.client == nil {
		return nil
	}

	title := "Transcript ready"
	body := fmt.Sprintf("%d segments, %s", len(sess.Segments), sess.Duration().Truncate(time.Second))

	p := payload.NewPayload().
		AlertTitle(title).
		AlertBody(body).
		Custom("session_id", sess.ID).
		Sound("default")

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       c.bundleID,
		Payload:     p,
		Priority:    apns2.PriorityHigh,
	}

	res, err := c.client.Push(notification)
	if err != nil {
		return fmt.Errorf("failed to send push: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("push rejected: %s (%d)", res.Reason, res.StatusCode)
	}
	c.log.WithField("session", sess.ID).Info("transcript-ready push sent")
	return nil
}

// SendRecordingFailed pushes a notification about a session that ended
// with a terminal error.
func (c *APNsClient) SendRecordingFailed(deviceToken, sessionID, reason string) error {
	if c == nil || c.client == nil {
		return nil
	}

	p := payload.NewPayload().
		AlertTitle("Recording stopped unexpectedly").
		AlertBody(reason).
		Custom("session_id", sessionID).
		Sound("default")

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       c.bundleID,
		Payload:     p,
		Priority:    apns2.PriorityHigh,
	}

	res, err := c.client.Push(notification)
	if err != nil {
		return fmt.Errorf("failed to send push: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("push rejected: %s (%d)", res.Reason, res.StatusCode)
	}
	return nil
}
