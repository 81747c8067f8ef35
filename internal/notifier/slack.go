package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/skydz/dropwatch/internal/geo"
	"github.com/skydz/dropwatch/internal/monitor"
	"github.com/skydz/dropwatch/internal/session"
	"github.com/skydz/dropwatch/pkg/logger"
)

// SlackNotifier delivers transition events to a Slack incoming webhook.
// Delivery is best-effort: the committed state transition is the source of
// truth and a failed post never rolls it back.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
	names      map[string]string // aircraft hex -> display name
	zones      map[string]*geo.Zone
	logger     *logger.Logger
}

// NewSlackNotifier creates a new Slack webhook notifier. An empty webhook
// URL degrades to log-only delivery.
func NewSlackNotifier(webhookURL string, timeout time.Duration, names map[string]string, zones []geo.Zone, log *logger.Logger) *SlackNotifier {
	zoneMap := make(map[string]*geo.Zone, len(zones))
	for i := range zones {
		z := zones[i]
		zoneMap[z.ID] = &z
	}

	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
		names:      names,
		zones:      zoneMap,
		logger:     log.Named("notifier"),
	}
}

// NotifyTransition posts a human-readable transition message
func (n *SlackNotifier) NotifyTransition(ctx context.Context, sess *session.Session, event *monitor.TransitionEvent) error {
	return n.Post(ctx, n.formatTransition(sess, event))
}

// NotifyTerminal posts a terminal notice when a session stops or errors
func (n *SlackNotifier) NotifyTerminal(ctx context.Context, sess *session.Session, reason string) error {
	text := fmt.Sprintf("%s %s: %s (last state: %s)",
		statusEmoji(sess.Status),
		n.displayName(sess.AircraftID),
		reason,
		describeState(sess.LastState))
	return n.Post(ctx, text)
}

// formatTransition renders the transition event, including the aircraft's
// distance and bearing from the drop zone and its magnetic track when the
// snapshot carries a usable position.
func (n *SlackNotifier) formatTransition(sess *session.Session, event *monitor.TransitionEvent) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s: %s → %s at %s",
		stateEmoji(event.To),
		n.displayName(sess.AircraftID),
		describeState(event.From),
		describeState(event.To),
		event.At.UTC().Format("15:04:05 MST Jan 2"))

	snap := event.Snapshot
	if snap == nil || !snap.HasPosition() {
		return b.String()
	}

	if zone, ok := n.zones[sess.ZoneID]; ok {
		fmt.Fprintf(&b, " — %.1f NM %s of %s",
			zone.DistanceNM(snap.Lat, snap.Lon),
			compassPoint(zone.BearingFrom(snap.Lat, snap.Lon)),
			zone.Name)
	}

	if snap.GroundSpeedKts > 0 {
		magTrack := geo.TrueToMagnetic(snap.TrackDeg, snap.Lat, snap.Lon, snap.AltGeomFt, event.At)
		fmt.Fprintf(&b, ", %.0f kts on track %03.0f°M at %.0f ft",
			snap.GroundSpeedKts, magTrack, snap.AltGeomFt)
	}

	return b.String()
}

// Post delivers a message to the webhook, or logs it when no webhook is
// configured.
func (n *SlackNotifier) Post(ctx context.Context, text string) error {
	if n.webhookURL == "" {
		n.logger.Info("Notification (no webhook configured)", logger.String("text", text))
		return nil
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug("Notification delivered", logger.String("text", text))
	return nil
}

func (n *SlackNotifier) displayName(hex string) string {
	if name, ok := n.names[hex]; ok && name != "" {
		return name
	}
	return hex
}

func describeState(s session.State) string {
	switch s {
	case session.StateAirborne:
		return "airborne"
	case session.StateLanded:
		return "landed"
	case session.StateInZone:
		return "over the drop zone"
	case session.StateOutOfZone:
		return "airborne, outside the drop zone"
	default:
		return "unknown"
	}
}

func stateEmoji(s session.State) string {
	switch s {
	case session.StateAirborne, session.StateOutOfZone:
		return "🛫"
	case session.StateLanded:
		return "🛬"
	case session.StateInZone:
		return "🪂"
	default:
		return "❓"
	}
}

func statusEmoji(s session.Status) string {
	switch s {
	case session.StatusStopped:
		return "🛑"
	case session.StatusErrored:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// compassPoint maps a bearing to an 8-point compass direction
func compassPoint(bearing float64) string {
	points := []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}
	idx := int((bearing+22.5)/45.0) % 8
	return points[idx]
}
