package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/skydz/dropwatch/internal/command"
	"github.com/skydz/dropwatch/pkg/logger"
)

// slackEventEnvelope is the outer payload of the Slack Events API
type slackEventEnvelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// slackMessageEvent is the inner message event we act on
type slackMessageEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	User    string `json:"user"`
	BotID   string `json:"bot_id,omitempty"`
	Text    string `json:"text"`
	Channel string `json:"channel"`
}

// SlackEvents handles POST /slack/events. It answers the url_verification
// handshake synchronously and acknowledges message events immediately;
// command execution happens off the request goroutine because Slack
// retries any delivery not acknowledged within 3 seconds.
func (h *Handler) SlackEvents(w http.ResponseWriter, r *http.Request) {
	var envelope slackEventEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	switch envelope.Type {
	case "url_verification":
		WriteJSON(w, http.StatusOK, map[string]string{"challenge": envelope.Challenge})
		return

	case "event_callback":
		var event slackMessageEvent
		if err := json.Unmarshal(envelope.Event, &event); err != nil {
			WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event payload"})
			return
		}

		if h.shouldHandle(&event) {
			go h.handleMessage(&event)
		}

		w.WriteHeader(http.StatusOK)
		return

	default:
		w.WriteHeader(http.StatusOK)
	}
}

// shouldHandle filters out everything that is not a plain user message,
// in particular our own webhook posts echoed back by Slack.
func (h *Handler) shouldHandle(event *slackMessageEvent) bool {
	if event.Type != "message" || event.Subtype != "" {
		return false
	}
	if event.BotID != "" || event.User == "" {
		return false
	}
	return strings.TrimSpace(event.Text) != ""
}

func (h *Handler) handleMessage(event *slackMessageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd, err := command.Parse(event.Text)
	if err != nil {
		h.reply(ctx, err.Error())
		return
	}

	h.logger.Info("Handling command",
		logger.String("kind", string(cmd.Kind)),
		logger.String("user", event.User),
		logger.String("channel", event.Channel))

	reply := h.executeCommand(ctx, event.User, event.Channel, cmd)
	h.reply(ctx, reply)
}

func (h *Handler) reply(ctx context.Context, text string) {
	if h.responder == nil {
		return
	}
	if err := h.responder.Post(ctx, text); err != nil {
		h.logger.Error("Failed to post reply", logger.Error(err))
	}
}
