// Package webhook terminates Slack's outgoing HTTP callbacks: slash
// commands, interactive payloads (buttons and modals) and Events API
// deliveries. Every request is authenticated against the app signing
// secret before it reaches a registry.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	slackapi "github.com/slack-go/slack"

	"github.com/bissquit/incident-responder/internal/domain"
	"github.com/bissquit/incident-responder/internal/incident"
	"github.com/bissquit/incident-responder/internal/pkg/ctxlog"
	"github.com/bissquit/incident-responder/internal/pkg/httputil"
	"github.com/bissquit/incident-responder/internal/slack"
)

const maxPayloadBytes = 1 << 20

// Handler routes verified Slack callbacks into the dispatch registries.
type Handler struct {
	signingSecret string
	commands      *slack.CommandRegistry
	actions       *slack.ActionRegistry
	modals        *slack.ModalRegistry
	events        *slack.EventRegistry
	incidents     *incident.Service
	repo          incident.Repository
}

func NewHandler(
	signingSecret string,
	commands *slack.CommandRegistry,
	actions *slack.ActionRegistry,
	modals *slack.ModalRegistry,
	events *slack.EventRegistry,
	incidents *incident.Service,
	repo incident.Repository,
) *Handler {
	return &Handler{
		signingSecret: signingSecret,
		commands:      commands,
		actions:       actions,
		modals:        modals,
		events:        events,
		incidents:     incidents,
		repo:          repo,
	}
}

// Routes returns the /slack subtree.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.verifySignature)
	r.Post("/command", h.handleCommand)
	r.Post("/interactive", h.handleInteractive)
	r.Post("/event", h.handleEvent)
	return r
}

// verifySignature checks the request signature and timestamp Slack sends
// with every callback, then restores the body for downstream parsing.
func (h *Handler) verifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			httputil.Text(w, http.StatusBadRequest, "bad request")
			return
		}

		verifier, err := slackapi.NewSecretsVerifier(r.Header, h.signingSecret)
		if err != nil {
			httputil.Text(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := verifier.Write(body); err == nil {
			err = verifier.Ensure()
		}
		if err != nil {
			ctxlog.FromContext(r.Context()).Warn("rejected slack callback", "error", err)
			httputil.Text(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

type commandResponse struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cmd, err := slackapi.SlashCommandParse(r)
	if err != nil {
		httputil.Text(w, http.StatusBadRequest, "bad request")
		return
	}

	response, err := h.commands.Dispatch(ctx, slack.CommandContext{
		Incident:  h.incidentByChannel(ctx, cmd.ChannelID),
		UserID:    cmd.UserID,
		ChannelID: cmd.ChannelID,
		TriggerID: cmd.TriggerID,
		Text:      cmd.Text,
	})
	if err != nil {
		ctxlog.FromContext(ctx).Error("command dispatch failed", "command", cmd.Text, "error", err)
		httputil.JSON(w, http.StatusOK, commandResponse{
			ResponseType: "ephemeral",
			Text:         "Something went wrong handling that, sorry. Try again in a moment.",
		})
		return
	}

	if response == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	httputil.JSON(w, http.StatusOK, commandResponse{ResponseType: "ephemeral", Text: response})
}

func (h *Handler) handleInteractive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var callback slackapi.InteractionCallback
	if err := json.Unmarshal([]byte(r.FormValue("payload")), &callback); err != nil {
		httputil.Text(w, http.StatusBadRequest, "bad request")
		return
	}

	switch callback.Type {
	case slackapi.InteractionTypeBlockActions:
		h.handleBlockActions(ctx, callback)
		w.WriteHeader(http.StatusOK)

	case slackapi.InteractionTypeViewSubmission:
		response, err := h.modals.Dispatch(ctx, callback.View.CallbackID, slack.ModalSubmission{
			UserID:          callback.User.ID,
			TriggerID:       callback.TriggerID,
			PrivateMetadata: callback.View.PrivateMetadata,
			View:            callback.View,
		})
		if err != nil {
			ctxlog.FromContext(ctx).Error("modal dispatch failed",
				"callback_id", callback.View.CallbackID,
				"error", err,
			)
			httputil.Text(w, http.StatusInternalServerError, "internal error")
			return
		}
		if response != nil {
			httputil.JSON(w, http.StatusOK, response)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleBlockActions(ctx context.Context, callback slackapi.InteractionCallback) {
	logger := ctxlog.FromContext(ctx)
	inc := h.incidentByChannel(ctx, callback.Channel.ID)

	for _, action := range callback.ActionCallback.BlockActions {
		err := h.actions.Dispatch(ctx, action.ActionID, slack.ActionContext{
			Incident:  inc,
			UserID:    callback.User.ID,
			ChannelID: callback.Channel.ID,
			TriggerID: callback.TriggerID,
			MessageTS: callback.Message.Timestamp,
			Value:     action.Value,
		})
		if err != nil {
			logger.Error("action dispatch failed", "action_id", action.ActionID, "error", err)
		}
	}
}

// eventEnvelope is the Events API outer payload. The inner event is kept
// raw so each handler decodes only the type it registered for.
type eventEnvelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	Event     json.RawMessage `json:"event"`
}

type innerEventHeader struct {
	Type string `json:"type"`
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		httputil.Text(w, http.StatusBadRequest, "bad request")
		return
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		httputil.Text(w, http.StatusBadRequest, "bad request")
		return
	}

	switch envelope.Type {
	case "url_verification":
		httputil.Text(w, http.StatusOK, envelope.Challenge)

	case "event_callback":
		var header innerEventHeader
		if err := json.Unmarshal(envelope.Event, &header); err != nil {
			httputil.Text(w, http.StatusBadRequest, "bad request")
			return
		}
		if err := h.events.Dispatch(ctx, header.Type, envelope.Event); err != nil {
			ctxlog.FromContext(ctx).Error("event dispatch failed", "event_type", header.Type, "error", err)
		}
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusOK)
	}
}

// incidentByChannel maps a Slack channel onto its incident, or nil when
// the channel is not an incident comms channel.
func (h *Handler) incidentByChannel(ctx context.Context, channelID string) *domain.Incident {
	if channelID == "" {
		return nil
	}
	channel, err := h.repo.GetCommsChannelByChannelID(ctx, channelID)
	if err != nil {
		if !errors.Is(err, incident.ErrCommsChannelNotFound) {
			ctxlog.FromContext(ctx).Warn("comms channel lookup failed", "channel_id", channelID, "error", err)
		}
		return nil
	}
	inc, err := h.incidents.GetIncident(ctx, channel.IncidentID)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("incident lookup failed", "incident_id", channel.IncidentID, "error", err)
		return nil
	}
	return inc
}
