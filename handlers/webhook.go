package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"anibridge/models"
)

// scrobbleService runs one normalized event through the reconciliation
// pipeline and always returns a structured result.
type scrobbleService interface {
	Scrobble(ctx context.Context, event models.ScrobbleEvent) models.ScrobbleResult
}

// WebhookHandler accepts Jellyfin webhook notifications and feeds them to the
// scrobbler.
type WebhookHandler struct {
	Service scrobbleService
}

func NewWebhookHandler(s scrobbleService) *WebhookHandler {
	return &WebhookHandler{Service: s}
}

// webhookPayload mirrors the fields of the Jellyfin webhook plugin's generic
// JSON template that the scrobbler consumes.
type webhookPayload struct {
	NotificationType     string `json:"NotificationType"`
	NotificationUsername string `json:"NotificationUsername"`
	ItemType             string `json:"ItemType"`
	ServerURL            string `json:"ServerUrl"`
	SeriesID             string `json:"SeriesId"`
	SeriesName           string `json:"SeriesName"`
	SeasonNumber         *int   `json:"SeasonNumber"`
	EpisodeNumber        int    `json:"EpisodeNumber"`
	PlayedToCompletion   bool   `json:"PlayedToCompletion"`
	SaveReason           string `json:"SaveReason"`
	Played               bool   `json:"Played"`
}

const saveReasonTogglePlayed = "TogglePlayed"

// Receive handles POST /api/webhook/jellyfin. Input-shape problems answer
// 400; ignorable notifications answer 200 with a no-op result; only an
// upstream fault maps to a 502.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&payload); err != nil {
		http.Error(w, "invalid webhook payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	event, result, ok := normalize(payload)
	if !ok {
		if result.Severity == "" {
			http.Error(w, result.Message, http.StatusBadRequest)
			return
		}
		writeResult(w, result)
		return
	}

	log.Printf("[webhook] %s user=%s series=%q s%de%d direction=%s",
		event.Kind, event.Username, event.Series, event.Season, event.Episode, event.Direction)

	res := h.Service.Scrobble(r.Context(), event)
	writeResult(w, res)
}

// Options handles CORS preflight requests.
func (h *WebhookHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// normalize validates the payload shape and folds it into a ScrobbleEvent.
// The third return is false when no event should reach the core; in that
// case the result's empty severity marks a hard validation failure.
func normalize(p webhookPayload) (models.ScrobbleEvent, models.ScrobbleResult, bool) {
	reject := func(msg string) (models.ScrobbleEvent, models.ScrobbleResult, bool) {
		return models.ScrobbleEvent{}, models.ScrobbleResult{Message: msg}, false
	}
	skip := func(msg string) (models.ScrobbleEvent, models.ScrobbleResult, bool) {
		return models.ScrobbleEvent{}, models.ScrobbleResult{
			Success:  true,
			Message:  msg,
			Severity: models.SeverityInfo,
		}, false
	}

	kind := models.NotificationKind(p.NotificationType)
	if kind != models.NotificationPlaybackStop && kind != models.NotificationUserDataSaved {
		return reject("unsupported notification type " + p.NotificationType)
	}
	if strings.TrimSpace(p.NotificationUsername) == "" {
		return reject("missing NotificationUsername")
	}
	if !strings.EqualFold(p.ItemType, "Episode") {
		return skip("ignoring non-episode item type " + p.ItemType)
	}
	if strings.TrimSpace(p.SeriesID) == "" {
		return reject("missing SeriesId")
	}
	if p.EpisodeNumber < 1 {
		return reject("missing or invalid EpisodeNumber")
	}

	season := 1
	if p.SeasonNumber != nil {
		season = *p.SeasonNumber
	}

	direction := models.DirectionForward
	switch kind {
	case models.NotificationPlaybackStop:
		if !p.PlayedToCompletion {
			return skip("playback did not run to completion")
		}
	case models.NotificationUserDataSaved:
		if !strings.EqualFold(p.SaveReason, saveReasonTogglePlayed) {
			return skip("ignoring user data save reason " + p.SaveReason)
		}
		// Toggling to watched advances like a completed playback; toggling
		// to unwatched rolls progress back.
		if !p.Played {
			direction = models.DirectionCorrection
		}
	}

	return models.ScrobbleEvent{
		Kind:      kind,
		Direction: direction,
		Username:  p.NotificationUsername,
		ServerURL: p.ServerURL,
		SeriesID:  p.SeriesID,
		Series:    p.SeriesName,
		Season:    season,
		Episode:   p.EpisodeNumber,
	}, models.ScrobbleResult{}, true
}

func writeResult(w http.ResponseWriter, res models.ScrobbleResult) {
	status := http.StatusOK
	if res.Severity == models.SeverityError {
		status = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(res)
}
