package models

// NotificationKind identifies the media-server signal that produced an event.
type NotificationKind string

const (
	NotificationPlaybackStop  NotificationKind = "PlaybackStop"
	NotificationUserDataSaved NotificationKind = "UserDataSaved"
)

// Direction distinguishes forward playback from user corrections.
type Direction string

const (
	// DirectionForward means "this episode just finished playing" (or was
	// manually toggled to watched).
	DirectionForward Direction = "forward"
	// DirectionCorrection means "the user toggled this episode back to
	// unwatched" and only ever rolls progress back.
	DirectionCorrection Direction = "correction"
)

// ScrobbleEvent is the normalized inbound notification consumed by the
// scrobbler. It is constructed once per webhook call and discarded with the
// response.
type ScrobbleEvent struct {
	Kind      NotificationKind `json:"kind"`
	Direction Direction        `json:"direction"`
	Username  string           `json:"username"`
	ServerURL string           `json:"serverUrl,omitempty"`
	SeriesID  string           `json:"seriesId"`
	Series    string           `json:"series,omitempty"`
	Season    int              `json:"season"`
	Episode   int              `json:"episode"`
}
