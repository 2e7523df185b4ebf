package scrobbler

import (
	"anibridge/models"
	"anibridge/services/anilist"
)

// DecisionKind tags the mutation variant a reconciliation produced.
type DecisionKind int

const (
	// DecisionNoOp carries a reason and results in no upstream write.
	DecisionNoOp DecisionKind = iota
	// DecisionAdvance moves progress forward on an existing Watching entry.
	DecisionAdvance
	// DecisionTransition promotes a Planning entry into Watching (or
	// Completed for a one-episode show).
	DecisionTransition
	// DecisionCreate adds a new list entry for an untracked show.
	DecisionCreate
	// DecisionReset rolls progress back to zero without touching the status
	// bucket.
	DecisionReset
)

// NoOp reasons. The exact strings surface in results and history rows.
const (
	ReasonUnsupportedSeason = "unsupported season"
	ReasonAlreadyAtProgress = "already at or beyond this progress"
	ReasonExceedsMax        = "episode exceeds known max"
	ReasonNotFirstEpisode   = "not first episode; cannot promote from planning"
	ReasonNotTracked        = "show not tracked"
	ReasonMidSeriesAutoAdd  = "cannot auto-add mid-series"
	ReasonNothingToReset    = "show not tracked; nothing to reset"
)

// Decision is the single mutation to apply for one event, or a definitive
// no-op reason.
type Decision struct {
	Kind     DecisionKind
	Reason   string
	EntryID  int
	MediaID  int
	Progress int
	Status   anilist.MediaListStatus
}

// Input is everything the reconciler needs to decide. EpisodeTotal is the
// show's total episode count fetched on demand for the create path; nil when
// unknown or not fetched.
type Input struct {
	MediaID      int
	Episode      int
	Season       int
	AutoAdd      bool
	Direction    models.Direction
	EpisodeTotal *int
}

func noOp(reason string) Decision {
	return Decision{Kind: DecisionNoOp, Reason: reason}
}

// Reconcile computes the mutation for an event against a fresh list snapshot.
// It is a pure function: no network access, no retries, and every outcome is
// a structured decision.
func Reconcile(in Input, snap *anilist.Snapshot) Decision {
	// Anything but a plain season-1 numbering scheme is rejected outright;
	// specials and absolute-numbered seasons carry no usable progress signal.
	if in.Season != 1 {
		return noOp(ReasonUnsupportedSeason)
	}

	if in.Direction == models.DirectionCorrection {
		return reconcileCorrection(in, snap)
	}
	return reconcileForward(in, snap)
}

func reconcileForward(in Input, snap *anilist.Snapshot) Decision {
	if entry, ok := snap.FindInBucket(anilist.StatusCurrent, in.MediaID); ok {
		// Progress never regresses via forward-playback events.
		if entry.Progress >= in.Episode {
			return noOp(ReasonAlreadyAtProgress)
		}
		if entry.Episodes != nil && *entry.Episodes < in.Episode {
			return noOp(ReasonExceedsMax)
		}
		status := anilist.StatusCurrent
		if entry.Episodes != nil && in.Episode == *entry.Episodes {
			// Reaching the last known episode completes the show in the same
			// mutation as the progress update.
			status = anilist.StatusCompleted
		}
		return Decision{
			Kind:     DecisionAdvance,
			EntryID:  entry.ID,
			MediaID:  in.MediaID,
			Progress: in.Episode,
			Status:   status,
		}
	}

	if entry, ok := snap.FindInBucket(anilist.StatusPlanning, in.MediaID); ok {
		// A Planning entry carries no progress history to trust, so only a
		// first episode promotes it.
		if in.Episode != 1 {
			return noOp(ReasonNotFirstEpisode)
		}
		status := anilist.StatusCurrent
		if entry.Episodes != nil && *entry.Episodes == 1 {
			status = anilist.StatusCompleted
		}
		return Decision{
			Kind:     DecisionTransition,
			EntryID:  entry.ID,
			MediaID:  in.MediaID,
			Progress: 1,
			Status:   status,
		}
	}

	if !in.AutoAdd {
		return noOp(ReasonNotTracked)
	}
	if in.Episode != 1 {
		// Auto-adding mid-series would fabricate progress history.
		return noOp(ReasonMidSeriesAutoAdd)
	}
	status := anilist.StatusCurrent
	if in.EpisodeTotal != nil && *in.EpisodeTotal == 1 {
		status = anilist.StatusCompleted
	}
	return Decision{
		Kind:     DecisionCreate,
		MediaID:  in.MediaID,
		Progress: 1,
		Status:   status,
	}
}

// reconcileCorrection handles "episode toggled back to unwatched". The
// correction path is deliberately conservative: it only ever resets progress
// and never removes an entry or downgrades its status, since unwatched
// signals can arrive per-episode even when a whole season was bulk-marked.
func reconcileCorrection(in Input, snap *anilist.Snapshot) Decision {
	entry, _, ok := snap.Find(in.MediaID)
	if !ok {
		return noOp(ReasonNothingToReset)
	}
	if entry.Progress == 0 {
		return noOp(ReasonAlreadyAtProgress)
	}
	return Decision{
		Kind:    DecisionReset,
		EntryID: entry.ID,
		MediaID: in.MediaID,
	}
}
