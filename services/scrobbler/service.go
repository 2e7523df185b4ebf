package scrobbler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"anibridge/config"
	"anibridge/models"
	"anibridge/services/anilist"
	"anibridge/services/jellyfin"
)

// ProviderKey is the Jellyfin provider-id tag carrying the AniList id.
const ProviderKey = "AniList"

// catalogResolver resolves a media-server series to its external catalog id.
type catalogResolver interface {
	ResolveProviderID(ctx context.Context, serverURL, seriesID, providerKey string) (int, error)
}

// listReader covers the AniList read operations the service needs.
type listReader interface {
	FetchSnapshot(ctx context.Context, token string) (*anilist.Snapshot, error)
	MediaEpisodes(ctx context.Context, token string, mediaID int) (*int, error)
}

// historyRecorder persists scrobble outcomes for the audit surface.
type historyRecorder interface {
	Record(ctx context.Context, rec models.ScrobbleRecord) error
}

// Service runs the full reconciliation pipeline for one normalized event:
// credentials, catalog id, fresh snapshot, decision, mutation, result.
type Service struct {
	anilistCfg config.AniListSettings
	resolver   catalogResolver
	lists      listReader
	applier    *Applier
	history    historyRecorder

	// Advisory per-show locks serializing reconcile+apply for the same
	// AniList media id. Entries are never evicted; the map is bounded by the
	// number of distinct shows seen in one process lifetime.
	lockMu sync.Mutex
	locks  map[int]*sync.Mutex
}

// NewService wires the reconciliation pipeline. history may be nil.
func NewService(anilistCfg config.AniListSettings, resolver catalogResolver, lists listReader, applier *Applier, history historyRecorder) *Service {
	return &Service{
		anilistCfg: anilistCfg,
		resolver:   resolver,
		lists:      lists,
		applier:    applier,
		history:    history,
		locks:      make(map[int]*sync.Mutex),
	}
}

func (s *Service) mediaLock(mediaID int) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu, ok := s.locks[mediaID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[mediaID] = mu
	}
	return mu
}

func result(success bool, severity models.Severity, format string, args ...any) models.ScrobbleResult {
	return models.ScrobbleResult{
		Success:  success,
		Message:  fmt.Sprintf(format, args...),
		Severity: severity,
	}
}

// noOpResult maps a reconciler no-op reason onto its result severity. Benign
// reasons (idempotent repeats, untracked shows) are informational; the rest
// point at a setup or input problem worth surfacing.
func noOpResult(reason string) models.ScrobbleResult {
	switch reason {
	case ReasonAlreadyAtProgress, ReasonNotTracked, ReasonNothingToReset:
		return result(true, models.SeverityInfo, "skipped: %s", reason)
	default:
		return result(false, models.SeverityWarn, "skipped: %s", reason)
	}
}

// Scrobble processes one normalized event end to end. Every failure folds
// into the returned result; nothing escapes to the listener as a raw error.
func (s *Service) Scrobble(ctx context.Context, event models.ScrobbleEvent) models.ScrobbleResult {
	res, action, mediaID := s.scrobble(ctx, event)
	s.record(ctx, event, mediaID, action, res)
	return res
}

func (s *Service) scrobble(ctx context.Context, event models.ScrobbleEvent) (models.ScrobbleResult, models.ScrobbleAction, int) {
	token, ok := s.anilistCfg.TokenFor(event.Username)
	if !ok {
		return result(false, models.SeverityWarn, "no AniList token configured for user %q", event.Username), models.ActionNone, 0
	}

	// The season guard costs nothing; check it before any network round-trip.
	if event.Season != 1 {
		return noOpResult(ReasonUnsupportedSeason), models.ActionNone, 0
	}

	// Catalog resolution and the snapshot read are independent; run them
	// concurrently.
	var (
		wg         conc.WaitGroup
		mediaID    int
		resolveErr error
		snap       *anilist.Snapshot
		snapErr    error
	)
	wg.Go(func() {
		mediaID, resolveErr = s.resolver.ResolveProviderID(ctx, event.ServerURL, event.SeriesID, ProviderKey)
	})
	wg.Go(func() {
		snap, snapErr = s.lists.FetchSnapshot(ctx, token)
	})
	wg.Wait()

	if resolveErr != nil {
		if errors.Is(resolveErr, jellyfin.ErrUpstream) {
			return result(false, models.SeverityError, "media server lookup failed: %v", resolveErr), models.ActionNone, 0
		}
		return result(false, models.SeverityWarn, "could not resolve an AniList id for %q: %v", event.Series, resolveErr), models.ActionNone, 0
	}
	if snapErr != nil {
		if errors.Is(snapErr, anilist.ErrAuth) {
			return result(false, models.SeverityError, "AniList rejected the token for user %q: %v", event.Username, snapErr), models.ActionNone, mediaID
		}
		return result(false, models.SeverityError, "AniList list fetch failed: %v", snapErr), models.ActionNone, mediaID
	}

	in := Input{
		MediaID:   mediaID,
		Episode:   event.Episode,
		Season:    event.Season,
		AutoAdd:   s.anilistCfg.AutoAdd,
		Direction: event.Direction,
	}

	// The create path needs the show's total episode count to decide whether
	// a one-episode show completes immediately. Fetch it on demand; an
	// unknown count just means the entry starts as Watching.
	if event.Direction == models.DirectionForward && event.Episode == 1 && s.anilistCfg.AutoAdd {
		if _, _, tracked := snap.Find(mediaID); !tracked {
			total, err := s.lists.MediaEpisodes(ctx, token, mediaID)
			if err != nil {
				log.Printf("[scrobbler] episode count lookup failed for media %d: %v", mediaID, err)
			} else {
				in.EpisodeTotal = total
			}
		}
	}

	mu := s.mediaLock(mediaID)
	mu.Lock()
	defer mu.Unlock()

	decision := Reconcile(in, snap)
	if decision.Kind == DecisionNoOp {
		return noOpResult(decision.Reason), models.ActionNone, mediaID
	}

	applied, err := s.applier.Apply(ctx, token, decision)
	if err != nil {
		if errors.Is(err, anilist.ErrAuth) {
			return result(false, models.SeverityError, "AniList rejected the token for user %q: %v", event.Username, err), actionFor(decision.Kind), mediaID
		}
		return result(false, models.SeverityError, "AniList update failed: %v", err), actionFor(decision.Kind), mediaID
	}

	return successResult(event, decision, applied), actionFor(decision.Kind), mediaID
}

func actionFor(kind DecisionKind) models.ScrobbleAction {
	switch kind {
	case DecisionAdvance:
		return models.ActionAdvance
	case DecisionTransition:
		return models.ActionPromote
	case DecisionCreate:
		return models.ActionCreate
	case DecisionReset:
		return models.ActionReset
	default:
		return models.ActionNone
	}
}

func successResult(event models.ScrobbleEvent, decision Decision, applied *anilist.Entry) models.ScrobbleResult {
	name := event.Series
	if name == "" {
		name = fmt.Sprintf("media %d", decision.MediaID)
	}
	switch decision.Kind {
	case DecisionAdvance:
		if decision.Status == anilist.StatusCompleted {
			return result(true, models.SeverityInfo, "completed %s at episode %d", name, applied.Progress)
		}
		return result(true, models.SeverityInfo, "advanced %s to episode %d", name, applied.Progress)
	case DecisionTransition:
		return result(true, models.SeverityInfo, "promoted %s from planning at episode %d", name, applied.Progress)
	case DecisionCreate:
		return result(true, models.SeverityInfo, "added %s to list at episode %d", name, applied.Progress)
	case DecisionReset:
		return result(true, models.SeverityInfo, "reset progress on %s", name)
	default:
		return result(true, models.SeverityInfo, "no change for %s", name)
	}
}

func (s *Service) record(ctx context.Context, event models.ScrobbleEvent, mediaID int, action models.ScrobbleAction, res models.ScrobbleResult) {
	if s.history == nil {
		return
	}
	rec := models.ScrobbleRecord{
		ID:        uuid.NewString(),
		Username:  event.Username,
		Series:    event.Series,
		SeriesID:  event.SeriesID,
		MediaID:   mediaID,
		Season:    event.Season,
		Episode:   event.Episode,
		Action:    action,
		Success:   res.Success,
		Message:   res.Message,
		Severity:  res.Severity,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.history.Record(ctx, rec); err != nil {
		log.Printf("[scrobbler] failed to record history: %v", err)
	}
}
