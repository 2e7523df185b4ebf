package scrobbler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anibridge/config"
	"anibridge/models"
	"anibridge/services/anilist"
	"anibridge/services/jellyfin"
)

type fakeResolver struct {
	mediaID int
	err     error
	calls   int
}

func (f *fakeResolver) ResolveProviderID(ctx context.Context, serverURL, seriesID, providerKey string) (int, error) {
	f.calls++
	return f.mediaID, f.err
}

type fakeLists struct {
	snap         *anilist.Snapshot
	snapErr      error
	episodes     *int
	episodesErr  error
	episodeCalls int
}

func (f *fakeLists) FetchSnapshot(ctx context.Context, token string) (*anilist.Snapshot, error) {
	return f.snap, f.snapErr
}

func (f *fakeLists) MediaEpisodes(ctx context.Context, token string, mediaID int) (*int, error) {
	f.episodeCalls++
	return f.episodes, f.episodesErr
}

type fakeHistory struct {
	records []models.ScrobbleRecord
}

func (f *fakeHistory) Record(ctx context.Context, rec models.ScrobbleRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func anilistCfg(autoAdd bool) config.AniListSettings {
	return config.AniListSettings{Token: "shared-token", AutoAdd: autoAdd}
}

func forwardEvent(episode int) models.ScrobbleEvent {
	return models.ScrobbleEvent{
		Kind:      models.NotificationPlaybackStop,
		Direction: models.DirectionForward,
		Username:  "alice",
		SeriesID:  "jf-series-1",
		Series:    "Mushishi",
		Season:    1,
		Episode:   episode,
	}
}

func newTestService(cfg config.AniListSettings, resolver *fakeResolver, lists *fakeLists, saver *fakeSaver, hist *fakeHistory) *Service {
	applier := NewApplier(saver, testPolicy())
	var recorder historyRecorder
	if hist != nil {
		recorder = hist
	}
	return NewService(cfg, resolver, lists, applier, recorder)
}

func TestScrobbleAdvancesAndRecords(t *testing.T) {
	resolver := &fakeResolver{mediaID: 100}
	lists := &fakeLists{snap: snapshotWith(watching(anilist.Entry{ID: 10, MediaID: 100, Progress: 3, Episodes: intp(12)}))}
	saver := &fakeSaver{}
	hist := &fakeHistory{}
	svc := newTestService(anilistCfg(false), resolver, lists, saver, hist)

	res := svc.Scrobble(context.Background(), forwardEvent(4))
	assert.True(t, res.Success)
	assert.Equal(t, models.SeverityInfo, res.Severity)
	assert.Contains(t, res.Message, "advanced Mushishi to episode 4")

	require.Len(t, saver.calls, 1)
	assert.Equal(t, 10, saver.calls[0].EntryID)
	assert.Equal(t, 4, saver.calls[0].Progress)

	require.Len(t, hist.records, 1)
	rec := hist.records[0]
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, 100, rec.MediaID)
	assert.Equal(t, models.ActionAdvance, rec.Action)
	assert.True(t, rec.Success)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestScrobbleMissingTokenWarnsWithoutNetwork(t *testing.T) {
	resolver := &fakeResolver{mediaID: 100}
	lists := &fakeLists{snap: snapshotWith()}
	svc := newTestService(config.AniListSettings{}, resolver, lists, &fakeSaver{}, nil)

	res := svc.Scrobble(context.Background(), forwardEvent(4))
	assert.False(t, res.Success)
	assert.Equal(t, models.SeverityWarn, res.Severity)
	assert.Contains(t, res.Message, "no AniList token")
	assert.Zero(t, resolver.calls)
}

func TestScrobblePerUserTokenBeatsShared(t *testing.T) {
	cfg := config.AniListSettings{
		Token:      "shared-token",
		UserTokens: []config.UserToken{{Username: "Alice", Token: "alice-token"}},
	}
	var seenToken string
	resolver := &fakeResolver{mediaID: 100}
	lists := &fakeLists{snap: snapshotWith(watching(anilist.Entry{ID: 10, MediaID: 100, Progress: 3}))}
	saver := &fakeSaver{}
	svc := NewService(cfg, resolver, &tokenSpyLists{inner: lists, seen: &seenToken}, NewApplier(saver, testPolicy()), nil)

	res := svc.Scrobble(context.Background(), forwardEvent(4))
	assert.True(t, res.Success)
	assert.Equal(t, "alice-token", seenToken, "username match is case-insensitive")
}

type tokenSpyLists struct {
	inner *fakeLists
	seen  *string
}

func (s *tokenSpyLists) FetchSnapshot(ctx context.Context, token string) (*anilist.Snapshot, error) {
	*s.seen = token
	return s.inner.FetchSnapshot(ctx, token)
}

func (s *tokenSpyLists) MediaEpisodes(ctx context.Context, token string, mediaID int) (*int, error) {
	return s.inner.MediaEpisodes(ctx, token, mediaID)
}

func TestScrobbleSeasonGuardSkipsNetwork(t *testing.T) {
	resolver := &fakeResolver{mediaID: 100}
	lists := &fakeLists{snap: snapshotWith()}
	svc := newTestService(anilistCfg(false), resolver, lists, &fakeSaver{}, nil)

	ev := forwardEvent(4)
	ev.Season = 0
	res := svc.Scrobble(context.Background(), ev)
	assert.False(t, res.Success)
	assert.Equal(t, models.SeverityWarn, res.Severity)
	assert.Zero(t, resolver.calls)
}

func TestScrobbleUnresolvedSeriesWarns(t *testing.T) {
	resolver := &fakeResolver{err: fmt.Errorf("series jf-series-1: %w", jellyfin.ErrNotResolved)}
	lists := &fakeLists{snap: snapshotWith()}
	svc := newTestService(anilistCfg(false), resolver, lists, &fakeSaver{}, nil)

	res := svc.Scrobble(context.Background(), forwardEvent(4))
	assert.False(t, res.Success)
	assert.Equal(t, models.SeverityWarn, res.Severity)
	assert.Contains(t, res.Message, "could not resolve an AniList id")
}

func TestScrobbleMediaServerOutageIsError(t *testing.T) {
	resolver := &fakeResolver{err: fmt.Errorf("items lookup: %w", jellyfin.ErrUpstream)}
	lists := &fakeLists{snap: snapshotWith()}
	svc := newTestService(anilistCfg(false), resolver, lists, &fakeSaver{}, nil)

	res := svc.Scrobble(context.Background(), forwardEvent(4))
	assert.False(t, res.Success)
	assert.Equal(t, models.SeverityError, res.Severity)
}

func TestScrobbleRejectedTokenIsError(t *testing.T) {
	resolver := &fakeResolver{mediaID: 100}
	lists := &fakeLists{snapErr: fmt.Errorf("viewer: %w", anilist.ErrAuth)}
	svc := newTestService(anilistCfg(false), resolver, lists, &fakeSaver{}, nil)

	res := svc.Scrobble(context.Background(), forwardEvent(4))
	assert.False(t, res.Success)
	assert.Equal(t, models.SeverityError, res.Severity)
	assert.Contains(t, res.Message, "rejected the token")
}

func TestScrobbleBenignNoOpIsSuccess(t *testing.T) {
	resolver := &fakeResolver{mediaID: 100}
	lists := &fakeLists{snap: snapshotWith(watching(anilist.Entry{ID: 10, MediaID: 100, Progress: 7}))}
	saver := &fakeSaver{}
	hist := &fakeHistory{}
	svc := newTestService(anilistCfg(false), resolver, lists, saver, hist)

	res := svc.Scrobble(context.Background(), forwardEvent(4))
	assert.True(t, res.Success)
	assert.Equal(t, models.SeverityInfo, res.Severity)
	assert.Empty(t, saver.calls)

	require.Len(t, hist.records, 1)
	assert.Equal(t, models.ActionNone, hist.records[0].Action)
}

func TestScrobbleSuspiciousNoOpWarns(t *testing.T) {
	resolver := &fakeResolver{mediaID: 100}
	lists := &fakeLists{snap: snapshotWith(watching(anilist.Entry{ID: 10, MediaID: 100, Progress: 3, Episodes: intp(12)}))}
	svc := newTestService(anilistCfg(false), resolver, lists, &fakeSaver{}, nil)

	res := svc.Scrobble(context.Background(), forwardEvent(13))
	assert.False(t, res.Success)
	assert.Equal(t, models.SeverityWarn, res.Severity)
	assert.Contains(t, res.Message, ReasonExceedsMax)
}

func TestScrobbleAutoAddFetchesEpisodeCount(t *testing.T) {
	resolver := &fakeResolver{mediaID: 300}
	lists := &fakeLists{snap: snapshotWith(), episodes: intp(1)}
	saver := &fakeSaver{}
	svc := newTestService(anilistCfg(true), resolver, lists, saver, nil)

	res := svc.Scrobble(context.Background(), forwardEvent(1))
	assert.True(t, res.Success)
	assert.Equal(t, 1, lists.episodeCalls)

	require.Len(t, saver.calls, 1)
	assert.Equal(t, 300, saver.calls[0].MediaID)
	assert.Equal(t, anilist.StatusCompleted, saver.calls[0].Status)
}

func TestScrobbleAutoAddSurvivesEpisodeCountFailure(t *testing.T) {
	resolver := &fakeResolver{mediaID: 300}
	lists := &fakeLists{snap: snapshotWith(), episodesErr: fmt.Errorf("media: %w", anilist.ErrUpstream)}
	saver := &fakeSaver{}
	svc := newTestService(anilistCfg(true), resolver, lists, saver, nil)

	res := svc.Scrobble(context.Background(), forwardEvent(1))
	assert.True(t, res.Success)

	require.Len(t, saver.calls, 1)
	assert.Equal(t, anilist.StatusCurrent, saver.calls[0].Status, "unknown total starts as Watching")
}

func TestScrobbleEpisodeCountNotFetchedWhenTracked(t *testing.T) {
	resolver := &fakeResolver{mediaID: 100}
	lists := &fakeLists{snap: snapshotWith(watching(anilist.Entry{ID: 10, MediaID: 100, Progress: 0, Episodes: intp(12)}))}
	svc := newTestService(anilistCfg(true), resolver, lists, &fakeSaver{}, nil)

	svc.Scrobble(context.Background(), forwardEvent(1))
	assert.Zero(t, lists.episodeCalls)
}

func TestScrobbleApplyFailureIsError(t *testing.T) {
	resolver := &fakeResolver{mediaID: 100}
	lists := &fakeLists{snap: snapshotWith(watching(anilist.Entry{ID: 10, MediaID: 100, Progress: 3}))}
	upstream := fmt.Errorf("save: %w", anilist.ErrUpstream)
	saver := &fakeSaver{script: []error{upstream, upstream, upstream}}
	hist := &fakeHistory{}
	svc := newTestService(anilistCfg(false), resolver, lists, saver, hist)

	res := svc.Scrobble(context.Background(), forwardEvent(4))
	assert.False(t, res.Success)
	assert.Equal(t, models.SeverityError, res.Severity)

	require.Len(t, hist.records, 1)
	assert.Equal(t, models.ActionAdvance, hist.records[0].Action)
	assert.False(t, hist.records[0].Success)
}

func TestScrobbleCorrectionResets(t *testing.T) {
	resolver := &fakeResolver{mediaID: 100}
	lists := &fakeLists{snap: snapshotWith(completed(anilist.Entry{ID: 30, MediaID: 100, Progress: 12, Episodes: intp(12)}))}
	saver := &fakeSaver{}
	svc := newTestService(anilistCfg(false), resolver, lists, saver, nil)

	ev := forwardEvent(12)
	ev.Kind = models.NotificationUserDataSaved
	ev.Direction = models.DirectionCorrection
	res := svc.Scrobble(context.Background(), ev)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "reset progress")

	require.Len(t, saver.calls, 1)
	assert.Equal(t, 30, saver.calls[0].EntryID)
	assert.Equal(t, 0, saver.calls[0].Progress)
	assert.Empty(t, saver.calls[0].Status)
}
