package anilist

// MediaListStatus is an AniList list status bucket.
type MediaListStatus string

const (
	StatusCurrent   MediaListStatus = "CURRENT"
	StatusPlanning  MediaListStatus = "PLANNING"
	StatusCompleted MediaListStatus = "COMPLETED"
	StatusPaused    MediaListStatus = "PAUSED"
	StatusDropped   MediaListStatus = "DROPPED"
)

// Viewer is the authorized AniList profile.
type Viewer struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Entry is one tracked show on a user's list. Episodes is nil while AniList
// has not finished cataloging the show.
type Entry struct {
	ID       int    `json:"id"`
	MediaID  int    `json:"mediaId"`
	Progress int    `json:"progress"`
	Episodes *int   `json:"episodes,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Bucket is a named status partition of a user's list.
type Bucket struct {
	Name    string          `json:"name"`
	Status  MediaListStatus `json:"status"`
	Entries []Entry         `json:"entries"`
}

// Snapshot is a user's full tracked-list state, fetched fresh per
// reconciliation and never cached across calls.
type Snapshot struct {
	Viewer  Viewer   `json:"viewer"`
	Buckets []Bucket `json:"buckets"`
}

// Bucket returns the bucket for a status, or nil if absent.
func (s *Snapshot) Bucket(status MediaListStatus) *Bucket {
	for i := range s.Buckets {
		if s.Buckets[i].Status == status {
			return &s.Buckets[i]
		}
	}
	return nil
}

// FindInBucket returns the entry for mediaID within a status bucket.
func (s *Snapshot) FindInBucket(status MediaListStatus, mediaID int) (*Entry, bool) {
	b := s.Bucket(status)
	if b == nil {
		return nil, false
	}
	for i := range b.Entries {
		if b.Entries[i].MediaID == mediaID {
			return &b.Entries[i], true
		}
	}
	return nil, false
}

// Find searches every bucket for an entry matching mediaID.
func (s *Snapshot) Find(mediaID int) (*Entry, MediaListStatus, bool) {
	for i := range s.Buckets {
		for j := range s.Buckets[i].Entries {
			if s.Buckets[i].Entries[j].MediaID == mediaID {
				return &s.Buckets[i].Entries[j], s.Buckets[i].Status, true
			}
		}
	}
	return nil, "", false
}

// SaveEntryInput describes one SaveMediaListEntry mutation. Exactly one of
// EntryID (update) or MediaID (create) drives targeting; Status empty means
// "leave the bucket alone".
type SaveEntryInput struct {
	EntryID  int
	MediaID  int
	Progress int
	Status   MediaListStatus
}
