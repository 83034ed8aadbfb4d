// Package notify ingests feedback events from the feed channel, drops
// duplicates, retains a bounded history, and decides at ingestion whether a
// notification plays out loud. The store is the sole mutator of its
// notifications; callers only ever see copies.
package notify

import (
	"hash/fnv"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsvox/opsvox/pkg/audio"
	"github.com/opsvox/opsvox/pkg/metrics"
	"github.com/opsvox/opsvox/pkg/protocol"
	"github.com/opsvox/opsvox/pkg/settings"
)

const (
	defaultDedupWindow    = 30 * time.Second
	defaultMaxRetained    = 50
	defaultMaxAge         = time.Hour
	defaultSweepInterval  = time.Minute
	defaultMaxAutoPlayAge = 2 * time.Minute
)

// Player is the playback surface the store drives. playback.Manager
// satisfies it.
type Player interface {
	PlayTone()
	PlayAudio(encoded, id string)
}

// Notification is one retained feedback event. Timestamp is the sender's
// report, not the arrival time.
type Notification struct {
	ID                string
	Timestamp         time.Time
	Summary           string
	TeamID            string
	RoleID            string
	Audio             string
	TeamNameAudio     string
	TeamNameFormatted string
	IsRead            bool
	IsPlayed          bool
}

// Config wires a Store. Player and Settings are required; durations and
// counts get defaults in New.
type Config struct {
	Player   Player
	Settings *settings.Store
	Logger   *slog.Logger

	// DedupWindow within which a repeated event is dropped. Default 30s.
	DedupWindow time.Duration
	// MaxRetained caps the history; oldest evicted first. Default 50.
	MaxRetained int
	// MaxAge beyond which the sweep discards notifications. Default 1h.
	MaxAge time.Duration
	// SweepInterval between age sweeps. Default 60s.
	SweepInterval time.Duration
	// MaxAutoPlayAge beyond which voice and team_name events are stored
	// silently. Default 2m.
	MaxAutoPlayAge time.Duration

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// Store is the notification deduplicator and history.
type Store struct {
	cfg Config

	mu    sync.Mutex
	items []*Notification // oldest first
	seen  map[uint64]time.Time
	stop  chan struct{}
	once  sync.Once
}

func New(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = defaultDedupWindow
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = defaultMaxRetained
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.MaxAutoPlayAge <= 0 {
		cfg.MaxAutoPlayAge = defaultMaxAutoPlayAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		cfg:  cfg,
		seen: make(map[uint64]time.Time),
		stop: make(chan struct{}),
	}
}

// Start launches the periodic age sweep. Close stops it.
func (s *Store) Start() {
	go func() {
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

func (s *Store) Close() {
	s.once.Do(func() { close(s.stop) })
}

// Ingest processes one decoded feedback event. It returns the stored
// notification, or nil when the event was dropped as a duplicate.
func (s *Store) Ingest(ev protocol.FeedbackEvent) *Notification {
	now := s.cfg.Now()
	payload, err := audio.DecodePCM16Bytes(ev.AudioB64)
	if err != nil {
		// The key falls back to the summary alone; playback will fail later
		// and log there.
		payload = nil
	}
	key := dedupKey(ev.Summary, payload)

	s.mu.Lock()
	s.pruneSeenLocked(now)
	if last, ok := s.seen[key]; ok && now.Sub(last) < s.cfg.DedupWindow {
		s.mu.Unlock()
		metrics.DuplicatesDropped.Inc()
		s.cfg.Logger.Debug("duplicate feedback dropped", "summary", ev.Summary)
		return nil
	}
	s.seen[key] = now

	ts := now
	if ev.TimestampMS > 0 {
		ts = time.UnixMilli(ev.TimestampMS)
	}
	n := &Notification{
		ID:                uuid.NewString(),
		Timestamp:         ts,
		Summary:           ev.Summary,
		TeamID:            ev.TeamID,
		RoleID:            ev.RoleID,
		Audio:             ev.AudioB64,
		TeamNameAudio:     ev.TeamNameAudioB64,
		TeamNameFormatted: ev.TeamNameFormatted,
	}
	s.items = append(s.items, n)
	for len(s.items) > s.cfg.MaxRetained {
		s.items = s.items[1:]
	}
	stored := *n
	s.mu.Unlock()

	s.autoPlay(&stored, now)
	return &stored
}

// autoPlay applies the playback decision exactly once, at ingestion. The
// decision never changes retroactively when the mode changes later.
func (s *Store) autoPlay(n *Notification, now time.Time) {
	mode := s.cfg.Settings.OutputMode()
	switch mode {
	case settings.ModeOff:
		return
	case settings.ModeTone:
		metrics.AutoPlays.WithLabelValues(string(mode)).Inc()
		s.cfg.Player.PlayTone()
		return
	}

	if age := now.Sub(n.Timestamp); age > s.cfg.MaxAutoPlayAge {
		s.cfg.Logger.Info("feedback too old for auto-play, stored silently",
			"id", n.ID, "age", age.String())
		return
	}
	payload := n.Audio
	if mode == settings.ModeTeamName {
		payload = n.TeamNameAudio
	}
	if payload == "" {
		return
	}
	metrics.AutoPlays.WithLabelValues(string(mode)).Inc()
	s.cfg.Player.PlayAudio(payload, n.ID)
}

// Play plays a retained notification's feedback audio regardless of its age
// or the output mode. IsPlayed is set on completion, through MarkPlayed.
func (s *Store) Play(id string) bool {
	s.mu.Lock()
	var payload string
	found := false
	for _, n := range s.items {
		if n.ID == id {
			payload = n.Audio
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found || payload == "" {
		return false
	}
	s.cfg.Player.PlayAudio(payload, id)
	return true
}

// MarkPlayed records completed playback for id. Wire it to the playback
// manager's completion callback.
func (s *Store) MarkPlayed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ID == id {
			n.IsPlayed = true
			return
		}
	}
}

// MarkRead flags a notification as seen by the operator.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ID == id {
			n.IsRead = true
			return true
		}
	}
	return false
}

// List returns copies of the retained notifications, newest first.
func (s *Store) List() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, 0, len(s.items))
	for i := len(s.items) - 1; i >= 0; i-- {
		out = append(out, *s.items[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Len reports the retained count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Clear empties the history. The dedup window is unaffected: a repeat of a
// just-cleared event is still a duplicate.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
}

// Sweep discards notifications older than MaxAge, regardless of count
// pressure.
func (s *Store) Sweep() {
	now := s.cfg.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneSeenLocked(now)
	kept := s.items[:0]
	for _, n := range s.items {
		if now.Sub(n.Timestamp) <= s.cfg.MaxAge {
			kept = append(kept, n)
		}
	}
	s.items = kept
}

func (s *Store) pruneSeenLocked(now time.Time) {
	for key, last := range s.seen {
		if now.Sub(last) >= s.cfg.DedupWindow {
			delete(s.seen, key)
		}
	}
}

// dedupKey fingerprints an event by its summary plus the shape of its audio
// payload: length and the first and last 16 decoded bytes. Hashing the whole
// payload would be wasted work on multi-second clips.
func dedupKey(summary string, payload []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(summary))
	_, _ = h.Write([]byte(strconv.Itoa(len(payload))))
	if n := len(payload); n > 0 {
		head := payload[:min(16, n)]
		tail := payload[max(0, n-16):]
		_, _ = h.Write(head)
		_, _ = h.Write(tail)
	}
	return h.Sum64()
}
