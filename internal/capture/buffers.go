// Package capture implements the per-speaker audio capture pipeline: it
// consumes decoded PCM chunks from a voice connection, accumulates them into
// per-speaker buffers, detects end-of-utterance via silence timeout and
// speaking-stop signals, vets finalized buffers with the level analyzer, and
// hands complete utterances off to a downstream consumer.
package capture

import (
	"sync"
	"time"
)

// Default capacity bounds for a single speaker buffer. A buffer exceeding
// either bound is force-flushed even without a detected silence gap, so a
// stuck stream cannot grow memory without limit.
const (
	DefaultMaxBufferBytes = 50 << 20 // 50 MiB
	DefaultMaxBufferAge   = 5 * time.Minute
)

// Key identifies one speaker buffer: a (guild, user) pair.
type Key struct {
	GuildID string
	UserID  string
}

// speakerBuffer accumulates decoded PCM for one speaker. Chunks are
// append-only between finalization events. The processing flag is the
// mutual-exclusion guard ensuring exactly one finalize path wins when the
// silence timeout and the stream-end signal race.
type speakerBuffer struct {
	chunks       [][]byte
	size         int
	username     string
	createdAt    time.Time
	lastActivity time.Time
	processing   bool
}

// BufferStore owns the Key → speaker buffer mapping for all guilds and
// enforces the capacity and age bounds. All methods are safe for concurrent
// use; the per-buffer processing flag serializes finalization per key.
type BufferStore struct {
	mu       sync.Mutex
	buffers  map[Key]*speakerBuffer
	maxBytes int
	maxAge   time.Duration
}

// NewBufferStore creates a store whose buffers are force-flushed once they
// exceed maxBytes accumulated PCM or maxAge since creation. Non-positive
// values fall back to the defaults.
func NewBufferStore(maxBytes int, maxAge time.Duration) *BufferStore {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBufferBytes
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxBufferAge
	}
	return &BufferStore{
		buffers:  make(map[Key]*speakerBuffer),
		maxBytes: maxBytes,
		maxAge:   maxAge,
	}
}

// Append adds a decoded chunk to the speaker's buffer, creating the buffer on
// first use, and refreshes the buffer's activity timestamp. The chunk slice
// is retained as-is; callers must not mutate it afterwards. Appends during an
// in-flight finalize open the speaker's next utterance — they are never mixed
// into the buffer being processed.
func (s *BufferStore) Append(key Key, chunk []byte, username string, now time.Time) {
	if len(chunk) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[key]
	if !ok {
		b = &speakerBuffer{createdAt: now}
		s.buffers[key] = b
	}
	if b.username == "" {
		b.username = username
	}
	if len(b.chunks) == 0 {
		// First chunk of a new utterance resets the age window.
		b.createdAt = now
	}
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
	b.lastActivity = now
}

// ShouldForceFlush reports whether the buffer for key has exceeded the
// configured size or age bound and must be finalized immediately.
func (s *BufferStore) ShouldForceFlush(key Key, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[key]
	if !ok || len(b.chunks) == 0 {
		return false
	}
	return b.size >= s.maxBytes || now.Sub(b.createdAt) >= s.maxAge
}

// LastActivity returns the arrival time of the most recent chunk for key and
// whether the buffer currently holds any audio.
func (s *BufferStore) LastActivity(key Key) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[key]
	if !ok || len(b.chunks) == 0 {
		return time.Time{}, false
	}
	return b.lastActivity, true
}

// Finalize seals the buffer for key: it concatenates all chunks into one
// contiguous byte slice in append order, clears the chunk list, and marks the
// buffer as processing. It returns nil — without touching the buffer — when
// the buffer is empty or a finalize for this key is already in flight, so
// racing triggers produce exactly one non-nil result.
//
// The returned username is the display name recorded with the first
// attributed chunk. Callers must call Release once downstream processing for
// the returned bytes completes.
func (s *BufferStore) Finalize(key Key) (pcm []byte, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[key]
	if !ok || b.processing || len(b.chunks) == 0 {
		return nil, ""
	}

	b.processing = true
	combined := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		combined = append(combined, c...)
	}
	b.chunks = nil
	b.size = 0
	return combined, b.username
}

// Release clears the processing flag for key after downstream handling of a
// finalized buffer has completed, allowing the speaker's next utterance to be
// finalized. A release for an unknown key is a no-op.
func (s *BufferStore) Release(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buffers[key]; ok {
		b.processing = false
	}
}

// Discard drops the buffer for key entirely without handing it to any
// consumer. Used when a speaker's decoder stream fails or the speaker leaves
// the channel.
func (s *BufferStore) Discard(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, key)
}

// Teardown removes every buffer belonging to guildID and returns how many
// were dropped. Called when the guild's voice connection is destroyed; no
// buffer survives its owning connection.
func (s *BufferStore) Teardown(guildID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.buffers {
		if key.GuildID == guildID {
			delete(s.buffers, key)
			n++
		}
	}
	return n
}

// Keys returns the keys of all buffers currently holding audio. The snapshot
// is taken under the lock but may be stale by the time the caller acts on it;
// Finalize re-checks state per key.
func (s *BufferStore) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]Key, 0, len(s.buffers))
	for key, b := range s.buffers {
		if len(b.chunks) > 0 {
			keys = append(keys, key)
		}
	}
	return keys
}
