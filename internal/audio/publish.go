package audio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrClipNotFound = errors.New("clip not found")

// Publisher turns a synthesized clip into a location the telephony provider can play.
type Publisher interface {
	Publish(ctx context.Context, clip Clip) (string, error)
}

// InlinePublisher embeds the clip in the markup as a data URI.
type InlinePublisher struct{}

func (InlinePublisher) Publish(_ context.Context, clip Clip) (string, error) {
	if clip.Len() == 0 {
		return "", errors.New("empty clip")
	}
	return clip.DataURI(), nil
}

type storedClip struct {
	clip      Clip
	expiresAt time.Time
}

// MemoryStore keeps clips in process for a short TTL and serves them under baseURL.
type MemoryStore struct {
	mu      sync.RWMutex
	clips   map[string]storedClip
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

// NewMemoryStore creates a store whose published URLs are baseURL + "/" + id + extension.
func NewMemoryStore(baseURL string, ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryStore{
		clips:   make(map[string]storedClip),
		ttl:     ttl,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

func (s *MemoryStore) Publish(_ context.Context, clip Clip) (string, error) {
	if clip.Len() == 0 {
		return "", errors.New("empty clip")
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.clips[id] = storedClip{clip: clip, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return s.baseURL + "/" + id + clip.Extension(), nil
}

// Get returns a live clip by id; a trailing file extension is ignored.
func (s *MemoryStore) Get(id string) (Clip, error) {
	if i := strings.LastIndexByte(id, '.'); i > 0 {
		id = id[:i]
	}
	s.mu.RLock()
	c, ok := s.clips[id]
	s.mu.RUnlock()
	if !ok || s.now().After(c.expiresAt) {
		return Clip{}, ErrClipNotFound
	}
	return c.clip, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clips)
}

func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evictExpired()
			}
		}
	}()
}

func (s *MemoryStore) evictExpired() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clips {
		if now.After(c.expiresAt) {
			delete(s.clips, id)
		}
	}
}
