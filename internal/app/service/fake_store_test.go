package service

import (
	"context"
	"sort"
	"sync"

	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/repository"
)

// memoryStore enforces short_code uniqueness at insert time and applies
// RecordClick atomically, like the Postgres repositories do.
type memoryStore struct {
	mu     sync.Mutex
	nextID uint
	urls   map[string]*model.ShortenedURL
	clicks []model.URLClick

	// Hooks let tests inject failures or races.
	existsFn func(code string) (exists, handled bool, err error)
	createFn func(url *model.ShortenedURL) (handled bool, err error)
	recordFn func(click *model.URLClick) (handled bool, err error)

	creates int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{urls: make(map[string]*model.ShortenedURL)}
}

func (m *memoryStore) Create(_ context.Context, url *model.ShortenedURL) error {
	if m.createFn != nil {
		if handled, err := m.createFn(url); handled {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.urls[url.ShortCode]; ok {
		return repository.ErrShortCodeTaken
	}
	m.nextID++
	url.ID = m.nextID
	stored := *url
	m.urls[url.ShortCode] = &stored
	m.creates++
	return nil
}

func (m *memoryStore) ExistsByCode(_ context.Context, code string) (bool, error) {
	if m.existsFn != nil {
		if exists, handled, err := m.existsFn(code); handled {
			return exists, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.urls[code]
	return ok, nil
}

func (m *memoryStore) GetByCode(_ context.Context, code string) (*model.ShortenedURL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.urls[code]
	if !ok {
		return nil, repository.ErrURLNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryStore) GetByCodeAndOwner(_ context.Context, code, userID string) (*model.ShortenedURL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.urls[code]
	if !ok || u.UserID != userID {
		return nil, repository.ErrURLNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryStore) ListByOwner(_ context.Context, userID string) ([]model.ShortenedURL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]model.ShortenedURL, 0)
	for _, u := range m.urls {
		if u.UserID == userID {
			result = append(result, *u)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *memoryStore) RecordClick(_ context.Context, click *model.URLClick) error {
	if m.recordFn != nil {
		if handled, err := m.recordFn(click); handled {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.urls {
		if u.ID == click.ShortenedURLID {
			u.ClickCount++
			click.ID = uint(len(m.clicks) + 1)
			m.clicks = append(m.clicks, *click)
			return nil
		}
	}
	return repository.ErrURLNotFound
}

func (m *memoryStore) ListByShortenedURL(_ context.Context, shortenedURLID uint) ([]model.URLClick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.URLClick
	for _, c := range m.clicks {
		if c.ShortenedURLID == shortenedURLID {
			result = append(result, c)
		}
	}
	return result, nil
}

func (m *memoryStore) clickCount(code string) (int64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.urls[code]
	if !ok {
		return 0, 0
	}
	rows := 0
	for _, c := range m.clicks {
		if c.ShortenedURLID == u.ID {
			rows++
		}
	}
	return u.ClickCount, rows
}

// sequenceGenerator replays codes in order, then repeats the last one.
type sequenceGenerator struct {
	mu    sync.Mutex
	codes []string
	calls int
}

func (g *sequenceGenerator) NewCode() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	if i >= len(g.codes) {
		i = len(g.codes) - 1
	}
	g.calls++
	return g.codes[i], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.ClickEvent
	err    error
}

func (n *recordingNotifier) Publish(event model.ClickEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}
