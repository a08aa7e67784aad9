package broadcast

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/viktordrukker/telegram-bot-ui/internal/ads"
	"github.com/viktordrukker/telegram-bot-ui/internal/telegram"
)

// memStore is an in-memory storage.Store with the same compare-and-set
// semantics as the SQLite implementation.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	adsByID  map[int64]*ads.Advertisement
	botsByID map[int64]*ads.Bot
	outcomes []ads.BroadcastOutcome
	chats    map[int64][]int64
}

func newMemStore() *memStore {
	return &memStore{
		adsByID:  map[int64]*ads.Advertisement{},
		botsByID: map[int64]*ads.Bot{},
		chats:    map[int64][]int64{},
	}
}

func (m *memStore) CreateAd(_ context.Context, ad *ads.Advertisement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ad.ID = m.nextID
	if ad.Status == "" {
		ad.Status = ads.StatusPending
	}
	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = time.Now()
	}
	cp := *ad
	m.adsByID[ad.ID] = &cp
	return nil
}

func (m *memStore) GetAd(_ context.Context, id int64) (*ads.Advertisement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ad, ok := m.adsByID[id]
	if !ok {
		return nil, fmt.Errorf("advertisement %d: %w", id, ads.ErrNotFound)
	}
	cp := *ad
	return &cp, nil
}

func (m *memStore) ListAds(_ context.Context, userID int64) ([]ads.Advertisement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ads.Advertisement
	for _, ad := range m.adsByID {
		if ad.UserID == userID {
			out = append(out, *ad)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) DeleteAd(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ad, ok := m.adsByID[id]
	if !ok {
		return fmt.Errorf("advertisement %d: %w", id, ads.ErrNotFound)
	}
	if ad.Status == ads.StatusBroadcasting {
		return fmt.Errorf("advertisement %d is broadcasting: %w", id, ads.ErrConflict)
	}
	delete(m.adsByID, id)
	return nil
}

func (m *memStore) Transition(_ context.Context, id int64, from []ads.Status, to ads.Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ad, ok := m.adsByID[id]
	if !ok {
		return fmt.Errorf("advertisement %d: %w", id, ads.ErrNotFound)
	}
	allowed := false
	for _, st := range from {
		if ad.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("advertisement %d is %s, cannot enter %s: %w", id, ad.Status, to, ads.ErrConflict)
	}
	ad.Status = to
	if to.Terminal() {
		t := at
		ad.CompletedAt = &t
	} else {
		ad.CompletedAt = nil
	}
	return nil
}

func (m *memStore) DueAds(_ context.Context, now time.Time) ([]ads.Advertisement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ads.Advertisement
	for _, ad := range m.adsByID {
		if ad.Status == ads.StatusPending && ad.ScheduledFor != nil && !ad.ScheduledFor.After(now) {
			out = append(out, *ad)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CreateBot(_ context.Context, b *ads.Bot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	b.ID = m.nextID
	if b.Status == "" {
		b.Status = ads.BotStopped
	}
	cp := *b
	m.botsByID[b.ID] = &cp
	return nil
}

func (m *memStore) GetBot(_ context.Context, id int64) (*ads.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.botsByID[id]
	if !ok {
		return nil, fmt.Errorf("bot %d: %w", id, ads.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) ListBots(_ context.Context, userID int64) ([]ads.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ads.Bot
	for _, b := range m.botsByID {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) RunningBots(_ context.Context, ids []int64) ([]ads.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ads.Bot
	for _, id := range ids {
		if b, ok := m.botsByID[id]; ok && b.Status == ads.BotRunning {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) SetBotStatus(_ context.Context, id int64, st ads.BotStatus, lastActive *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.botsByID[id]
	if !ok {
		return fmt.Errorf("bot %d: %w", id, ads.ErrNotFound)
	}
	b.Status = st
	if lastActive != nil {
		b.LastActive = lastActive
	}
	return nil
}

func (m *memStore) AppendOutcome(_ context.Context, o ads.BroadcastOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	return nil
}

func (m *memStore) OutcomesByAd(_ context.Context, adID int64) ([]ads.BroadcastOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ads.BroadcastOutcome
	for _, o := range m.outcomes {
		if o.AdID == adID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) AddChat(_ context.Context, botID, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chats[botID] {
		if c == chatID {
			return nil
		}
	}
	m.chats[botID] = append(m.chats[botID], chatID)
	return nil
}

func (m *memStore) ChatIDs(_ context.Context, botID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.chats[botID]...), nil
}

func (m *memStore) Close() error { return nil }

// sentCall records one provider send made by a fakeClient.
type sentCall struct {
	BotToken string
	ChatID   int64
	Text     string
	Media    ads.MediaRef
	Caption  string
	IsMedia  bool
}

// fakeFactory hands out fakeClients and records every send across bots.
type fakeFactory struct {
	mu    sync.Mutex
	calls []sentCall

	// failChats marks chat ids whose sends always fail.
	failChats map[int64]bool
	// failTokens marks credentials the provider rejects outright.
	failTokens map[string]bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{failChats: map[int64]bool{}, failTokens: map[string]bool{}}
}

func (f *fakeFactory) Client(_ context.Context, token string) (telegram.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTokens[token] {
		return nil, fmt.Errorf("unauthorized: bad token")
	}
	return &fakeClient{f: f, token: token}, nil
}

func (f *fakeFactory) record(c sentCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failChats[c.ChatID] {
		return fmt.Errorf("chat %d: forbidden", c.ChatID)
	}
	f.calls = append(f.calls, c)
	return nil
}

func (f *fakeFactory) sent() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

type fakeClient struct {
	f     *fakeFactory
	token string
}

func (c *fakeClient) SendText(_ context.Context, chatID int64, text string) error {
	return c.f.record(sentCall{BotToken: c.token, ChatID: chatID, Text: text})
}

func (c *fakeClient) SendMedia(_ context.Context, chatID int64, m ads.MediaRef, caption string) error {
	return c.f.record(sentCall{BotToken: c.token, ChatID: chatID, Media: m, Caption: caption, IsMedia: true})
}
