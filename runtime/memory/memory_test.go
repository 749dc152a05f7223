package memory_test

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/estatecopilot/runtime/runtime/config"
	"github.com/estatecopilot/runtime/runtime/memory"
	"github.com/estatecopilot/runtime/runtime/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessionStore struct {
	sessions []session.Session
}

func (f *fakeSessionStore) CreateSession(ctx context.Context, id, userID string, now, expiresAt time.Time) (session.Session, error) {
	return session.Session{}, nil
}
func (f *fakeSessionStore) LoadSession(ctx context.Context, id string) (session.Session, error) {
	return session.Session{}, session.ErrSessionNotFound
}
func (f *fakeSessionStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	return nil
}
func (f *fakeSessionStore) EndSession(ctx context.Context, id string, endedAt time.Time) (session.Session, error) {
	return session.Session{}, nil
}
func (f *fakeSessionStore) UpsertRun(ctx context.Context, run session.RunMeta) error { return nil }
func (f *fakeSessionStore) LoadRun(ctx context.Context, runID string) (session.RunMeta, error) {
	return session.RunMeta{}, session.ErrRunNotFound
}
func (f *fakeSessionStore) ListRunsBySession(ctx context.Context, sessionID string, limit int) ([]session.RunMeta, error) {
	return nil, nil
}
func (f *fakeSessionStore) ListSessionsByUser(ctx context.Context, userID, excludeSessionID string, limit int) ([]session.Session, error) {
	out := make([]session.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		if s.UserID == userID && s.ID != excludeSessionID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeMessageStore struct {
	messages map[string][]memory.Message
}

func (f *fakeMessageStore) LoadMessages(ctx context.Context, sessionID string, limit int) ([]memory.Message, error) {
	msgs := f.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

type fakeSummaryCache struct {
	cached map[string]string
}

func (f *fakeSummaryCache) GetSummary(ctx context.Context, sessionID string) (string, bool, error) {
	s, ok := f.cached[sessionID]
	return s, ok, nil
}
func (f *fakeSummaryCache) PutSummary(ctx context.Context, sessionID, summary string) error {
	if f.cached == nil {
		f.cached = make(map[string]string)
	}
	f.cached[sessionID] = summary
	return nil
}

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, sessionID string, messages []memory.Message, maxLength int) (string, error) {
	f.calls++
	return fmt.Sprintf("summary-of-%s-call-%d", sessionID, f.calls), nil
}

type fakeTokenizer struct{}

func (fakeTokenizer) Count(text string) int { return len(text) }

func newService(t *testing.T, cfg config.MemoryConfig, sessions []session.Session, messages map[string][]memory.Message) (*memory.Service, *fakeSummarizer, *fakeSummaryCache) {
	t.Helper()
	summarizer := &fakeSummarizer{}
	cache := &fakeSummaryCache{}
	svc := memory.NewService(&fakeSessionStore{sessions: sessions}, &fakeMessageStore{messages: messages}, cache, summarizer, fakeTokenizer{}, cfg, nil)
	return svc, summarizer, cache
}

func TestGetOrCreateSummaryIsIdempotent(t *testing.T) {
	cfg := config.MemoryConfig{MessageLimit: 10, SummaryMaxLength: 100, TokenLimit: 1000}
	svc, summarizer, _ := newService(t, cfg, nil, map[string][]memory.Message{
		"s1": {{Role: "user", Content: "hello"}},
	})

	first, err := svc.GetOrCreateSummary(context.Background(), "s1")
	require.NoError(t, err)
	second, err := svc.GetOrCreateSummary(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, summarizer.calls, "summarizer must be invoked exactly once")
}

func TestLoadTieredPartitionsSessionsByTier(t *testing.T) {
	now := time.Now()
	sessions := []session.Session{
		{ID: "short-1", UserID: "u1", LastActivity: now},
		{ID: "mid-1", UserID: "u1", LastActivity: now.Add(-time.Hour)},
		{ID: "long-1", UserID: "u1", LastActivity: now.Add(-2 * time.Hour)},
	}
	cfg := config.MemoryConfig{ShorttermLimit: 1, MidtermLimit: 1, LongtermLimit: 1, MessageLimit: 10, SummaryMaxLength: 200, TokenLimit: 10000}
	svc, _, _ := newService(t, cfg, sessions, map[string][]memory.Message{
		"short-1": {{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
	})

	out, err := svc.LoadTiered(context.Background(), "u1", "current")
	require.NoError(t, err)
	require.Len(t, out.ShortTerm, 1)
	assert.Equal(t, "short-1", out.ShortTerm[0].SessionID)
	require.Len(t, out.MidTerm, 1)
	assert.Equal(t, "mid-1", out.MidTerm[0].SessionID)
	require.Len(t, out.LongTerm, 1)
	assert.Equal(t, "long-1", out.LongTerm[0].SessionID)
}

func TestLoadTieredRespectsTokenBudgetDroppingLongtermFirst(t *testing.T) {
	now := time.Now()
	sessions := []session.Session{
		{ID: "short-1", UserID: "u1", LastActivity: now},
		{ID: "mid-1", UserID: "u1", LastActivity: now.Add(-time.Hour)},
		{ID: "long-1", UserID: "u1", LastActivity: now.Add(-2 * time.Hour)},
	}
	cfg := config.MemoryConfig{ShorttermLimit: 1, MidtermLimit: 1, LongtermLimit: 1, MessageLimit: 10, SummaryMaxLength: 200, TokenLimit: 10}
	svc, _, _ := newService(t, cfg, sessions, map[string][]memory.Message{
		"short-1": {{Role: "user", Content: "hi"}},
	})

	out, err := svc.LoadTiered(context.Background(), "u1", "current")
	require.NoError(t, err)
	assert.LessOrEqual(t, out.TotalTokens, cfg.TokenLimit)
	assert.Empty(t, out.LongTerm, "long-term entries must be dropped before mid-term")
}

func TestSummarizeConversationBackgroundDoesNotBlock(t *testing.T) {
	cfg := config.MemoryConfig{MessageLimit: 10, SummaryMaxLength: 100, TokenLimit: 1000}
	svc, _, cache := newService(t, cfg, nil, map[string][]memory.Message{
		"s1": {{Role: "user", Content: "hello"}},
	})

	done := make(chan struct{})
	go func() {
		svc.SummarizeConversationBackground("s1", "u1")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("background summarization call blocked")
	}

	assert.Eventually(t, func() bool {
		_, ok := cache.cached["s1"]
		return ok
	}, time.Second, 10*time.Millisecond)
}
