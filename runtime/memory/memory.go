// Package memory implements the tiered Conversation Memory Service (C5):
// three-band load (short/mid/long), budget-bounded token accounting, and
// fire-and-forget background summarization (§4.4).
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/estatecopilot/runtime/runtime/config"
	"github.com/estatecopilot/runtime/runtime/session"
	"github.com/estatecopilot/runtime/runtime/telemetry"
)

type (
	// Message is a single raw turn in a session transcript.
	Message struct {
		Role      string
		Content   string
		CreatedAt time.Time
	}

	// SessionTranscript is a short-term entry: the most recent session's raw
	// message pairs (§3 ConversationMemory: "short-term records are raw
	// message pairs").
	SessionTranscript struct {
		SessionID string
		Messages  []Message
	}

	// SessionSummary is a mid- or long-term entry: an LLM-generated summary
	// only (§3 ConversationMemory).
	SessionSummary struct {
		SessionID string
		Summary   string
	}

	// TieredMemories is the return value of LoadTiered (§4.4 step 6).
	TieredMemories struct {
		ShortTerm      []SessionTranscript
		MidTerm        []SessionSummary
		LongTerm       []SessionSummary
		TotalTokens    int
		SavingsPercent float64
	}

	// MessageStore loads a session's raw transcript, most recent message
	// last (chronological order), honoring a per-session cap.
	MessageStore interface {
		// LoadMessages returns up to limit most recent messages for
		// sessionID, ordered oldest-first.
		LoadMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)
	}

	// SummaryCache reads and writes the per-session cached summary (§3:
	// "Each session metadata may cache a summary to avoid
	// re-summarization"). PutSummary is best-effort: callers tolerate
	// failures per §4.4 "this write is best-effort".
	SummaryCache interface {
		GetSummary(ctx context.Context, sessionID string) (string, bool, error)
		PutSummary(ctx context.Context, sessionID, summary string) error
	}

	// Summarizer produces a conversation summary via the LLM Gateway's
	// conversation_summary prompt (§4.4 "Summary resolution"). Kept as a
	// narrow interface so memory does not import modelgw directly.
	Summarizer interface {
		Summarize(ctx context.Context, sessionID string, messages []Message, maxLength int) (string, error)
	}

	// Tokenizer counts tokens for budget accounting (§4.4 step 5: "a stable
	// tokenizer... may substitute any BPE-like encoder that returns length
	// integers").
	Tokenizer interface {
		Count(text string) int
	}

	// Service implements the Tiered Memory Service (C5).
	Service struct {
		sessions   session.Store
		messages   MessageStore
		summaries  SummaryCache
		summarizer Summarizer
		tokenizer  Tokenizer
		cfg        config.MemoryConfig
		logger     telemetry.Logger
	}
)

// NewService constructs the memory service. logger may be nil (defaults to
// a no-op logger).
func NewService(sessions session.Store, messages MessageStore, summaries SummaryCache, summarizer Summarizer, tokenizer Tokenizer, cfg config.MemoryConfig, logger telemetry.Logger) *Service {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Service{
		sessions:   sessions,
		messages:   messages,
		summaries:  summaries,
		summarizer: summarizer,
		tokenizer:  tokenizer,
		cfg:        cfg,
		logger:     logger,
	}
}

// LoadTiered implements §4.4's load_tiered algorithm.
func (s *Service) LoadTiered(ctx context.Context, userID, currentSessionID string) (TieredMemories, error) {
	total := s.cfg.ShorttermLimit + s.cfg.MidtermLimit + s.cfg.LongtermLimit
	sessions, err := s.sessions.ListSessionsByUser(ctx, userID, currentSessionID, total)
	if err != nil {
		return TieredMemories{}, err
	}

	shortCount := min(s.cfg.ShorttermLimit, len(sessions))
	remaining := sessions[shortCount:]
	midCount := min(s.cfg.MidtermLimit, len(remaining))
	remaining = remaining[midCount:]
	longCount := min(s.cfg.LongtermLimit, len(remaining))

	shortSessions := sessions[:shortCount]
	midSessions := sessions[shortCount : shortCount+midCount]
	longSessions := sessions[shortCount+midCount : shortCount+midCount+longCount]

	var out TieredMemories
	var rawMessageTokens, rawMessageCount int

	for _, sess := range shortSessions {
		msgs, err := s.messages.LoadMessages(ctx, sess.ID, s.cfg.MessageLimit)
		if err != nil {
			s.logger.Warn(ctx, "load short-term transcript failed", "session_id", sess.ID, "error", err.Error())
			continue
		}
		out.ShortTerm = append(out.ShortTerm, SessionTranscript{SessionID: sess.ID, Messages: msgs})
		for _, m := range msgs {
			rawMessageTokens += s.tokenizer.Count(m.Content)
			rawMessageCount++
		}
	}

	for _, sess := range midSessions {
		summary, err := s.GetOrCreateSummary(ctx, sess.ID)
		if err != nil {
			s.logger.Warn(ctx, "mid-term summary resolution failed", "session_id", sess.ID, "error", err.Error())
			continue
		}
		out.MidTerm = append(out.MidTerm, SessionSummary{SessionID: sess.ID, Summary: summary})
	}

	for _, sess := range longSessions {
		summary, err := s.GetOrCreateSummary(ctx, sess.ID)
		if err != nil {
			s.logger.Warn(ctx, "long-term summary resolution failed", "session_id", sess.ID, "error", err.Error())
			continue
		}
		out.LongTerm = append(out.LongTerm, SessionSummary{SessionID: sess.ID, Summary: summary})
	}

	out.TotalTokens = s.countTokens(out)

	// Step 5: while over budget, drop oldest long-term, then mid-term, then
	// short-term tail messages. Tiers are ordered most-recent-first, so
	// "oldest" is the tail of each slice.
	for out.TotalTokens > s.cfg.TokenLimit && len(out.LongTerm) > 0 {
		out.LongTerm = out.LongTerm[:len(out.LongTerm)-1]
		out.TotalTokens = s.countTokens(out)
	}
	for out.TotalTokens > s.cfg.TokenLimit && len(out.MidTerm) > 0 {
		out.MidTerm = out.MidTerm[:len(out.MidTerm)-1]
		out.TotalTokens = s.countTokens(out)
	}
	for out.TotalTokens > s.cfg.TokenLimit && len(out.ShortTerm) > 0 {
		last := len(out.ShortTerm) - 1
		msgs := out.ShortTerm[last].Messages
		if len(msgs) == 0 {
			out.ShortTerm = out.ShortTerm[:last]
			continue
		}
		out.ShortTerm[last].Messages = msgs[1:]
		out.TotalTokens = s.countTokens(out)
	}

	out.SavingsPercent = s.estimateSavings(out, rawMessageTokens, rawMessageCount)
	return out, nil
}

func (s *Service) countTokens(t TieredMemories) int {
	total := 0
	for _, st := range t.ShortTerm {
		for _, m := range st.Messages {
			total += s.tokenizer.Count(m.Content)
		}
	}
	for _, sm := range t.MidTerm {
		total += s.tokenizer.Count(sm.Summary)
	}
	for _, sm := range t.LongTerm {
		total += s.tokenizer.Count(sm.Summary)
	}
	return total
}

// estimateSavings reports the fraction of tokens avoided by summarizing
// mid/long tier sessions instead of loading their full transcripts. The full
// cost is estimated using the average per-message token cost observed in the
// short-term tier (falling back to a fixed estimate when no short-term
// messages were loaded), times this service's message cap — a reasonable
// proxy since the full transcripts are never actually loaded.
func (s *Service) estimateSavings(t TieredMemories, rawTokens, rawCount int) float64 {
	summarizedSessions := len(t.MidTerm) + len(t.LongTerm)
	if summarizedSessions == 0 {
		return 0
	}
	avgTokensPerMessage := 40.0
	if rawCount > 0 {
		avgTokensPerMessage = float64(rawTokens) / float64(rawCount)
	}
	messageLimit := s.cfg.MessageLimit
	if messageLimit <= 0 {
		messageLimit = 20
	}
	estimatedFullCost := avgTokensPerMessage * float64(messageLimit) * float64(summarizedSessions)
	actualSummaryCost := 0.0
	for _, sm := range t.MidTerm {
		actualSummaryCost += float64(s.tokenizer.Count(sm.Summary))
	}
	for _, sm := range t.LongTerm {
		actualSummaryCost += float64(s.tokenizer.Count(sm.Summary))
	}
	if estimatedFullCost <= 0 {
		return 0
	}
	savings := 1 - (actualSummaryCost / estimatedFullCost)
	if savings < 0 {
		savings = 0
	}
	return savings * 100
}

// GetOrCreateSummary implements §4.4's "Summary resolution" and testable
// property 9 (idempotence): a cached summary is returned without invoking
// the summarizer a second time.
func (s *Service) GetOrCreateSummary(ctx context.Context, sessionID string) (string, error) {
	if cached, ok, err := s.summaries.GetSummary(ctx, sessionID); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger.Warn(ctx, "summary cache read failed", "session_id", sessionID, "error", err.Error())
	}

	messages, err := s.messages.LoadMessages(ctx, sessionID, s.cfg.MessageLimit)
	if err != nil {
		return "", err
	}
	summary, err := s.summarizer.Summarize(ctx, sessionID, messages, s.cfg.SummaryMaxLength)
	if err != nil {
		return "", err
	}
	if s.cfg.SummaryMaxLength > 0 && len(summary) > s.cfg.SummaryMaxLength {
		summary = summary[:s.cfg.SummaryMaxLength]
	}

	if err := s.summaries.PutSummary(ctx, sessionID, summary); err != nil {
		s.logger.Warn(ctx, "summary cache write failed, returning uncached summary", "session_id", sessionID, "error", err.Error())
	}
	return summary, nil
}

// SummarizeConversationBackground implements §4.4's fire-and-forget
// background summarization, spawned after final_response is emitted. It
// never shares the response path's lifecycle or context: failures are
// logged and dropped, never propagated (§5 "Background tasks").
func (s *Service) SummarizeConversationBackground(sessionID, userID string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error(context.Background(), "background summarization panicked", "session_id", sessionID, "user_id", userID, "panic", r)
			}
		}()
		ctx := context.Background()
		if _, err := s.GetOrCreateSummary(ctx, sessionID); err != nil {
			s.logger.Error(ctx, "background summarization failed", "session_id", sessionID, "user_id", userID, "error", err.Error())
		}
	}()
}
