package discord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"llm-trading-gateway/internal/approval"
	"llm-trading-gateway/internal/types"
)

type fakeSession struct {
	mu       sync.Mutex
	sent     []*discordgo.MessageSend
	edited   []*discordgo.MessageEmbed
	reacts   []string
	removals []string
	opened   bool
}

func (f *fakeSession) Open() error  { f.opened = true; return nil }
func (f *fakeSession) Close() error { return nil }

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return &discordgo.Message{ID: "msg-1", ChannelID: channelID}, nil
}

func (f *fakeSession) ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, embed)
	return &discordgo.Message{ID: messageID}, nil
}

func (f *fakeSession) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reacts = append(f.reacts, emojiID)
	return nil
}

func (f *fakeSession) MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removals = append(f.removals, userID)
	return nil
}

func (f *fakeSession) AddHandler(handler interface{}) func() { return func() {} }

type fakeRecorder struct {
	mu        sync.Mutex
	decisions []types.ApprovalStatus
	deciders  []string
	err       error
}

func (r *fakeRecorder) RecordDecision(ctx context.Context, id string, decision types.ApprovalStatus, decidedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.decisions = append(r.decisions, decision)
	r.deciders = append(r.deciders, decidedBy)
	return nil
}

func testRequest() types.ApprovalRequest {
	return types.ApprovalRequest{
		ID:          "req-1",
		Action:      types.ActionDescriptor{Tool: "place_order", Arguments: map[string]string{"symbol": "AAPL", "qty": "10"}},
		RequestedBy: "llm-agent",
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(10 * time.Minute),
		Status:      types.ApprovalPending,
	}
}

func newTestTransport(recorder *fakeRecorder) (*Transport, *fakeSession) {
	s := &fakeSession{}
	t := newWithSession(Config{Token: "token", ChannelID: "chan-1"}, s, recorder)
	t.botID = "bot-1"
	return t, s
}

func reaction(messageID, userID, emoji string) *discordgo.MessageReactionAdd {
	return &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			MessageID: messageID,
			ChannelID: "chan-1",
			UserID:    userID,
			Emoji:     discordgo.Emoji{Name: emoji},
		},
	}
}

func TestNotifyPostsEmbedAndPrimesReactions(t *testing.T) {
	tr, s := newTestTransport(&fakeRecorder{})

	if err := tr.Notify(context.Background(), testRequest()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if len(s.sent) != 1 {
		t.Fatalf("Expected one message, got %d", len(s.sent))
	}
	embed := s.sent[0].Embeds[0]
	if embed.Color != colorPending {
		t.Errorf("Expected pending color, got %#x", embed.Color)
	}
	found := false
	for _, f := range embed.Fields {
		if f.Name == "Tool" && f.Value == "`place_order`" {
			found = true
		}
	}
	if !found {
		t.Error("Expected a Tool field in the embed")
	}

	if len(s.reacts) != 2 || s.reacts[0] != approveEmoji || s.reacts[1] != denyEmoji {
		t.Errorf("Expected primed decision reactions, got %v", s.reacts)
	}
}

func TestReactionRecordsDecision(t *testing.T) {
	rec := &fakeRecorder{}
	tr, s := newTestTransport(rec)

	if err := tr.Notify(context.Background(), testRequest()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	tr.handleReactionAdd(nil, reaction("msg-1", "alice", approveEmoji))

	if len(rec.decisions) != 1 || rec.decisions[0] != types.ApprovalApproved {
		t.Fatalf("Expected one APPROVED decision, got %v", rec.decisions)
	}
	if rec.deciders[0] != "alice" {
		t.Errorf("Expected the reacting user as decider, got %q", rec.deciders[0])
	}
	if len(s.edited) != 1 || s.edited[0].Color != colorApproved {
		t.Errorf("Expected the message finalized green, got %v", s.edited)
	}
}

func TestDenyReaction(t *testing.T) {
	rec := &fakeRecorder{}
	tr, s := newTestTransport(rec)
	_ = tr.Notify(context.Background(), testRequest())

	tr.handleReactionAdd(nil, reaction("msg-1", "bob", denyEmoji))

	if len(rec.decisions) != 1 || rec.decisions[0] != types.ApprovalDenied {
		t.Fatalf("Expected one DENIED decision, got %v", rec.decisions)
	}
	if len(s.edited) != 1 || s.edited[0].Color != colorDenied {
		t.Errorf("Expected the message finalized red, got %v", s.edited)
	}
}

func TestIgnoredReactions(t *testing.T) {
	rec := &fakeRecorder{}
	tr, _ := newTestTransport(rec)
	_ = tr.Notify(context.Background(), testRequest())

	// The bot's own priming reactions.
	tr.handleReactionAdd(nil, reaction("msg-1", "bot-1", approveEmoji))
	// A non-decision emoji.
	tr.handleReactionAdd(nil, reaction("msg-1", "alice", "🎉"))
	// A message the transport never posted.
	tr.handleReactionAdd(nil, reaction("msg-other", "alice", approveEmoji))
	// A different channel entirely.
	r := reaction("msg-1", "alice", approveEmoji)
	r.ChannelID = "chan-other"
	tr.handleReactionAdd(nil, r)

	if len(rec.decisions) != 0 {
		t.Errorf("Expected no decisions recorded, got %v", rec.decisions)
	}
}

func TestUnauthorizedReactionRemoved(t *testing.T) {
	rec := &fakeRecorder{err: approval.ErrUnauthorizedApprover}
	tr, s := newTestTransport(rec)
	_ = tr.Notify(context.Background(), testRequest())

	tr.handleReactionAdd(nil, reaction("msg-1", "mallory", approveEmoji))

	if len(s.removals) != 1 || s.removals[0] != "mallory" {
		t.Errorf("Expected the unauthorized reaction removed, got %v", s.removals)
	}
	if len(s.edited) != 0 {
		t.Errorf("Message must stay pending, got %d edits", len(s.edited))
	}
}

func TestAlreadyDecidedReactionIsNoop(t *testing.T) {
	rec := &fakeRecorder{err: approval.ErrAlreadyDecided}
	tr, s := newTestTransport(rec)
	_ = tr.Notify(context.Background(), testRequest())

	tr.handleReactionAdd(nil, reaction("msg-1", "alice", denyEmoji))

	if len(s.removals) != 0 || len(s.edited) != 0 {
		t.Errorf("Expected no side effects, removals=%v edits=%d", s.removals, len(s.edited))
	}
}
