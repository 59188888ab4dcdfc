// Package discord delivers approval requests to a Discord channel and
// turns ✅/❌ reactions from configured approvers into recorded decisions.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"

	"llm-trading-gateway/internal/approval"
	"llm-trading-gateway/internal/interfaces"
	"llm-trading-gateway/internal/logger"
	"llm-trading-gateway/internal/types"
)

const (
	approveEmoji = "✅"
	denyEmoji    = "❌"

	colorPending  = 0xE67E22
	colorApproved = 0x2ECC71
	colorDenied   = 0xE74C3C
)

// session allows mocking the Discord connection in tests.
type session interface {
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// Config holds Discord transport settings.
type Config struct {
	Token     string
	ChannelID string
}

func (c *Config) validate() error {
	if c.Token == "" {
		return errors.New("discord token is required")
	}
	if c.ChannelID == "" {
		return errors.New("discord channel id is required")
	}
	return nil
}

// Transport posts approval requests as embeds and records reaction
// decisions through the gate. It keeps only a message-to-request map in
// memory; the durable state lives in the approval store, so a decision is
// still honored if this process restarts and another replica polls it up.
type Transport struct {
	cfg      Config
	session  session
	recorder interfaces.DecisionRecorder

	mu      sync.Mutex
	pending map[string]string // message ID -> approval request ID
	botID   string
}

var _ interfaces.DecisionTransport = (*Transport)(nil)

// New creates a transport with a real Discord session.
func New(cfg Config, recorder interfaces.DecisionRecorder) (*Transport, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsGuildMessageReactions
	return newWithSession(cfg, s, recorder), nil
}

func newWithSession(cfg Config, s session, recorder interfaces.DecisionRecorder) *Transport {
	return &Transport{
		cfg:      cfg,
		session:  s,
		recorder: recorder,
		pending:  make(map[string]string),
	}
}

func (t *Transport) Start(ctx context.Context) error {
	t.session.AddHandler(t.handleReady)
	t.session.AddHandler(t.handleReactionAdd)
	if err := t.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	logger.Info(ctx, "Discord decision transport connected", "channel", t.cfg.ChannelID)
	return nil
}

func (t *Transport) Stop(ctx context.Context) {
	if err := t.session.Close(); err != nil {
		logger.Warn(ctx, "Failed to close discord session", "error", err)
	}
}

// Notify posts the request embed and primes the decision reactions.
func (t *Transport) Notify(ctx context.Context, req types.ApprovalRequest) error {
	msg, err := t.session.ChannelMessageSendComplex(t.cfg.ChannelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{pendingEmbed(req)},
	})
	if err != nil {
		return fmt.Errorf("failed to post approval message: %w", err)
	}

	for _, emoji := range []string{approveEmoji, denyEmoji} {
		if err := t.session.MessageReactionAdd(t.cfg.ChannelID, msg.ID, emoji); err != nil {
			logger.Warn(ctx, "Failed to prime decision reaction",
				"approval_id", req.ID, "emoji", emoji, "error", err)
		}
	}

	t.mu.Lock()
	t.pending[msg.ID] = req.ID
	t.mu.Unlock()

	return nil
}

func (t *Transport) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	t.mu.Lock()
	t.botID = r.User.ID
	t.mu.Unlock()
}

func (t *Transport) handleReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.ChannelID != t.cfg.ChannelID {
		return
	}

	t.mu.Lock()
	botID := t.botID
	reqID, ok := t.pending[r.MessageID]
	t.mu.Unlock()

	if r.UserID == botID || !ok {
		return
	}

	var decision types.ApprovalStatus
	switch r.Emoji.Name {
	case approveEmoji:
		decision = types.ApprovalApproved
	case denyEmoji:
		decision = types.ApprovalDenied
	default:
		return
	}

	ctx := context.Background()
	err := t.recorder.RecordDecision(ctx, reqID, decision, r.UserID)
	switch {
	case err == nil:
		t.finalize(ctx, r.MessageID, reqID, decision, r.UserID)
	case errors.Is(err, approval.ErrUnauthorizedApprover):
		// Silent to the channel; just take the reaction back.
		if rmErr := t.session.MessageReactionRemove(r.ChannelID, r.MessageID, r.Emoji.Name, r.UserID); rmErr != nil {
			logger.Warn(ctx, "Failed to remove unauthorized reaction",
				"approval_id", reqID, "user", r.UserID, "error", rmErr)
		}
	case errors.Is(err, approval.ErrAlreadyDecided):
		// Double click or decision after timeout. Nothing to do.
	default:
		logger.ErrorWithErr(ctx, "Failed to record decision", err, "approval_id", reqID)
	}
}

func (t *Transport) finalize(ctx context.Context, messageID, reqID string, decision types.ApprovalStatus, userID string) {
	t.mu.Lock()
	delete(t.pending, messageID)
	t.mu.Unlock()

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Trading action %s", decision),
		Description: fmt.Sprintf("Decision recorded by <@%s>.", userID),
		Color:       colorForDecision(decision),
		Footer:      &discordgo.MessageEmbedFooter{Text: "Request " + reqID},
	}
	if _, err := t.session.ChannelMessageEditEmbed(t.cfg.ChannelID, messageID, embed); err != nil {
		logger.Warn(ctx, "Failed to update approval message", "approval_id", reqID, "error", err)
	}
}

func pendingEmbed(req types.ApprovalRequest) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Tool", Value: "`" + req.Action.Tool + "`", Inline: true},
		{Name: "Requested by", Value: req.RequestedBy, Inline: true},
		{Name: "Expires", Value: req.ExpiresAt.UTC().Format("15:04:05 MST"), Inline: true},
	}
	if len(req.Action.Arguments) > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Arguments",
			Value: formatArguments(req.Action.Arguments),
		})
	}

	return &discordgo.MessageEmbed{
		Title:  "Trading action requires approval",
		Color:  colorPending,
		Fields: fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Request %s. React %s to approve or %s to deny.", req.ID, approveEmoji, denyEmoji),
		},
	}
}

func formatArguments(args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for _, k := range keys {
		out += fmt.Sprintf("`%s` = %s\n", k, args[k])
	}
	if len(out) > 1000 {
		out = out[:997] + "..."
	}
	return out
}

func colorForDecision(decision types.ApprovalStatus) int {
	if decision == types.ApprovalApproved {
		return colorApproved
	}
	return colorDenied
}
