package gateway

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/rahul/reenact/internal/agent"
)

const (
	discordPrefix = "discord:"
	discordLimit  = 2000
)

// DiscordGateway answers messages in the channels it can read. Chat IDs
// passed to the Brain are "discord:<channel id>".
type DiscordGateway struct {
	session *discordgo.Session
	brain   agent.Brain
	guildID string // optional: restrict to one guild

	// Allowed lists the user IDs that may drive the desktop. Empty allows
	// everyone.
	Allowed []string
}

var _ Messenger = (*DiscordGateway)(nil)

func NewDiscordGateway(token, guildID string, brain agent.Brain, allowed []string) (*DiscordGateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	d := &DiscordGateway{session: session, brain: brain, guildID: guildID, Allowed: allowed}
	session.AddHandler(d.handleMessage)
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		log.Printf("Discord bot connected as %s", r.User.Username)
	})
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	return d, nil
}

// Start opens the websocket. Messages are handled on discordgo's own
// goroutines.
func (d *DiscordGateway) Start() error {
	log.Println("Starting Discord bot...")
	return d.session.Open()
}

func (d *DiscordGateway) Stop() error {
	log.Println("Stopping Discord bot...")
	return d.session.Close()
}

func (d *DiscordGateway) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	if d.guildID != "" && m.GuildID != d.guildID {
		return
	}
	if len(d.Allowed) > 0 && !slices.Contains(d.Allowed, m.Author.ID) {
		log.Printf("[discord] ignoring user %s", m.Author.ID)
		return
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return
	}

	log.Printf("[discord:%s] %s", m.Author.Username, text)
	s.ChannelTyping(m.ChannelID)

	chatID := discordPrefix + m.ChannelID
	response, err := d.brain.Think(context.Background(), chatID, text)
	if err != nil {
		log.Printf("Error thinking: %v", err)
		response = "Something went wrong: " + err.Error()
	}
	if err := d.Send(chatID, response); err != nil {
		log.Printf("[discord] send to %s: %v", m.ChannelID, err)
	}
}

func (d *DiscordGateway) Send(chatID string, text string) error {
	channel, ok := strings.CutPrefix(chatID, discordPrefix)
	if !ok || channel == "" {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}
	for _, part := range splitMessage(text, discordLimit) {
		if _, err := d.session.ChannelMessageSend(channel, part); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiscordGateway) Handles(chatID string) bool {
	return strings.HasPrefix(chatID, discordPrefix)
}
