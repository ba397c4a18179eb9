package gateway

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rahul/reenact/internal/agent"
)

const telegramLimit = 4096

type TelegramGateway struct {
	Bot   *tgbotapi.BotAPI
	Brain agent.Brain
	// Allowed restricts who may drive the desktop. Empty allows everyone.
	Allowed []int64
}

var _ Messenger = (*TelegramGateway)(nil)

func NewTelegramGateway(token string, brain agent.Brain, allowed []int64) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	return &TelegramGateway{
		Bot:     bot,
		Brain:   brain,
		Allowed: allowed,
	}, nil
}

func (tg *TelegramGateway) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}
		chat := update.Message.Chat.ID
		if len(tg.Allowed) > 0 && !slices.Contains(tg.Allowed, chat) {
			log.Printf("[telegram] ignoring chat %d", chat)
			continue
		}

		log.Printf("[%s] %s", update.Message.From.UserName, update.Message.Text)

		// runs can take a while; keep the chat informed
		tg.Bot.Request(tgbotapi.NewChatAction(chat, tgbotapi.ChatTyping))

		response, err := tg.Brain.Think(context.Background(), strconv.FormatInt(chat, 10), update.Message.Text)
		if err != nil {
			log.Printf("Error thinking: %v", err)
			response = "Something went wrong: " + err.Error()
		}

		if err := tg.Send(strconv.FormatInt(chat, 10), response); err != nil {
			log.Printf("[telegram] send to %d: %v", chat, err)
		}
	}
	return nil
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := telegramChatID(chatID)
	if err != nil {
		return err
	}
	for _, part := range splitMessage(text, telegramLimit) {
		if _, err := tg.Bot.Send(tgbotapi.NewMessage(id, part)); err != nil {
			return err
		}
	}
	return nil
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}

func (tg *TelegramGateway) Handles(chatID string) bool {
	_, err := telegramChatID(chatID)
	return err == nil
}

func telegramChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid chat ID: %s", chatID)
	}
	return id, nil
}
