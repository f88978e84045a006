package notify

import (
	"context"
	"html"
	"net/http"
	"strings"
)

const (
	telegramAPI = "https://api.telegram.org"
	// telegramLimit is the sendMessage text limit.
	telegramLimit = 4096
)

// TelegramSender posts to one chat through the Bot API.
type TelegramSender struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for a bot token and chat id.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: senderTimeout},
	}
}

// WithBaseURL points the sender at another Bot API host.
func (t *TelegramSender) WithBaseURL(u string) *TelegramSender {
	t.baseURL = strings.TrimRight(u, "/")
	return t
}

// telegramText renders msg and returns the parse_mode it needs ("" for
// plain text). HTML titles are escaped; bodies are trusted markup.
func telegramText(msg Message) (text, parseMode string) {
	switch msg.Format {
	case FormatHTML:
		return "<b>" + html.EscapeString(msg.Title) + "</b>\n" + msg.Body, "HTML"
	case FormatMarkdown:
		return "*" + msg.Title + "*\n" + msg.Body, "Markdown"
	default:
		return msg.Title + "\n" + msg.Body, ""
	}
}

// Send calls sendMessage for the configured chat.
func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	text, mode := telegramText(msg)
	payload := map[string]string{
		"chat_id": t.chatID,
		"text":    truncate(text, telegramLimit),
	}
	if mode != "" {
		payload["parse_mode"] = mode
	}
	return postJSON(ctx, t.client, t.Name(), t.baseURL+"/bot"+t.token+"/sendMessage", payload)
}

// Name returns "telegram".
func (t *TelegramSender) Name() string { return "telegram" }
