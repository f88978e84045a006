package notify

import (
	"context"
	"net/http"
)

// discordLimit is the maximum length of a webhook message.
const discordLimit = 2000

// DiscordSender posts to a Discord channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: senderTimeout},
	}
}

// Send posts msg. Discord renders only markdown, so HTML bodies are reduced
// to plain text. Mentions are disabled so a loan id or address can never
// ping anyone.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	body := msg.Body
	if msg.Format == FormatHTML {
		body = plainText(body)
	}
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, map[string]any{
		"content":          truncate("**"+msg.Title+"**\n"+body, discordLimit),
		"allowed_mentions": map[string][]string{"parse": {}},
	})
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }
