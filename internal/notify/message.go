package notify

import (
	"html"
	"regexp"
)

// Format selects how a message body is marked up.
type Format int

const (
	FormatPlain Format = iota
	FormatHTML
	FormatMarkdown
)

// Message is one notification.
type Message struct {
	Title  string
	Body   string
	Format Format
}

// Event types used to filter notifications.
const (
	EventRolloverSuccess  = "rollover_success"
	EventRolloverFailure  = "rollover_failure"
	EventNoWallet         = "no_wallet"
	EventArbitrageSuccess = "arbitrage_success"
	EventArbitrageFailure = "arbitrage_failure"
	EventLifecycle        = "lifecycle"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// plainText strips HTML markup from s for channels that cannot render it.
func plainText(s string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(s, ""))
}
