// Copyright 2024-2026 Aiku AI

// Package mattermostfmt shapes the text of inbound Mattermost posts into the
// variants the bot dispatch pipeline matches against.
package mattermostfmt

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Shaped holds the three text variants of an inbound message.
type Shaped struct {
	// Text is what listeners see: heading marker stripped, and in direct
	// messages prefixed with the bot's name.
	Text string
	// TrimmedText is Text without a leading mention of the bot.
	TrimmedText string
	// RawText is the post body exactly as received.
	RawText string
}

var headingPrefixRe = regexp.MustCompile(`^#{0,5} `)

// StripHeading removes a leading Markdown heading marker ("#" repeated up to
// five times, then one space).
func StripHeading(text string) string {
	return headingPrefixRe.ReplaceAllString(text, "")
}

func addressRe(botName string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^@?` + regexp.QuoteMeta(botName) + `(?:[:,]?\s+|[:,]?$)`)
}

// StartsWithMention reports whether text begins with the bot's name,
// optionally preceded by "@". The comparison ignores case.
func StartsWithMention(text, botName string) bool {
	if botName == "" {
		return false
	}
	text = strings.TrimPrefix(text, "@")
	return len(text) >= len(botName) && strings.EqualFold(text[:len(botName)], botName)
}

// StripMention removes a leading address of the bot ("bot ", "@bot: ",
// "Bot, ") from text. A name that merely starts with the bot's name is left
// alone.
func StripMention(text, botName string) string {
	if botName == "" || !utf8.ValidString(botName) {
		return text
	}
	return addressRe(botName).ReplaceAllString(text, "")
}

// Shape produces the text variants for a post body. When direct is set and
// the text does not already mention the bot, the bot's name is prepended so
// that every direct message reads as addressed to the bot.
func Shape(raw, botName string, direct bool) Shaped {
	text := StripHeading(raw)
	if direct && botName != "" && !StartsWithMention(text, botName) {
		text = botName + " " + text
	}
	return Shaped{
		Text:        text,
		TrimmedText: strings.TrimSpace(StripMention(text, botName)),
		RawText:     raw,
	}
}
