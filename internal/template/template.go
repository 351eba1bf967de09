// Package template renders stored message templates into channel-specific
// bodies. Templates use ((name)) placeholders filled from a notification's
// personalisation map.
package template

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
)

type Template struct {
	ID      string
	Version int
	Subject string
	Body    string
}

type Store interface {
	GetTemplate(ctx context.Context, id string, version int) (Template, error)
}

type SMSMessage struct {
	Content   string
	Fragments int
}

type EmailMessage struct {
	Subject  string
	Body     string
	HTMLBody string
}

var placeholderPattern = regexp.MustCompile(`\(\(([^()]+)\)\)`)

func substitute(body string, personalisation map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		key := strings.TrimSpace(match[2 : len(match)-2])
		if value, ok := personalisation[key]; ok {
			return value
		}
		return match
	})
}

// RenderSMS produces the wire content and its billable fragment count. When a
// prefix is given (the tenant name) it is prepended the way recipients see it.
func RenderSMS(tpl Template, personalisation map[string]string, prefix string) SMSMessage {
	content := substitute(tpl.Body, personalisation)
	if prefix != "" {
		content = prefix + ": " + content
	}
	return SMSMessage{Content: content, Fragments: fragmentCount(content)}
}

// fragmentCount follows GSM segmentation: a single segment carries 160
// characters, concatenated segments carry 153 each.
func fragmentCount(content string) int {
	length := len([]rune(content))
	if length <= 160 {
		return 1
	}
	return (length + 152) / 153
}

func RenderEmail(tpl Template, personalisation map[string]string) EmailMessage {
	subject := substitute(tpl.Subject, personalisation)
	body := substitute(tpl.Body, personalisation)

	var sb strings.Builder
	sb.WriteString("<html><body>")
	for _, paragraph := range strings.Split(body, "\n\n") {
		fmt.Fprintf(&sb, "<p>%s</p>", html.EscapeString(paragraph))
	}
	sb.WriteString("</body></html>")

	return EmailMessage{Subject: subject, Body: body, HTMLBody: sb.String()}
}
