package sanitize

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy *bluemonday.Policy
	bodyPolicy   *bluemonday.Policy
	initOnce     sync.Once
)

var blockEnd = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|h[1-6]|li|tr|blockquote|pre)\s*>`)

func initPolicies() {
	initOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()

		bodyPolicy = bluemonday.UGCPolicy()
		bodyPolicy.AllowElements("center", "font", "span", "div")
		bodyPolicy.AllowAttrs("color", "face", "size").OnElements("font")
	})
}

// HTML removes scripts, event handlers and javascript: urls from an e-mail body, formatting is kept
func HTML(body string) string {
	initPolicies()
	return bodyPolicy.Sanitize(body)
}

// PlainText derives a text/plain alternative from an html body. Block elements end a line.
func PlainText(body string) string {
	initPolicies()

	body = blockEnd.ReplaceAllStringFunc(body, func(s string) string {
		return s + "\n"
	})
	text := html.UnescapeString(strictPolicy.Sanitize(body))

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
