// Package extract finds the link in a chat message and the title of the page
// it points to.
package extract

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	urlPattern   = regexp.MustCompile(`https?://(www\.)?[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b([-a-zA-Z0-9()@:%_+.~#?&/=]*)`)
	titlePattern = regexp.MustCompile(`<title>(.*)</title>`)
)

// ExtractURL returns the first http(s) URL in text
func ExtractURL(text string) (string, bool) {
	link := urlPattern.FindString(text)
	return link, link != ""
}

// ExtractTitle returns the text of the first <title> tag in an HTML document.
// Only a bare lowercase tag on a single line is recognised.
func ExtractTitle(document string) (string, bool) {
	match := titlePattern.FindStringSubmatch(document)
	if match == nil {
		return "", false
	}

	title := strings.TrimSpace(html.UnescapeString(match[1]))
	return title, title != ""
}
