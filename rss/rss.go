// Package rss renders feed snapshots as RSS 2.0 documents
package rss

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"rssbot/models"

	"github.com/gorilla/feeds"
)

const (
	DefaultGenerator = "rssbot"
	Docs             = "https://cyber.harvard.edu/rss/rss.html"
	Category         = "Matrix"
	Language         = "en-US"
	Ttl              = 60
)

// Renderer builds RSS documents for the feeds of one homeserver
type Renderer struct {
	// Base URL of the homeserver, used as channel link and item source
	Homeserver string

	// Name reported in <generator>, DefaultGenerator when empty
	Generator string

	// Clock for the channel dates, time.Now when nil
	Now func() time.Time
}

func NewRenderer(homeserver string) *Renderer {
	return &Renderer{
		Homeserver: homeserver,
		Generator:  DefaultGenerator,
		Now:        time.Now,
	}
}

type rssGuid struct {
	Id          string `xml:",chardata"`
	IsPermaLink bool   `xml:"isPermaLink,attr"`
}

type rssSource struct {
	Url   string `xml:"url,attr"`
	Title string `xml:",chardata"`
}

// rssItem adds the source url and guid attributes gorilla/feeds has no room for
type rssItem struct {
	*feeds.RssItem
	Guid   *rssGuid   `xml:"guid,omitempty"`
	Source *rssSource `xml:"source,omitempty"`
}

type rssChannel struct {
	*feeds.RssFeed
	Items []*rssItem `xml:"item"`
}

type rssDocument struct {
	XMLName          xml.Name `xml:"rss"`
	Version          string   `xml:"version,attr"`
	ContentNamespace string   `xml:"xmlns:content,attr"`
	Channel          *rssChannel
}

// FeedXml makes rssChannel usable with feeds.ToXML
func (c *rssChannel) FeedXml() interface{} {
	return &rssDocument{
		Version:          "2.0",
		ContentNamespace: "http://purl.org/rss/1.0/modules/content/",
		Channel:          c,
	}
}

// Render returns the RSS document for the named feed. Items are written in
// the given order.
func (r *Renderer) Render(name string, items []models.FeedItem) (string, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	generator := r.Generator
	if generator == "" {
		generator = DefaultGenerator
	}

	built := now().UTC().Format(time.RFC1123Z)
	channel := &rssChannel{
		RssFeed: &feeds.RssFeed{
			Title:         fmt.Sprintf("%s messages", name),
			Link:          r.Homeserver,
			Description:   fmt.Sprintf("An RSS feed for %s matrix channel messages", name),
			Language:      Language,
			PubDate:       built,
			LastBuildDate: built,
			Category:      Category,
			Generator:     generator,
			Docs:          Docs,
			Ttl:           Ttl,
		},
		Items: make([]*rssItem, 0, len(items)),
	}

	for _, item := range items {
		channel.Items = append(channel.Items, r.item(item))
	}

	doc, err := feeds.ToXML(channel)
	if err != nil {
		return "", fmt.Errorf("failed to render feed %s: %w", name, err)
	}
	return doc, nil
}

func (r *Renderer) item(item models.FeedItem) *rssItem {
	content := xmlText(item.Content)
	return &rssItem{
		RssItem: &feeds.RssItem{
			Title:       xmlText(item.Title()),
			Link:        xmlText(item.Link),
			Description: content,
			Content:     &feeds.RssContent{Content: content},
			Author:      xmlText(item.Sender),
			PubDate:     item.Timestamp.UTC().Format(time.RFC1123Z),
		},
		Guid: &rssGuid{Id: item.ID},
		Source: &rssSource{
			Url:   r.Homeserver,
			Title: r.Homeserver,
		},
	}
}

// xmlText drops everything outside the XML 1.0 Char production.
// Content is written as CDATA, which encoding/xml does not clean up.
func xmlText(s string) string {
	return strings.Map(func(r rune) rune {
		if isXMLChar(r) {
			return r
		}
		return -1
	}, strings.ToValidUTF8(s, "\uFFFD"))
}

func isXMLChar(r rune) bool {
	switch {
	case r == 0x09 || r == 0x0A || r == 0x0D:
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	}
	return false
}
