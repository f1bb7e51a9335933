package rss_test

import (
	"testing"
	"time"

	"rssbot/models"
	"rssbot/rss"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var renderTime = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func testRenderer() *rss.Renderer {
	r := rss.NewRenderer("https://matrix.example.org")
	r.Now = func() time.Time { return renderTime }
	return r
}

func TestRenderChannel(t *testing.T) {
	doc, err := testRenderer().Render("news", nil)
	require.NoError(t, err)

	feed, err := gofeed.NewParser().ParseString(doc)
	require.NoError(t, err)

	assert.Equal(t, "rss", feed.FeedType)
	assert.Equal(t, "2.0", feed.FeedVersion)
	assert.Equal(t, "news messages", feed.Title)
	assert.Equal(t, "An RSS feed for news matrix channel messages", feed.Description)
	assert.Equal(t, "https://matrix.example.org", feed.Link)
	assert.Equal(t, "en-US", feed.Language)
	assert.Equal(t, "rssbot", feed.Generator)
	assert.Equal(t, []string{"Matrix"}, feed.Categories)
	require.NotNil(t, feed.PublishedParsed)
	assert.True(t, renderTime.Equal(*feed.PublishedParsed))
	require.NotNil(t, feed.UpdatedParsed)
	assert.True(t, renderTime.Equal(*feed.UpdatedParsed))
	assert.Empty(t, feed.Items)

	assert.Contains(t, doc, "<ttl>60</ttl>")
	assert.Contains(t, doc, "<docs>https://cyber.harvard.edu/rss/rss.html</docs>")
	assert.Contains(t, doc, "<pubDate>Fri, 01 Mar 2024 09:30:00 +0000</pubDate>")
	assert.Contains(t, doc, "<lastBuildDate>Fri, 01 Mar 2024 09:30:00 +0000</lastBuildDate>")
}

func TestRenderItems(t *testing.T) {
	title := "Example & Co"
	captured := time.Date(2024, 2, 29, 18, 0, 0, 0, time.UTC)
	items := []models.FeedItem{
		{
			ID:        "a6f0c1e2-0000-4000-8000-000000000002",
			Sender:    "@alice:example.org",
			Content:   "look https://example.com/a?x=1",
			Link:      "https://example.com/a?x=1",
			PageName:  &title,
			Timestamp: captured.Add(time.Minute),
		},
		{
			ID:        "a6f0c1e2-0000-4000-8000-000000000001",
			Sender:    "@bob:example.org",
			Content:   "untitled <b>https://example.com/b</b>",
			Link:      "https://example.com/b",
			Timestamp: captured,
		},
	}

	doc, err := testRenderer().Render("news", items)
	require.NoError(t, err)

	feed, err := gofeed.NewParser().ParseString(doc)
	require.NoError(t, err)
	require.Len(t, feed.Items, 2)

	first := feed.Items[0]
	assert.Equal(t, "Example & Co", first.Title)
	assert.Equal(t, "https://example.com/a?x=1", first.Link)
	assert.Equal(t, "look https://example.com/a?x=1", first.Description)
	assert.Equal(t, "look https://example.com/a?x=1", first.Content)
	assert.Equal(t, "a6f0c1e2-0000-4000-8000-000000000002", first.GUID)
	require.NotNil(t, first.PublishedParsed)
	assert.True(t, captured.Add(time.Minute).Equal(*first.PublishedParsed))

	// Without a page title the message body is the title
	second := feed.Items[1]
	assert.Equal(t, "untitled <b>https://example.com/b</b>", second.Title)
	assert.Equal(t, "untitled <b>https://example.com/b</b>", second.Content)

	assert.Contains(t, doc, "<author>@alice:example.org</author>")
	assert.Contains(t, doc, `<source url="https://matrix.example.org">https://matrix.example.org</source>`)
	assert.Contains(t, doc, `<guid isPermaLink="false">a6f0c1e2-0000-4000-8000-000000000001</guid>`)
	assert.Contains(t, doc, "<pubDate>Thu, 29 Feb 2024 18:00:00 +0000</pubDate>")
	assert.Contains(t, doc, `xmlns:content="http://purl.org/rss/1.0/modules/content/"`)
}

func TestRenderUsesCurrentTime(t *testing.T) {
	r := rss.NewRenderer("https://matrix.example.org")

	before := time.Now().Add(-time.Second)
	doc, err := r.Render("news", nil)
	require.NoError(t, err)

	feed, err := gofeed.NewParser().ParseString(doc)
	require.NoError(t, err)
	require.NotNil(t, feed.PublishedParsed)
	assert.False(t, feed.PublishedParsed.Before(before.Truncate(time.Second)))
}

func TestRenderEscapesNames(t *testing.T) {
	doc, err := testRenderer().Render("r&d <lab>", nil)
	require.NoError(t, err)

	feed, err := gofeed.NewParser().ParseString(doc)
	require.NoError(t, err)
	assert.Equal(t, "r&d <lab> messages", feed.Title)
}

func TestRenderDropsInvalidXMLCharacters(t *testing.T) {
	items := []models.FeedItem{
		{
			ID:        "control",
			Sender:    "@alice:example.org",
			Content:   "bad \x01 https://x.com",
			Link:      "https://x.com",
			Timestamp: renderTime,
		},
		{
			ID:        "broken-utf8",
			Sender:    "@bob:example.org",
			Content:   "half \xff\x1b rune https://y.com",
			Link:      "https://y.com",
			Timestamp: renderTime,
		},
	}

	doc, err := testRenderer().Render("news", items)
	require.NoError(t, err)
	assert.NotContains(t, doc, "\x01")
	assert.NotContains(t, doc, "\x1b")

	feed, err := gofeed.NewParser().ParseString(doc)
	require.NoError(t, err)
	require.Len(t, feed.Items, 2)

	assert.Equal(t, "bad  https://x.com", feed.Items[0].Title)
	assert.Equal(t, "bad  https://x.com", feed.Items[0].Description)
	assert.Equal(t, "bad  https://x.com", feed.Items[0].Content)
	assert.Equal(t, "half \uFFFD rune https://y.com", feed.Items[1].Content)
}
