package server

import (
	"net/url"
	"strconv"
	"time"

	"rssbot/models"
	"rssbot/rss"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	feedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rssbot_feed_requests_total",
		Help: "Feed requests, by response status",
	}, []string{"status"})

	feedRenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rssbot_feed_render_duration_seconds",
		Help:    "Time spent rendering a feed document",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // Start at 100µs, double each bucket
	})
)

// FeedSource looks up feed snapshots by name
type FeedSource interface {
	GetFeed(name string) (models.Feed, bool)
}

type ServerConfig struct {
	// Where the feeds are read from
	Feeds FeedSource

	// Renders a feed snapshot as an RSS document
	Renderer *rss.Renderer
}

// Returns a fiber.App serving every subscribed feed at /<feed name>
func Server(config *ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		StrictRouting:         true,
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		feedRequests.WithLabelValues(strconv.Itoa(status)).Inc()
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"path":    c.OriginalURL(),
			"status":  status,
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())

	// Feeds are read only
	app.Use(func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodGet {
			c.Status(fiber.StatusMethodNotAllowed)
			return nil
		}
		return c.Next()
	})

	app.Get("/:feed", func(c *fiber.Ctx) error {
		name, err := url.PathUnescape(c.Params("feed"))
		if err != nil {
			c.Status(fiber.StatusNotFound)
			return nil
		}

		feed, ok := config.Feeds.GetFeed(name)
		if !ok {
			c.Status(fiber.StatusNotFound)
			return nil
		}

		start := time.Now()
		doc, err := config.Renderer.Render(feed.Name, feed.Items)
		feedRenderDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			log.WithFields(log.Fields{
				"feed":  name,
				"error": err,
			}).Error("Error rendering feed")
			c.Status(fiber.StatusInternalServerError)
			return nil
		}

		// Set here rather than through the cors middleware, which leaves the
		// header out for requests without an Origin
		c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		c.Set(fiber.HeaderContentType, "text/xml; charset=utf-8")
		return c.Status(fiber.StatusOK).SendString(doc)
	})

	// Extra segments, trailing slashes and the bare root
	app.Use(func(c *fiber.Ctx) error {
		c.Status(fiber.StatusNotFound)
		return nil
	})

	return app
}
