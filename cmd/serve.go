package cmd

import (
	"context"
	"fmt"
	"time"

	"rssbot/bot"
	"rssbot/config"
	"rssbot/extract"
	"rssbot/matrix"
	"rssbot/rss"
	"rssbot/server"
	"rssbot/store"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveFlags() []cli.Flag {
	defaults := config.Default()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a TOML config file",
			EnvVars: []string{"RSSBOT_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "homeserver-url",
			Usage:   "Base URL of the Matrix homeserver",
			EnvVars: []string{"HOMESERVER_URL"},
		},
		&cli.StringFlag{
			Name:    "username",
			Usage:   "Bot account username",
			EnvVars: []string{"BOT_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "Bot account password",
			EnvVars: []string{"BOT_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "address",
			Usage:   "Address to serve feeds on, the first argument takes precedence",
			EnvVars: []string{"RSSBOT_ADDRESS"},
			Value:   defaults.Address,
		},
		&cli.StringFlag{
			Name:    "metrics-address",
			Usage:   "Address to serve Prometheus metrics on, disabled when empty",
			EnvVars: []string{"RSSBOT_METRICS_ADDRESS"},
		},
		&cli.DurationFlag{
			Name:    "fetch-timeout",
			Usage:   "Timeout for fetching the title of a linked page",
			EnvVars: []string{"RSSBOT_FETCH_TIMEOUT"},
			Value:   defaults.FetchTimeout,
		},
		&cli.Int64Flag{
			Name:    "fetch-max-bytes",
			Usage:   "How much of a linked page is searched for its title",
			EnvVars: []string{"RSSBOT_FETCH_MAX_BYTES"},
			Value:   defaults.FetchMaxBytes,
		},
		&cli.Float64Flag{
			Name:    "fetch-rate",
			Usage:   "Page fetches per second, 0 for no limit",
			EnvVars: []string{"RSSBOT_FETCH_RATE"},
		},
		&cli.BoolFlag{
			Name:    "allow-private-addresses",
			Usage:   "Allow fetching pages on loopback, private and link-local addresses",
			EnvVars: []string{"RSSBOT_ALLOW_PRIVATE_ADDRESSES"},
		},
		&cli.IntSliceFlag{
			Name:    "allowed-ports",
			Usage:   "Ports linked pages may be fetched from unless private addresses are allowed",
			EnvVars: []string{"RSSBOT_ALLOWED_PORTS"},
			Value:   cli.NewIntSlice(defaults.AllowedPorts...),
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Number of rooms handled in parallel",
			EnvVars: []string{"RSSBOT_WORKERS"},
			Value:   defaults.Workers,
		},
		&cli.IntFlag{
			Name:    "queue-size",
			Usage:   "Messages buffered per worker",
			EnvVars: []string{"RSSBOT_QUEUE_SIZE"},
			Value:   defaults.QueueSize,
		},
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:      "serve",
		Usage:     "Run the bot and serve the feeds",
		ArgsUsage: "[address]",
		Description: `Logs in to the homeserver, listens for commands and links in the rooms
the bot has joined and serves one RSS feed per subscribed room.

Invites are accepted automatically. Feeds are kept in memory only and start
empty on every restart.`,
		Flags:  serveFlags(),
		Action: serve,
	}
}

// loadConfig layers the config file, flags and environment variables on
// top of the defaults
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	conf := config.Default()
	if path := ctx.String("config"); path != "" {
		var err error
		if conf, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}

	if ctx.IsSet("homeserver-url") {
		conf.HomeserverURL = ctx.String("homeserver-url")
	}
	if ctx.IsSet("username") {
		conf.Username = ctx.String("username")
	}
	if ctx.IsSet("password") {
		conf.Password = ctx.String("password")
	}
	if ctx.IsSet("address") {
		conf.Address = ctx.String("address")
	}
	if ctx.Args().Present() {
		conf.Address = ctx.Args().First()
	}
	if ctx.IsSet("metrics-address") {
		conf.MetricsAddress = ctx.String("metrics-address")
	}
	if ctx.IsSet("fetch-timeout") {
		conf.FetchTimeout = ctx.Duration("fetch-timeout")
	}
	if ctx.IsSet("fetch-max-bytes") {
		conf.FetchMaxBytes = ctx.Int64("fetch-max-bytes")
	}
	if ctx.IsSet("fetch-rate") {
		conf.FetchRate = ctx.Float64("fetch-rate")
	}
	if ctx.IsSet("allow-private-addresses") {
		conf.AllowPrivateAddresses = ctx.Bool("allow-private-addresses")
	}
	if ctx.IsSet("allowed-ports") {
		conf.AllowedPorts = ctx.IntSlice("allowed-ports")
	}
	if ctx.IsSet("workers") {
		conf.Workers = ctx.Int("workers")
	}
	if ctx.IsSet("queue-size") {
		conf.QueueSize = ctx.Int("queue-size")
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return conf, nil
}

func serve(ctx *cli.Context) error {
	conf, err := loadConfig(ctx)
	if err != nil {
		return cli.Exit(err, 1)
	}

	log.WithFields(log.Fields{
		"homeserver": conf.HomeserverURL,
		"username":   conf.Username,
	}).Info("Logging in the bot...")

	client, err := matrix.ClientFromCredentials(ctx.Context, conf.HomeserverURL, &matrix.Credentials{
		Username: conf.Username,
		Password: conf.Password,
	})
	if err != nil {
		return cli.Exit(err, 1)
	}
	if err := client.SetDisplayName(ctx.Context, matrix.DisplayName); err != nil {
		return cli.Exit(err, 1)
	}

	feeds := store.New()
	titles := extract.NewTitleFetcher(conf.FetcherConfig())
	processor := bot.NewProcessor(
		bot.ProcessorConfig{
			Workers:   conf.Workers,
			QueueSize: conf.QueueSize,
			OwnUserID: client.UserID(),
		},
		bot.NewCommands(feeds, client),
		bot.NewIngestor(feeds, client, titles),
		client,
	)
	joiner := bot.NewJoiner(client)

	runCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()

	processor.Start(runCtx)

	app := server.Server(&server.ServerConfig{
		Feeds:    feeds,
		Renderer: rss.NewRenderer(conf.HomeserverURL),
	})
	apps := []*fiber.App{app}

	errs := make(chan error, 3)
	go func() {
		log.Infof("Starting server at %s", conf.Address)
		if err := app.Listen(conf.Address); err != nil {
			errs <- fmt.Errorf("feed server stopped: %w", err)
		}
	}()

	if conf.MetricsAddress != "" {
		metrics := server.MetricsServer()
		apps = append(apps, metrics)
		go func() {
			log.Infof("Serving metrics at %s/metrics", conf.MetricsAddress)
			if err := metrics.Listen(conf.MetricsAddress); err != nil {
				errs <- fmt.Errorf("metrics server stopped: %w", err)
			}
		}()
	}

	go func() {
		if err := matrix.NewListener(client, processor, joiner).Run(runCtx); err != nil {
			errs <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Context.Done():
		log.Info("Gracefully shutting down...")
	case runErr = <-errs:
		log.Errorf("Shutting down: %v", runErr)
	}

	cancel()
	for _, a := range apps {
		if err := a.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Warnf("Error shutting down server: %v", err)
		}
	}
	processor.Wait()
	joiner.Wait()

	log.Info("Done!")
	return runErr
}
