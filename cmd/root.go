package cmd

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:      "rssbot",
		Usage:     "A Matrix bot publishing room links as RSS feeds",
		ArgsUsage: "[address]",
		Description: `A Matrix bot that turns the links posted in subscribed rooms into
		one RSS feed per room.

		Invite the bot to a room with a name and send "!rss subscribe". Every
		message containing a link is then published at http://<address>/<room name>,
		newest first, titled with the title of the linked page.

		Running without a command starts the bot, same as "serve". Settings
		can be read from a TOML file, flags or environment variables, e.g.:

		--homeserver-url => HOMESERVER_URL=https://matrix.example.org
		--username => BOT_USERNAME=rssbot
		--password => BOT_PASSWORD=secret

		A .env file in the working directory is loaded on startup.
		`,
		Flags:  append(logFlags(), serveFlags()...),
		Before: setupLogging,
		Commands: []*cli.Command{
			serveCmd(),
			renderCmd(),
		},
		Action: serve,
	}
}

// Execute runs the app until it finishes or the process is interrupted
func Execute() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("Failed to load .env file: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootApp().RunContext(ctx, os.Args); err != nil {
		stop()
		log.Fatal(err)
	}
}
