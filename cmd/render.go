package cmd

import (
	"fmt"

	"rssbot/rss"

	"github.com/urfave/cli/v2"
)

func renderCmd() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Print an empty feed document",
		ArgsUsage: "<feed name>",
		Description: `Prints the RSS document served for a feed without any items.

Useful for checking that a feed reader accepts the documents before
setting up the bot.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "homeserver-url",
				Usage:   "Homeserver URL used as channel link",
				EnvVars: []string{"HOMESERVER_URL"},
				Value:   "https://matrix.org",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return cli.Exit("expected exactly one feed name", 1)
			}

			doc, err := rss.NewRenderer(ctx.String("homeserver-url")).Render(ctx.Args().First(), nil)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(ctx.App.Writer, doc)
			return err
		},
	}
}
