package main

import (
	"melonbooks-monitor/internal/bot"
	"melonbooks-monitor/internal/logger"
	"melonbooks-monitor/internal/monitor"

	"github.com/spf13/cobra"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run a pass now and then on the configured interval",
		Long: `Run a pass now and then every daemon.interval.

With a Telegram token the bot also answers chat commands (/artists, /add,
/remove, /run) from the configured chat.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			tg, err := d.telegram()
			if err != nil {
				return err
			}
			m := d.monitor(d.notifier(tg))
			daemon := monitor.NewDaemon(m, monitor.DaemonOptions{
				Interval:        d.cfg.Daemon.Interval,
				ContinueOnError: d.cfg.Daemon.ContinueOnError,
			}, d.log)

			if tg != nil {
				handler := bot.NewHandler(d.db, d.registry.Sites(), daemon, d.cfg.Telegram.ChatID, d.log.With(logger.String("component", "bot")))
				go handler.Listen(cmd.Context(), tg)
			}
			return daemon.Start(cmd.Context())
		},
	}
}
