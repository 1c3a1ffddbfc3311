package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	_ "time/tzdata" // for deployments without zoneinfo

	"github.com/bwmarrin/discordgo"
	"github.com/urfave/cli/v3"

	"github.com/zephyrtronium/pollbot/audit"
	"github.com/zephyrtronium/pollbot/chat"
	"github.com/zephyrtronium/pollbot/command"
	"github.com/zephyrtronium/pollbot/commands"
	"github.com/zephyrtronium/pollbot/metrics"
	"github.com/zephyrtronium/pollbot/poll"
	"github.com/zephyrtronium/pollbot/privacy"
	"github.com/zephyrtronium/pollbot/store"
	"github.com/zephyrtronium/pollbot/userhash"
)

var app = cli.Command{
	Name:  "pollbot",
	Usage: "Discord poll bot",

	Flags: []cli.Flag{
		&flagConfig,
		&flagLog,
		&flagLogFormat,
	},
	Commands: []*cli.Command{
		{
			Name:   "init",
			Usage:  "Create the audit log and privacy list tables",
			Action: cliInit,
		},
	},
	Action: cliRun,

	Authors: []any{
		"Branden J Brown  @zephyrtronium",
	},
	Copyright: "Copyright 2024 Branden J Brown",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	go func() {
		<-ctx.Done()
		stop()
	}()
	err := app.Run(ctx, os.Args)
	if err != nil {
		fmt.Println(err)
	}
}

func config(ctx context.Context, cmd *cli.Command) (*Config, error) {
	r, err := os.Open(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("couldn't open config file: %w", err)
	}
	defer r.Close()
	cfg, _, err := Load(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("couldn't load config: %w", err)
	}
	return cfg, nil
}

func cliInit(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := config(ctx, cmd)
	if err != nil {
		return err
	}
	kv, aud, priv, err := loadDBs(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer kv.Close()
	defer aud.Close()
	if priv != aud {
		defer priv.Close()
	}
	if err := audit.Init(ctx, aud); err != nil {
		return fmt.Errorf("couldn't initialize audit log: %w", err)
	}
	if err := privacy.Init(ctx, priv); err != nil {
		return fmt.Errorf("couldn't initialize privacy list: %w", err)
	}
	slog.InfoContext(ctx, "initialized databases", slog.String("audit", cfg.DB.Audit), slog.String("privacy", cfg.DB.Privacy))
	return nil
}

func cliRun(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := config(ctx, cmd)
	if err != nil {
		return err
	}
	secrets, err := loadSecrets(cfg.SecretFile)
	if err != nil {
		return err
	}
	token, err := loadToken(cfg.Discord.TokenFile)
	if err != nil {
		return err
	}
	kv, aud, priv, err := loadDBs(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer kv.Close()
	defer aud.Close()
	if priv != aud {
		defer priv.Close()
	}
	log, err := audit.Open(ctx, aud)
	if err != nil {
		return fmt.Errorf("couldn't open audit log: %w", err)
	}
	private, err := privacy.Open(ctx, priv)
	if err != nil {
		return fmt.Errorf("couldn't open privacy list: %w", err)
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("couldn't create Discord session: %w", err)
	}
	platform := chat.NewDiscord(session, cfg.Discord.Rate.limiter())
	hub := chat.NewHub()
	m := metrics.New()
	env := &poll.Env{
		Platform:  platform,
		Hub:       hub,
		Polls:     store.New[poll.Poll](kv, "polls"),
		Responses: store.New[poll.Response](kv, "responses"),
		Metrics:   m,
		Log:       slog.Default(),
	}
	editors := poll.NewEditors(env)
	voting := poll.NewVoting(env, poll.VotingOptions{
		Resend:     fseconds(cfg.Polls.Resend),
		TallyDelay: fseconds(cfg.Polls.TallyDelay),
	})
	srvs := servers(cfg.Global, cfg.Servers)
	deps := &commands.Deps{
		Platform:  platform,
		Polls:     env.Polls,
		Responses: env.Responses,
		Editors:   editors,
		Voting:    voting,
		Privacy:   private,
		Hasher:    userhash.New(secrets.userhash),
		Servers:   srvs,
		Owner:     cfg.Owner.ID,
	}
	dispatch := command.NewDispatcher(platform, command.Options{Audit: log, Count: m.CommandCount}, commands.All(deps)...)
	slog.InfoContext(ctx, "starting",
		slog.String("owner", cfg.Owner.Name),
		slog.String("contact", cfg.Owner.Contact),
		slog.Int("servers", len(srvs)),
		slog.String("sweep", cfg.Polls.Sweep),
	)
	robo := &Robot{
		session:  session,
		platform: platform,
		hub:      hub,
		env:      env,
		editors:  editors,
		voting:   voting,
		dispatch: dispatch,
		audit:    log,
		servers:  srvs,
		prefix:   cfg.Discord.Prefix,
		sweep:    cfg.Polls.Sweep,
		metrics:  m,
	}
	return robo.Run(ctx, cfg.HTTP.Listen)
}

var (
	flagConfig = cli.StringFlag{
		Name:       "config",
		Required:   true,
		Usage:      "TOML config file",
		Persistent: true,
		Action: func(ctx context.Context, cmd *cli.Command, s string) error {
			i, err := os.Stat(s)
			if err != nil {
				return err
			}
			if !i.Mode().IsRegular() {
				return errors.New("config must be a regular file")
			}
			return nil
		},
	}

	flagLog = cli.StringFlag{
		Name:       "log",
		Usage:      "Logging level, one of debug, info, warn, error",
		Value:      "info",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			var l slog.Level
			return l.UnmarshalText([]byte(s))
		},
	}

	flagLogFormat = cli.StringFlag{
		Name:       "log-format",
		Usage:      "Logging format, either text or json",
		Value:      "text",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			switch strings.ToLower(s) {
			case "text", "json":
				return nil
			default:
				return errors.New("unknown logging format")
			}
		},
	}
)

func loggerFromFlags(cmd *cli.Command) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cmd.String("log"))); err != nil {
		panic(err)
	}
	var h slog.Handler
	switch strings.ToLower(cmd.String("log-format")) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	case "json":
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	}
	return slog.New(h)
}
