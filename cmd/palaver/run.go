package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/palaver/internal/agent"
	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/clock"
	"github.com/ehrlich-b/palaver/internal/config"
	"github.com/ehrlich-b/palaver/internal/live"
	"github.com/ehrlich-b/palaver/internal/llm"
	"github.com/ehrlich-b/palaver/internal/logger"
	"github.com/ehrlich-b/palaver/internal/session"
	"github.com/ehrlich-b/palaver/internal/store"
	"github.com/ehrlich-b/palaver/internal/topics"
	"github.com/ehrlich-b/palaver/internal/transcript"
	"github.com/ehrlich-b/palaver/internal/vote"
)

const warmupTimeout = 15 * time.Second

func runCmd() *cobra.Command {
	var topicFlag string
	var modeFlag string
	var interactiveFlag bool
	var dummyFlag bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one debate session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if modeFlag != "" {
				cfg.Debate.Mode = modeFlag
			}
			if dummyFlag {
				forceDummyProviders(cfg)
			}
			if interactiveFlag && len(cfg.Humans) == 0 {
				cfg.Humans = append(cfg.Humans, config.HumanConfig{Name: "You"})
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			topic := topicFlag
			if topic == "" {
				topic = cfg.Topic
			}
			if topic == "" {
				pool := topics.NewPool(cfg.Topics, cfg.TopicsFile)
				topic = pool.Random(rand.New(rand.NewSource(time.Now().UnixNano())))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			var srv *live.Server
			if cfg.Live.Enabled {
				srv = live.NewServer(cfg.Live)
				httpDone := startLiveServer(ctx, srv, cfg.Live.Addr())
				defer func() { <-httpDone }()
			}

			var archive *store.Store
			if cfg.Database.Path != "" {
				archive, err = store.Open(cfg.Database.Path)
				if err != nil {
					return fmt.Errorf("open archive: %w", err)
				}
				defer archive.Close()
			}

			_, err = runOneSession(ctx, cfg, topic, srv, archive)
			return err
		},
	}

	cmd.Flags().StringVarP(&topicFlag, "topic", "t", "", "debate topic (default: config, then a random pool draw)")
	cmd.Flags().StringVarP(&modeFlag, "mode", "m", "", "discussion mode: autonomous or sequential")
	cmd.Flags().BoolVarP(&interactiveFlag, "interactive", "i", false, "join the debate from this terminal")
	cmd.Flags().BoolVar(&dummyFlag, "dummy", false, "replace every provider with the offline dummy")
	return cmd
}

// forceDummyProviders rewrites the roster for a provider-free run.
func forceDummyProviders(cfg *config.Config) {
	cfg.Moderator.Provider = "dummy"
	cfg.Moderator.Model = "scripted"
	for i := range cfg.Bots {
		cfg.Bots[i].Provider = "dummy"
		cfg.Bots[i].Model = "scripted"
	}
}

// runOneSession assembles a bus, roster, and orchestrator, runs the
// session to completion, and writes the transcript and archive record.
func runOneSession(ctx context.Context, cfg *config.Config, topic string, srv *live.Server, archive *store.Store) (session.Results, error) {
	id := uuid.NewString()
	logger.Info("session starting", "session", id, "topic", topic, "mode", cfg.Debate.Mode)

	b := bus.New(bus.WithCapacity(cfg.Chat.HistoryLimit))
	defer b.Close()
	if srv != nil {
		srv.SetSession(id, topic)
		b.AddSink(srv)
	}

	moderator, bots, err := buildBots(cfg, b)
	if err != nil {
		return session.Results{}, err
	}

	participants := make([]agent.Participant, 0, len(bots)+len(cfg.Humans))
	roles := map[string]string{moderator.Name(): "moderator"}
	for _, bot := range bots {
		participants = append(participants, bot)
		roles[bot.Name()] = "bot"
	}
	for _, hc := range cfg.Humans {
		participants = append(participants, agent.NewHuman(hc, b, os.Stdin, os.Stdout))
		roles[hc.Name] = "human"
	}

	warmup(ctx, append(bots, moderator))

	var collector *vote.Collector
	if cfg.Voting.Enabled {
		collector = vote.NewCollector(vote.Config{
			Enabled:                true,
			AllowParticipantVoting: cfg.Voting.AllowParticipantVoting,
			RequireJustification:   cfg.Voting.RequireJustification,
			AnonymousVotes:         cfg.Voting.AnonymousVotes,
		}, clock.Real())
	}

	opts := []session.Option{}
	if srv != nil {
		opts = append(opts, session.WithSnapshots(srv.PublishSnapshot))
	}
	orch := session.New(id, topic, cfg.Debate, b, moderator, participants, collector, opts...)

	results, runErr := orch.Run(ctx)

	// The record is written even when the session aborted: a partial
	// transcript is still a transcript.
	if cfg.Chat.SaveTranscripts {
		doc := transcript.New(b.Snapshot(), b.Stats(), topic, results.Winner, roles)
		path := filepath.Join(cfg.Chat.TranscriptDir, fmt.Sprintf("debate_%s.json", id[:8]))
		if err := transcript.Save(path, doc); err != nil {
			logger.Error("transcript not saved", "session", id, "error", err)
		} else {
			logger.Info("transcript saved", "session", id, "path", path)
		}
	}
	if archive != nil {
		rec := store.Session{
			ID:        id,
			Topic:     topic,
			Mode:      cfg.Debate.Mode,
			Winner:    results.Winner,
			StartedAt: results.StartedAt,
			EndedAt:   results.EndedAt,
		}
		if err := archive.SaveSession(context.Background(), rec, b.Snapshot(), results.Ballots); err != nil {
			logger.Error("session not archived", "session", id, "error", err)
		}
	}

	return results, runErr
}

func buildBots(cfg *config.Config, b *bus.Bus) (*agent.Bot, []*agent.Bot, error) {
	newProvider := func(bc config.BotConfig) (llm.Provider, error) {
		opts := []llm.Option{llm.WithMaxTokens(bc.MaxTokens)}
		if bc.Temperature > 0 {
			opts = append(opts, llm.WithTemperature(bc.Temperature))
		}
		return llm.NewProvider(bc.Provider, cfg.APIKeys.For(bc.Provider), bc.Model, opts...)
	}

	modProvider, err := newProvider(cfg.Moderator)
	if err != nil {
		return nil, nil, fmt.Errorf("moderator: %w", err)
	}
	moderator := agent.NewBot(cfg.Moderator, modProvider, b)

	bots := make([]*agent.Bot, 0, len(cfg.Bots))
	for _, bc := range cfg.Bots {
		provider, err := newProvider(bc)
		if err != nil {
			return nil, nil, fmt.Errorf("bot %s: %w", bc.Name, err)
		}
		bots = append(bots, agent.NewBot(bc, provider, b))
	}
	return moderator, bots, nil
}

// warmup pings every bot's provider once. Failures are logged and the
// session proceeds: structured turns have fallbacks.
func warmup(ctx context.Context, bots []*agent.Bot) {
	warmCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()
	for _, bot := range bots {
		if err := bot.Warmup(warmCtx); err != nil {
			logger.Warn("provider warmup failed", "participant", bot.Name(), "error", err)
		}
	}
}
