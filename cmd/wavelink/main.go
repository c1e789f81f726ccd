package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/wavelink/connect/internal/adapters/rtc"
	"github.com/wavelink/connect/internal/config"
	"github.com/wavelink/connect/internal/core"
	"github.com/wavelink/connect/internal/domain"
	"github.com/wavelink/connect/internal/media"
	"github.com/wavelink/connect/internal/room"
	"github.com/wavelink/connect/internal/signaling"
)

func main() {
	var (
		roomID    = pflag.String("room", "", "room to join")
		name      = pflag.String("name", "Guest", "display name")
		endpoint  = pflag.String("endpoint", "", "chat relay endpoint (overrides config)")
		audioOnly = pflag.Bool("audio-only", false, "join without a camera track")
		debug     = pflag.Bool("debug", false, "debug logging")
	)
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *roomID == "" {
		log.Fatal().Msg("--room is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *endpoint != "" {
		cfg.ChatEndpoint = *endpoint
	}
	if *audioOnly {
		cfg.AudioOnly = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	channel := signaling.New(signaling.Config{
		Endpoint:   cfg.ChatEndpoint,
		Room:       domain.RoomID(*roomID),
		UserName:   *name,
		RetryDelay: cfg.RetryDelay,
	})
	provider := rtc.New(rtc.Config{ICEServers: cfg.ICEServers}, channel.SendRaw)
	channel.OnFrame(provider.HandleSignal)

	session := media.NewSession(provider, media.Config{
		AppID:     cfg.AppID,
		AudioOnly: cfg.AudioOnly,
	})

	coord := room.NewCoordinator(session, channel, room.Options{
		DeduplicateSelfEchoes: cfg.DedupEchoes,
	})
	coord.OnConnection(func(s signaling.State) {
		log.Info().Str("state", s.String()).Msg("chat connection")
	})
	coord.OnChat(func(msg domain.ChatMessage) {
		log.Info().Str("sender", msg.Sender).Str("at", msg.Timestamp).Msg(msg.Text)
	})
	coord.OnMembership(func(members []core.Participant) {
		ids := make([]string, 0, len(members))
		for _, p := range members {
			ids = append(ids, p.ID)
		}
		log.Info().Strs("members", ids).Msg("membership changed")
	})
	coord.OnError(func(op string, err error) {
		log.Warn().Err(err).Str("op", op).Msg("room warning")
	})

	if err := coord.Join(ctx, domain.RoomID(*roomID), *name); err != nil {
		log.Fatal().Err(err).Str("room", *roomID).Msg("join failed")
	}

	// Stdin lines become chat messages until EOF or signal.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if err := coord.SendChat(text); err != nil {
				log.Warn().Err(err).Msg("chat send rejected")
			}
		}
	}()

	<-ctx.Done()
	coord.Leave()
}
