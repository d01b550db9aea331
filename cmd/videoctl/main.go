package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/dkeye/videoroom/internal/adapters/backend"
	"github.com/dkeye/videoroom/internal/adapters/livekit"
	"github.com/dkeye/videoroom/internal/adapters/p2p"
	"github.com/dkeye/videoroom/internal/app"
	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

var errNoToken = errors.New("one of --token, --backend or --api-key/--api-secret is required")

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cliApp := &cli.App{
		Name:  "videoctl",
		Usage: "headless client for video rooms",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if c.Bool("debug") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "join",
				Usage:  "join a room and print roster changes until interrupted",
				Flags:  append(joinFlags(), keyFlags()...),
				Action: runJoin,
			},
			{
				Name:   "token",
				Usage:  "mint a livekit room token from api keys",
				Flags:  append(keyFlags(), sessionFlag()),
				Action: runToken,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func sessionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "session",
		Usage:    "session id the token is issued for",
		EnvVars:  []string{"VIDEO_SESSION"},
		Required: true,
	}
}

func joinFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "provider",
			Value:   string(domain.DefaultProvider),
			Usage:   "video provider: webrtc or livekit",
			EnvVars: []string{"VIDEO_PROVIDER"},
		},
		&cli.StringFlag{
			Name:     "url",
			Usage:    "room url",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "room token; skips the token lookup",
			EnvVars: []string{"VIDEO_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "session",
			Usage:   "session id used for the token lookup",
			EnvVars: []string{"VIDEO_SESSION"},
		},
		&cli.StringFlag{
			Name:    "backend",
			Usage:   "application backend base url issuing room tokens",
			EnvVars: []string{"VIDEO_BACKEND_BASE_URL"},
		},
		&cli.StringFlag{
			Name:    "credential",
			Usage:   "bearer credential for the backend",
			EnvVars: []string{"VIDEO_CREDENTIAL"},
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "display name",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Value: 30 * time.Second,
			Usage: "join timeout",
		},
		&cli.BoolFlag{
			Name:  "mic",
			Usage: "enable the microphone after joining",
		},
		&cli.BoolFlag{
			Name:  "camera",
			Usage: "enable the camera after joining",
		},
	}
}

func keyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "livekit api key",
			EnvVars: []string{"VIDEO_LIVEKIT_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "api-secret",
			Usage:   "livekit api secret",
			EnvVars: []string{"VIDEO_LIVEKIT_API_SECRET"},
		},
		&cli.StringFlag{
			Name:  "identity",
			Usage: "participant identity embedded in minted tokens",
		},
	}
}

func runToken(c *cli.Context) error {
	minter := livekit.NewTokenMinter(c.String("api-key"), c.String("api-secret"), c.String("identity"))
	token, err := minter.Token(c.Context, "", c.String("session"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func resolveToken(ctx context.Context, c *cli.Context) (string, error) {
	if t := c.String("token"); t != "" {
		return t, nil
	}

	var src core.TokenSource
	switch {
	case c.String("backend") != "":
		client, err := backend.NewTokenClient(c.String("backend"), backend.DefaultTimeout)
		if err != nil {
			return "", err
		}
		src = client
	case c.String("api-key") != "" && c.String("api-secret") != "":
		src = livekit.NewTokenMinter(c.String("api-key"), c.String("api-secret"), c.String("identity"))
	default:
		return "", errNoToken
	}
	return src.Token(ctx, c.String("credential"), c.String("session"))
}

func runJoin(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	name := app.ResolveProviderName(c.String("provider"))
	provider, err := app.NewProvider(name, app.ProviderConfig{
		WebRTC:  p2p.Config{DisplayName: c.String("name")},
		LiveKit: livekit.DefaultConfig(),
	})
	if err != nil {
		return err
	}

	token, err := resolveToken(ctx, c)
	if err != nil {
		return err
	}

	ctrl := app.NewSessionController(provider, app.ControllerOptions{
		JoinTimeout: c.Duration("timeout"),
		DisplayName: c.String("name"),
	})
	defer ctrl.Close(context.Background())

	unsubscribe := ctrl.Subscribe(func(ev core.Event) { printEvent(ctrl, ev) })
	defer unsubscribe()

	if err := ctrl.Connect(ctx, token, domain.JoinOptions{URL: c.String("url"), Name: c.String("name")}); err != nil {
		return err
	}
	if c.Bool("mic") {
		if err := ctrl.SetMicrophoneEnabled(ctx, true); err != nil {
			log.Warn().Err(err).Msg("enable microphone")
		}
	}
	if c.Bool("camera") {
		if err := ctrl.SetCameraEnabled(ctx, true); err != nil {
			log.Warn().Err(err).Msg("enable camera")
		}
	}

	<-ctx.Done()
	log.Info().Msg("leaving")
	return ctrl.Disconnect(context.Background())
}

func printEvent(ctrl *app.SessionController, ev core.Event) {
	e := log.Info().Str("event", string(ev.Type))
	if ev.Participant != nil {
		e = e.Str("participant", string(ev.Participant.ID)).Str("name", ev.Participant.Name)
	}
	if ev.Track != nil {
		e = e.Str("track", ev.Track.ID).Str("kind", string(ev.Track.Kind))
	}
	if ev.Err != nil {
		e = e.Err(ev.Err)
	}
	e.Msg("room event")

	switch ev.Type {
	case core.EventParticipantConnected, core.EventParticipantDisconnected, core.EventConnected:
		snap := ctrl.Snapshot()
		fmt.Printf("%s: %d remote participant(s)\n", snap.Room, len(snap.Remotes))
		for _, p := range snap.Remotes {
			fmt.Printf("  %s %-36s audio=%t video=%t\n", p.ID, p.Name, p.HasAudio, p.HasVideo)
		}
	}
}
