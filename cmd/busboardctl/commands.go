package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/dkeye/busboard/internal/adapters/client"
	"github.com/dkeye/busboard/internal/display"
	"github.com/dkeye/busboard/internal/domain"
)

type connFlags struct {
	url      string
	user     string
	password string
	verbose  bool
}

func (f *connFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.url, "url", "http://localhost:8080", "Server base URL")
	cmd.PersistentFlags().StringVar(&f.user, "user", "admin", "Username")
	cmd.PersistentFlags().StringVar(&f.password, "password", "", "Password (or BUSBOARD_PASSWORD)")
	cmd.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "Debug logging")
}

func (f *connFlags) client() (*client.Client, error) {
	pw := f.password
	if pw == "" {
		pw = envPassword()
	}
	return client.New(client.Options{BaseURL: f.url, Username: f.user, Password: pw})
}

func envPassword() string { return os.Getenv("BUSBOARD_PASSWORD") }

func newRootCmd() *cobra.Command {
	flags := &connFlags{}
	root := &cobra.Command{
		Use:           "busboardctl",
		Short:         "Control and watch a busboard server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.InfoLevel
			if flags.verbose {
				level = zerolog.DebugLevel
			}
			zerolog.SetGlobalLevel(level)
		},
	}
	flags.register(root)
	root.AddCommand(newViewerCmd(flags), newControlCmd(flags), newHashPasswordCmd())
	return root
}

func newViewerCmd(flags *connFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "viewer",
		Short: "Connect as a display and log every render effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			return c.RunViewer(cmd.Context(), display.NewViewer(), logEffects)
		},
	}
}

func logEffects(effects []display.Effect) {
	for _, e := range effects {
		ev := log.Info().Str("module", "display").Str("effect", e.Kind())
		switch v := e.(type) {
		case display.RenderStop:
			ev = ev.Str("route", v.RouteID).Str("destination", v.DestinationLabel).Int("index", v.Index).Str("stop", v.Stop.Name).Str("direction", string(v.Direction))
		case display.PlayStopAudio:
			ev = ev.Str("ref", v.Ref)
		case display.Seek:
			ev = ev.Float64("delta", v.DeltaSeconds)
		case display.ReloadMedia:
			ev = ev.Str("source", string(v.Descriptor.SourceKind)).Str("ref", v.Descriptor.Reference)
		case display.SetPlayback:
			ev = ev.Str("state", string(v.State)).Float64("volume", v.Volume)
		case display.SetMessages:
			ev = ev.Strs("messages", v.Messages)
		case display.EventFired:
			ev = ev.Str("event", string(v.Name))
		}
		ev.Msg("effect")
	}
}

const controlVerbs = `Verbs:
  announce | book                   fire a one-shot cue
  next | prev | stop N              move along the active route
  route ID | route-clear            select or deselect a route
  route-put ID LABEL STOP...        create or replace a route; STOP is NAME[|SUBTITLE[|AUDIOREF]]
  route-delete ID                   remove a route
  seek DELTA                        seek the video by DELTA seconds
  status online|offline             service status
  message TEXT...                   replace the scrolling messages (no text clears them)
  media upload FILE | media embed CODE | media disable | media none
  volume V | play | pause           playback intent`

func newControlCmd(flags *connFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "control <verb> [args]",
		Short: "Send one change to the board",
		Long:  "Send one change to the board.\n\n" + controlVerbs,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			upload := func(path string) (string, error) { return c.UploadMedia(cmd.Context(), path) }
			edit, err := parseControl(args, upload)
			if err != nil {
				return err
			}
			if err := c.Control(cmd.Context(), edit); err != nil {
				return err
			}
			log.Info().Str("module", "client").Strs("args", args).Msg("sent")
			return nil
		},
	}
}

// parseControl turns a control command line into a Producer edit. upload
// stores a local file on the server and returns its media reference.
func parseControl(args []string, upload func(path string) (string, error)) (func(*display.Producer) error, error) {
	verb, rest := args[0], args[1:]
	need := func(n int) error {
		if len(rest) != n {
			return fmt.Errorf("%s: want %d argument(s), got %d", verb, n, len(rest))
		}
		return nil
	}

	switch verb {
	case "announce", "book":
		if err := need(0); err != nil {
			return nil, err
		}
		if verb == "book" {
			return func(p *display.Producer) error { p.RequestStop(); return nil }, nil
		}
		return func(p *display.Producer) error { p.Announce(); return nil }, nil
	case "next", "prev":
		if err := need(0); err != nil {
			return nil, err
		}
		return func(p *display.Producer) error {
			step := p.NextStop
			if verb == "prev" {
				step = p.PrevStop
			}
			moved, err := step()
			if err == nil && !moved {
				log.Warn().Str("module", "client").Msg("already at the end of the route")
			}
			return err
		}, nil
	case "stop":
		if err := need(1); err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return nil, fmt.Errorf("stop: %w", err)
		}
		return func(p *display.Producer) error { return p.SelectStop(n) }, nil
	case "route":
		if err := need(1); err != nil {
			return nil, err
		}
		return func(p *display.Producer) error { return p.SelectRoute(rest[0]) }, nil
	case "route-clear":
		if err := need(0); err != nil {
			return nil, err
		}
		return func(p *display.Producer) error { p.ClearRoute(); return nil }, nil
	case "route-put":
		if len(rest) < 3 {
			return nil, fmt.Errorf("route-put: want ID LABEL STOP..., got %d argument(s)", len(rest))
		}
		route := domain.Route{DestinationLabel: rest[1]}
		for _, arg := range rest[2:] {
			route.Stops = append(route.Stops, parseStop(arg))
		}
		return func(p *display.Producer) error { return p.PutRoute(rest[0], route) }, nil
	case "route-delete":
		if err := need(1); err != nil {
			return nil, err
		}
		return func(p *display.Producer) error { return p.DeleteRoute(rest[0]) }, nil
	case "seek":
		if err := need(1); err != nil {
			return nil, err
		}
		delta, err := strconv.ParseFloat(rest[0], 64)
		if err != nil {
			return nil, fmt.Errorf("seek: %w", err)
		}
		return func(p *display.Producer) error { p.Seek(delta); return nil }, nil
	case "status":
		if err := need(1); err != nil {
			return nil, err
		}
		status := domain.ServiceStatus(rest[0])
		if !status.Valid() {
			return nil, fmt.Errorf("status: want online or offline, got %q", rest[0])
		}
		return func(p *display.Producer) error { return p.SetServiceStatus(status) }, nil
	case "message":
		msgs := []string{}
		if len(rest) > 0 {
			msgs = []string{strings.Join(rest, " ")}
		}
		return func(p *display.Producer) error { p.SetMessages(msgs); return nil }, nil
	case "media":
		return parseMedia(rest, upload)
	case "volume":
		if err := need(1); err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(rest[0], 64)
		if err != nil {
			return nil, fmt.Errorf("volume: %w", err)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("volume: want 0..1, got %v", v)
		}
		return func(p *display.Producer) error {
			return p.SetPlayback(p.State().Playback.State, v)
		}, nil
	case "play", "pause":
		if err := need(0); err != nil {
			return nil, err
		}
		state := domain.PlaybackPlaying
		if verb == "pause" {
			state = domain.PlaybackPaused
		}
		return func(p *display.Producer) error {
			return p.SetPlayback(state, p.State().Playback.Volume)
		}, nil
	}
	return nil, fmt.Errorf("unknown control %q", verb)
}

// parseStop reads NAME[|SUBTITLE[|AUDIOREF]].
func parseStop(arg string) domain.Stop {
	parts := strings.SplitN(arg, "|", 3)
	s := domain.Stop{Name: parts[0]}
	if len(parts) > 1 {
		s.Subtitle = parts[1]
	}
	if len(parts) > 2 {
		s.AudioRef = parts[2]
	}
	return s
}

func parseMedia(rest []string, upload func(string) (string, error)) (func(*display.Producer) error, error) {
	if len(rest) == 0 {
		return nil, fmt.Errorf("media: want upload FILE, embed CODE, disable or none")
	}
	switch sub, args := rest[0], rest[1:]; sub {
	case "upload":
		if len(args) != 1 {
			return nil, fmt.Errorf("media upload: want FILE")
		}
		return func(p *display.Producer) error {
			ref, err := upload(args[0])
			if err != nil {
				return fmt.Errorf("media upload: %w", err)
			}
			return p.SetMedia(domain.SourceUploadedFile, ref)
		}, nil
	case "embed":
		if len(args) == 0 {
			return nil, fmt.Errorf("media embed: want CODE")
		}
		code := strings.Join(args, " ")
		return func(p *display.Producer) error { return p.SetMedia(domain.SourceEmbeddedFrame, code) }, nil
	case "disable", "none":
		if len(args) != 0 {
			return nil, fmt.Errorf("media %s: takes no arguments", sub)
		}
		kind := domain.SourceDisabled
		if sub == "none" {
			kind = domain.SourceNone
		}
		return func(p *display.Producer) error { return p.SetMedia(kind, "") }, nil
	}
	return nil, fmt.Errorf("media: unknown action %q", rest[0])
}

func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for auth.users[].password_hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw := envPassword()
			if len(args) == 1 {
				pw = args[0]
			}
			if pw == "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				pw = strings.TrimRight(string(b), "\r\n")
			}
			if pw == "" {
				return fmt.Errorf("empty password")
			}
			h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(h))
			return err
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}
