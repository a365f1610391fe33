package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/meetlink/internal/auth"
	"github.com/danmuck/meetlink/internal/backend"
	"github.com/danmuck/meetlink/internal/config"
	"github.com/danmuck/meetlink/internal/fallback"
	"github.com/danmuck/meetlink/internal/meeting"
	"github.com/danmuck/meetlink/internal/observability"
	"github.com/danmuck/meetlink/internal/panel"
	"github.com/danmuck/meetlink/internal/transport"
)

type runOptions struct {
	platform  string
	meetingID string
	title     string
	kind      string
	scenario  bool
	duration  time.Duration
}

func newRunCmd(opts *options) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Mount a meeting and stream panel updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if ro.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, ro.duration)
				defer cancel()
			}
			return runPanel(ctx, cmd.OutOrStdout(), cfg, ro)
		},
	}
	cmd.Flags().StringVar(&ro.platform, "platform", string(meeting.PlatformMeet), "host platform: zoom|teams|meet")
	cmd.Flags().StringVar(&ro.meetingID, "meeting-id", "", "meeting id (required unless --scenario)")
	cmd.Flags().StringVar(&ro.title, "title", "", "meeting title")
	cmd.Flags().StringVar(&ro.kind, "kind", string(meeting.KindStandup), "meeting kind")
	cmd.Flags().BoolVar(&ro.scenario, "scenario", false, "use a built-in demo meeting for the platform")
	cmd.Flags().DurationVar(&ro.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func (ro *runOptions) meetingContext(provider *fallback.Provider) (meeting.Context, error) {
	platform, err := meeting.ParsePlatform(ro.platform)
	if err != nil {
		return meeting.Context{}, err
	}
	if ro.scenario {
		mc, ok := provider.ScenarioFor(platform, rand.New(rand.NewSource(time.Now().UnixNano())))
		if !ok {
			return meeting.Context{}, errors.New("no demo scenarios available")
		}
		return mc, nil
	}
	kind, err := meeting.ParseKind(ro.kind)
	if err != nil {
		return meeting.Context{}, err
	}
	mc := meeting.Context{
		Platform:  platform,
		ID:        ro.meetingID,
		Title:     ro.title,
		Kind:      kind,
		Phase:     meeting.PhaseActive,
		StartTime: time.Now(),
	}
	return mc, mc.Validate()
}

func runPanel(ctx context.Context, out io.Writer, cfg config.Config, ro *runOptions) error {
	provider, err := loadProvider(cfg)
	if err != nil {
		return err
	}
	mc, err := ro.meetingContext(provider)
	if err != nil {
		return err
	}

	if !cfg.RealtimeEnabled {
		log.Info().Str("meeting_id", mc.ID).Msg("meetlink.run realtime disabled, serving fallback content")
		content := provider.Content(mc.Kind)
		return writeJSON(out, fallbackView{
			Kind:          mc.Kind,
			Stage:         content.Stage,
			Phase:         fallback.DefaultPhase,
			Questions:     content.Questions,
			Cues:          content.Cues,
			AISuggestions: content.Suggestions,
			Features:      provider.PlatformFeatures(mc.Platform),
		})
	}

	if cfg.TracingEndpoint != "" {
		shutdown, err := observability.InitTracing(ctx, "meetlink", cfg.TracingEndpoint, cfg.TracingInsecure)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}
	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr)
		defer stopMetrics()
	}

	tlsCfg, err := transport.ClientTLS(cfg.CAFile)
	if err != nil {
		return err
	}
	tokens := auth.FallbackSource{Primary: auth.StaticSource(cfg.AuthToken), Fallback: auth.DemoToken}
	api, err := backend.New(backend.Config{
		BaseURL:    cfg.APIBaseURL,
		Tokens:     tokens,
		HTTPClient: transport.HTTPClient(tlsCfg),
		Timeout:    cfg.Session.RequestTimeout,
	})
	if err != nil {
		return err
	}
	var content *fallback.Provider
	if cfg.FallbackEnabled {
		content = provider
	}
	p := panel.New(panel.NewFactory(panel.FactoryConfig{
		WSBaseURL: cfg.WSBaseURL,
		UserID:    auth.ResolveUserID(cfg.UserID, tokens),
		Tokens:    tokens,
		Session:   cfg.Session,
		Fallback:  content,
		Backend:   api,
		Dialer:    transport.WebsocketDialer{WriteTimeout: cfg.Session.WriteTimeout, TLSConfig: tlsCfg},
	}))
	var outMu sync.Mutex
	p.Watch(func(s panel.Snapshot) {
		outMu.Lock()
		defer outMu.Unlock()
		printSnapshot(out, s)
	})

	if err := p.Mount(ctx, mc); err != nil {
		log.Warn().Err(err).Msg("meetlink.run mount failed")
	}
	<-ctx.Done()

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.RequestTimeout)
	defer cancel()
	return p.Close(closeCtx)
}

func printSnapshot(out io.Writer, s panel.Snapshot) {
	errText := ""
	if s.Error != nil {
		errText = s.Error.Error()
	}
	fmt.Fprintf(out, "status=%s fallback=%v loading=%v stage=%s questions=%d cues=%d suggestions=%d error=%q\n",
		s.Status, s.Fallback, s.Loading, s.MeetingStage, len(s.Questions), len(s.Cues), len(s.AISuggestions), errText)
}

func serveMetrics(addr string) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("meetlink.metrics listener failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("meetlink.metrics listening")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
