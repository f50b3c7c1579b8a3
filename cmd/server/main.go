package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yuzu/interviewer/internal/api"
	"yuzu/interviewer/internal/config"
	"yuzu/interviewer/internal/floor"
	"yuzu/interviewer/internal/health"
	"yuzu/interviewer/internal/interview"
	"yuzu/interviewer/internal/llm"
	"yuzu/interviewer/internal/logging"
	"yuzu/interviewer/internal/observe"
	"yuzu/interviewer/internal/store"
	"yuzu/interviewer/internal/stt"
	"yuzu/interviewer/internal/transport"
	"yuzu/interviewer/internal/tts"
	"yuzu/interviewer/internal/turn"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logging.New(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observe.InitTracing("yuzu-interviewer", nil)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	httpc := &http.Client{Timeout: 60 * time.Second}
	st := store.New()
	reg := transport.NewRegistry()

	chat, err := llm.New(llm.Config{
		Provider:    cfg.LLM.Provider,
		Endpoint:    cfg.LLM.Endpoint,
		APIKey:      cfg.LLM.APIKey,
		Deployment:  cfg.LLM.Deployment,
		APIVersion:  cfg.LLM.APIVersion,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, httpc)
	if err != nil {
		log.Warn("llm unavailable; replies will use the fallback line", zap.Error(err))
		chat = llm.Unavailable{Err: err}
	}
	engine := interview.New(interview.Config{
		MaxTurns:       cfg.Interview.MaxTurns,
		HistoryChars:   cfg.Interview.HistoryChars,
		OpeningLine:    cfg.Interview.OpeningLine,
		ClosingLine:    cfg.Interview.ClosingLine,
		EmptyReplyText: cfg.Interview.EmptyReplyText,
		Persona:        cfg.Interview.Persona,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
	}, chat, st, log)

	speech := tts.NewElevenLabs(tts.Config{
		APIKey:  cfg.Eleven.APIKey,
		VoiceID: cfg.Eleven.VoiceID,
		ModelID: cfg.Eleven.ModelID,
		BaseURL: cfg.Eleven.BaseURL,
	}, httpc)
	recognizer := stt.NewDeepgram(stt.DeepgramConfig{
		APIKey:         cfg.Deepgram.APIKey,
		BaseURL:        cfg.Deepgram.BaseURL,
		Model:          cfg.Deepgram.Model,
		Language:       cfg.Deepgram.Language,
		EndpointingMs:  cfg.Deepgram.EndpointingMs,
		UtteranceEndMs: cfg.Deepgram.UtteranceEndMs,
	}, log)

	voice := &transport.Handler{
		Store:    st,
		Reg:      reg,
		STT:      recognizer,
		Dialogue: engine,
		TTS:      speech,
		Log:      log,
		Opts: transport.Options{
			TargetRate:        cfg.Audio.TargetSampleRate,
			DefaultClientRate: cfg.Audio.DefaultClientRate,
			TokenSecret:       cfg.Session.TokenSecret,
			TokenSkew:         time.Duration(cfg.Session.TokenSkewSecs) * time.Second,
			AllowedOrigins:    cfg.Server.AllowedOrigins,
			ReadLimit:         1 << 20,
			OutboundQueue:     64,
			WriteTimeout:      10 * time.Second,
			PingInterval:      20 * time.Second,
			Turn: turn.Config{
				GenerationTimeout: cfg.Turn.GenerationTimeout,
				SynthesisTimeout:  cfg.Turn.SynthesisTimeout,
				SpeakingTimeout:   cfg.Turn.SpeakingTimeout,
				FallbackText:      cfg.Turn.FallbackText,
				InboxSize:         cfg.Turn.InboxSize,
				EchoWindow:        cfg.Turn.EchoWindow,
				BargeIn: floor.Config{
					MinFrames: cfg.BargeIn.MinFrames,
					MinRMS:    cfg.BargeIn.MinRMS,
					Guard:     time.Duration(cfg.BargeIn.GuardMs) * time.Millisecond,
				},
			},
		},
	}

	ready := func(ctx context.Context, deep bool) health.HealthStatus {
		if deep {
			return health.CheckAll(ctx, cfg, httpc)
		}
		return health.CheckConfig(cfg)
	}
	h := api.NewHandlers(api.Options{
		TokenSecret: cfg.Session.TokenSecret,
		TokenTTL:    time.Duration(cfg.Session.TokenTTLMin) * time.Minute,
		Ready:       ready,
	}, st, reg, engine, speech, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(h, voice, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcSrv, grpcHealth := health.NewGRPCServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		l, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		log.Info("grpc health listening", zap.String("addr", l.Addr().String()))
		return grpcSrv.Serve(l)
	})
	g.Go(func() error {
		health.Watch(gctx, grpcHealth, func() health.HealthStatus { return health.CheckConfig(cfg) }, 30*time.Second, log)
		return nil
	})
	g.Go(func() error {
		st.RunReaper(gctx, cfg.Session.ReapInterval, cfg.Session.IdleTTL, func(ids []string) {
			for _, id := range ids {
				reg.End(id)
			}
			log.Info("reaped idle sessions", zap.Strings("sessions", ids))
		})
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received; draining")
		// End live voice sessions before draining HTTP so sockets close cleanly.
		for _, id := range st.ListSessionIDs() {
			reg.End(id)
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		grpcSrv.GracefulStop()
		return err
	})
	return g.Wait()
}
