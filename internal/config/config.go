package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port           string
		GRPCPort       string
		LogLevel       string
		AllowedOrigins []string
	}
	Audio struct {
		TargetSampleRate  int
		DefaultClientRate int
		FrameMs           int
	}
	Turn struct {
		GenerationTimeout time.Duration
		SynthesisTimeout  time.Duration
		SpeakingTimeout   time.Duration
		InboxSize         int
		FallbackText      string
		EchoWindow        time.Duration
	}
	BargeIn struct {
		MinFrames int
		MinRMS    float64
		GuardMs   int
	}
	Interview struct {
		MaxTurns       int
		HistoryChars   int
		OpeningLine    string
		ClosingLine    string
		EmptyReplyText string
		Persona        string
	}
	Session struct {
		IdleTTL       time.Duration
		ReapInterval  time.Duration
		TokenSecret   string
		TokenTTLMin   int
		TokenSkewSecs int
	}
	Deepgram struct {
		APIKey         string
		BaseURL        string
		Model          string
		Language       string
		EndpointingMs  int
		UtteranceEndMs int
	}
	LLM struct {
		Provider    string
		Endpoint    string
		APIKey      string
		Deployment  string
		APIVersion  string
		Model       string
		BaseURL     string
		MaxTokens   int
		Temperature float64
	}
	Eleven struct {
		APIKey  string
		VoiceID string
		ModelID string
		BaseURL string
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.allowed_origins", "*")

	v.SetDefault("audio.target_sample_rate", 16000)
	v.SetDefault("audio.default_client_rate", 44100)
	v.SetDefault("audio.frame_ms", 20)

	v.SetDefault("turn.generation_timeout", "30s")
	v.SetDefault("turn.synthesis_timeout", "15s")
	v.SetDefault("turn.speaking_timeout", "60s")
	v.SetDefault("turn.inbox_size", 256)
	v.SetDefault("turn.echo_window", "3s")
	v.SetDefault("turn.fallback_text", "I'm sorry, I'm having trouble connecting to my brain right now.")

	v.SetDefault("bargein.min_frames", 1)
	v.SetDefault("bargein.min_rms", 0)
	v.SetDefault("bargein.guard_ms", 0)

	v.SetDefault("interview.max_turns", 15)
	v.SetDefault("interview.history_chars", 2000)
	v.SetDefault("interview.opening_line", "Hi, I'm your AI interviewer. Can you hear me clearly?")
	v.SetDefault("interview.closing_line", "The interview is now complete. Thank you for your time.")
	v.SetDefault("interview.empty_reply_text", "I see. Tell me more.")
	v.SetDefault("interview.persona", "You are a friendly but rigorous technical interviewer conducting a spoken interview. Keep every reply short enough to be spoken aloud, ask one question at a time, and never use markdown.")

	v.SetDefault("session.idle_ttl", "1h")
	v.SetDefault("session.reap_interval", "5m")
	v.SetDefault("session.token_ttl_min", 120)
	v.SetDefault("session.token_skew_secs", 60)

	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("deepgram.language", "en-US")
	v.SetDefault("deepgram.endpointing_ms", 1000)
	v.SetDefault("deepgram.utterance_end_ms", 1500)

	v.SetDefault("llm.provider", "azure")
	v.SetDefault("llm.api_version", "2024-02-15-preview")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 300)
	v.SetDefault("llm.temperature", 0.7)

	v.SetDefault("elevenlabs.model_id", "eleven_turbo_v2")

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.grpc_port", "GRPC_PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")

	v.BindEnv("audio.target_sample_rate", "AUDIO_TARGET_SAMPLE_RATE")
	v.BindEnv("audio.default_client_rate", "AUDIO_DEFAULT_CLIENT_RATE")
	v.BindEnv("audio.frame_ms", "AUDIO_FRAME_MS")

	v.BindEnv("turn.generation_timeout", "TURN_GENERATION_TIMEOUT")
	v.BindEnv("turn.synthesis_timeout", "TURN_SYNTHESIS_TIMEOUT")
	v.BindEnv("turn.speaking_timeout", "TURN_SPEAKING_TIMEOUT")
	v.BindEnv("turn.inbox_size", "TURN_INBOX_SIZE")
	v.BindEnv("turn.echo_window", "TURN_ECHO_WINDOW")
	v.BindEnv("turn.fallback_text", "TURN_FALLBACK_TEXT")

	v.BindEnv("bargein.min_frames", "BARGEIN_MIN_FRAMES")
	v.BindEnv("bargein.min_rms", "BARGEIN_MIN_RMS")
	v.BindEnv("bargein.guard_ms", "BARGEIN_GUARD_MS")

	v.BindEnv("interview.max_turns", "INTERVIEW_MAX_TURNS")
	v.BindEnv("interview.history_chars", "INTERVIEW_HISTORY_CHARS")
	v.BindEnv("interview.opening_line", "INTERVIEW_OPENING_LINE", "ELEVENLABS_CANNED_PHRASE")
	v.BindEnv("interview.closing_line", "INTERVIEW_CLOSING_LINE")
	v.BindEnv("interview.empty_reply_text", "INTERVIEW_EMPTY_REPLY_TEXT")
	v.BindEnv("interview.persona", "INTERVIEW_PERSONA")

	v.BindEnv("session.idle_ttl", "SESSION_IDLE_TTL")
	v.BindEnv("session.reap_interval", "SESSION_REAP_INTERVAL")
	v.BindEnv("session.token_secret", "SESSION_TOKEN_SECRET")
	v.BindEnv("session.token_ttl_min", "SESSION_TOKEN_TTL_MIN")
	v.BindEnv("session.token_skew_secs", "SESSION_TOKEN_SKEW_SECS")

	v.BindEnv("deepgram.api_key", "DEEPGRAM_API_KEY")
	v.BindEnv("deepgram.base_url", "DEEPGRAM_WS_URL")
	v.BindEnv("deepgram.model", "DEEPGRAM_MODEL")
	v.BindEnv("deepgram.language", "DEEPGRAM_LANGUAGE")
	v.BindEnv("deepgram.endpointing_ms", "DEEPGRAM_ENDPOINTING_MS")
	v.BindEnv("deepgram.utterance_end_ms", "DEEPGRAM_UTTERANCE_END_MS")

	v.BindEnv("llm.provider", "LLM_PROVIDER")
	v.BindEnv("llm.endpoint", "AZURE_OPENAI_ENDPOINT")
	v.BindEnv("llm.api_key", "AZURE_OPENAI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("llm.deployment", "AZURE_OPENAI_DEPLOYMENT")
	v.BindEnv("llm.api_version", "AZURE_OPENAI_API_VERSION")
	v.BindEnv("llm.model", "LLM_MODEL")
	v.BindEnv("llm.base_url", "OPENAI_BASE_URL")
	v.BindEnv("llm.max_tokens", "LLM_MAX_TOKENS")
	v.BindEnv("llm.temperature", "LLM_TEMPERATURE")

	v.BindEnv("elevenlabs.api_key", "ELEVENLABS_API_KEY")
	v.BindEnv("elevenlabs.voice_id", "ELEVENLABS_VOICE_ID")
	v.BindEnv("elevenlabs.model_id", "ELEVENLABS_MODEL_ID")
	v.BindEnv("elevenlabs.base_url", "ELEVENLABS_BASE_URL")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.GRPCPort = toString(v.Get("server.grpc_port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.AllowedOrigins = splitList(v.GetString("server.allowed_origins"))

	c.Audio.TargetSampleRate = v.GetInt("audio.target_sample_rate")
	c.Audio.DefaultClientRate = v.GetInt("audio.default_client_rate")
	c.Audio.FrameMs = v.GetInt("audio.frame_ms")

	c.Turn.GenerationTimeout = v.GetDuration("turn.generation_timeout")
	c.Turn.SynthesisTimeout = v.GetDuration("turn.synthesis_timeout")
	c.Turn.SpeakingTimeout = v.GetDuration("turn.speaking_timeout")
	c.Turn.InboxSize = v.GetInt("turn.inbox_size")
	c.Turn.EchoWindow = v.GetDuration("turn.echo_window")
	c.Turn.FallbackText = v.GetString("turn.fallback_text")

	c.BargeIn.MinFrames = v.GetInt("bargein.min_frames")
	c.BargeIn.MinRMS = v.GetFloat64("bargein.min_rms")
	c.BargeIn.GuardMs = v.GetInt("bargein.guard_ms")

	c.Interview.MaxTurns = v.GetInt("interview.max_turns")
	c.Interview.HistoryChars = v.GetInt("interview.history_chars")
	c.Interview.OpeningLine = v.GetString("interview.opening_line")
	c.Interview.ClosingLine = v.GetString("interview.closing_line")
	c.Interview.EmptyReplyText = v.GetString("interview.empty_reply_text")
	c.Interview.Persona = v.GetString("interview.persona")

	c.Session.IdleTTL = v.GetDuration("session.idle_ttl")
	c.Session.ReapInterval = v.GetDuration("session.reap_interval")
	c.Session.TokenSecret = v.GetString("session.token_secret")
	c.Session.TokenTTLMin = v.GetInt("session.token_ttl_min")
	c.Session.TokenSkewSecs = v.GetInt("session.token_skew_secs")

	c.Deepgram.APIKey = v.GetString("deepgram.api_key")
	c.Deepgram.BaseURL = v.GetString("deepgram.base_url")
	c.Deepgram.Model = v.GetString("deepgram.model")
	c.Deepgram.Language = v.GetString("deepgram.language")
	c.Deepgram.EndpointingMs = v.GetInt("deepgram.endpointing_ms")
	c.Deepgram.UtteranceEndMs = v.GetInt("deepgram.utterance_end_ms")

	c.LLM.Provider = strings.ToLower(v.GetString("llm.provider"))
	c.LLM.Endpoint = v.GetString("llm.endpoint")
	c.LLM.APIKey = v.GetString("llm.api_key")
	c.LLM.Deployment = v.GetString("llm.deployment")
	c.LLM.APIVersion = v.GetString("llm.api_version")
	c.LLM.Model = v.GetString("llm.model")
	c.LLM.BaseURL = v.GetString("llm.base_url")
	c.LLM.MaxTokens = v.GetInt("llm.max_tokens")
	c.LLM.Temperature = v.GetFloat64("llm.temperature")

	c.Eleven.APIKey = v.GetString("elevenlabs.api_key")
	c.Eleven.VoiceID = v.GetString("elevenlabs.voice_id")
	c.Eleven.ModelID = v.GetString("elevenlabs.model_id")
	c.Eleven.BaseURL = v.GetString("elevenlabs.base_url")

	return c
}

func toString(v any) string { return fmt.Sprint(v) }

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
