package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"yuzu/interviewer/internal/config"
)

func providerServer(t *testing.T, status int) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization") + r.Header.Get("xi-api-key") + r.Header.Get("api-key")
		mu.Lock()
		seen = append(seen, r.URL.Path+" "+auth)
		mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), seen...)
	}
}

func configured(base string) config.Config {
	var cfg config.Config
	cfg.Deepgram.APIKey = "dg"
	cfg.Deepgram.BaseURL = "ws" + strings.TrimPrefix(base, "http") + "/v1/listen"
	cfg.Eleven.APIKey = "el"
	cfg.Eleven.VoiceID = "voice1"
	cfg.Eleven.BaseURL = base
	cfg.LLM.Provider = "azure"
	cfg.LLM.APIKey = "az"
	cfg.LLM.Endpoint = base
	cfg.LLM.Deployment = "gpt"
	return cfg
}

func TestCheckAllHealthy(t *testing.T) {
	srv, seen := providerServer(t, http.StatusOK)
	st := CheckAll(context.Background(), configured(srv.URL), srv.Client())
	if !st.OK {
		t.Fatalf("expected healthy, got\n%s", st)
	}
	if len(st.Checks) != 3 {
		t.Fatalf("checks = %d", len(st.Checks))
	}
	joined := strings.Join(seen(), "\n")
	for _, want := range []string{"/v1/projects Token dg", "/v1/voices/voice1 el", "/openai/models az"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("requests %q missing %q", joined, want)
		}
	}
}

func TestCheckAllReportsBadKeys(t *testing.T) {
	srv, _ := providerServer(t, http.StatusUnauthorized)
	st := CheckAll(context.Background(), configured(srv.URL), srv.Client())
	if st.OK {
		t.Fatal("expected failure")
	}
	for _, c := range st.Checks {
		if c.OK || !strings.Contains(c.Error, "invalid API key") {
			t.Fatalf("check %s = %+v", c.Name, c)
		}
	}
	if !strings.Contains(st.String(), "✗ deepgram") {
		t.Fatalf("String() = %q", st.String())
	}
}

func TestElevenLabsUnknownVoice(t *testing.T) {
	srv, _ := providerServer(t, http.StatusNotFound)
	r := checkElevenLabs(context.Background(), configured(srv.URL), srv.Client())
	if r.OK || r.Error != `voice ID "voice1" not found` {
		t.Fatalf("result = %+v", r)
	}
}

func TestOpenAIProviderCheck(t *testing.T) {
	srv, seen := providerServer(t, http.StatusOK)
	cfg := configured(srv.URL)
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = srv.URL + "/v1"
	r := checkLLM(context.Background(), cfg, srv.Client())
	if !r.OK {
		t.Fatalf("result = %+v", r)
	}
	if got := seen(); len(got) != 1 || got[0] != "/v1/models Bearer az" {
		t.Fatalf("requests = %q", got)
	}
}

func TestCheckConfigMissing(t *testing.T) {
	st := CheckConfig(config.Config{})
	if st.OK {
		t.Fatal("empty config should not be ok")
	}
	for _, c := range st.Checks {
		if c.OK || !strings.HasSuffix(c.Error, "not set") {
			t.Fatalf("check %s = %+v", c.Name, c)
		}
	}
	if st := CheckConfig(configured("http://x")); !st.OK {
		t.Fatalf("configured should be ok:\n%s", st)
	}
}

func TestDeepgramRESTBase(t *testing.T) {
	cases := map[string]string{
		"":                                 "https://api.deepgram.com",
		"wss://api.deepgram.com/v1/listen": "https://api.deepgram.com",
		"ws://127.0.0.1:9000/v1/listen":    "http://127.0.0.1:9000",
	}
	for in, want := range cases {
		if got := deepgramRESTBase(in); got != want {
			t.Errorf("deepgramRESTBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGRPCHealthTracksChecks(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	s, hs := NewGRPCServer()
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	client := healthpb.NewHealthClient(conn)

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: VoiceService})
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		return resp.GetStatus()
	}
	if got := status(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("initial status = %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Watch(ctx, hs, func() HealthStatus { return HealthStatus{OK: true} }, time.Hour, zaptest.NewLogger(t))
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for status() != healthpb.HealthCheckResponse_SERVING {
		if time.Now().After(deadline) {
			t.Fatal("service never became SERVING")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if got := status(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after shutdown = %v", got)
	}
}
