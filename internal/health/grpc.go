package health

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// VoiceService is the service name reported by the gRPC health server.
const VoiceService = "yuzu.interviewer.Voice"

// NewGRPCServer returns a server carrying the standard health service, with
// keepalive tuned for fast detection of dead probers.
func NewGRPCServer() (*grpc.Server, *grpchealth.Server) {
	kap := keepalive.ServerParameters{
		MaxConnectionIdle:     2 * time.Minute,
		MaxConnectionAge:      15 * time.Minute,
		MaxConnectionAgeGrace: 30 * time.Second,
		Time:                  30 * time.Second,
		Timeout:               10 * time.Second,
	}
	kasp := keepalive.EnforcementPolicy{
		MinTime:             10 * time.Second,
		PermitWithoutStream: true,
	}
	s := grpc.NewServer(grpc.KeepaliveParams(kap), grpc.KeepaliveEnforcementPolicy(kasp))
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(VoiceService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s, hs
}

// Watch keeps the voice service status in step with provider configuration
// until ctx is done, then marks everything not serving.
func Watch(ctx context.Context, hs *grpchealth.Server, check func() HealthStatus, every time.Duration, log *zap.Logger) {
	set := func() {
		st := check()
		status := healthpb.HealthCheckResponse_SERVING
		if !st.OK {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			log.Warn("voice service not ready", zap.String("status", st.String()))
		}
		hs.SetServingStatus(VoiceService, status)
	}
	set()
	if every <= 0 {
		every = 30 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			set()
		}
	}
}
