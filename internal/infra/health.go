package infra

import (
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GatewayHealthService — имя сервиса в gRPC health, отражающее доступность ленты шлюза.
const GatewayHealthService = "promptguard.gateway"

// Health — gRPC health сервер дашборда.
type Health struct {
	srv *health.Server
}

func NewHealth() *Health {
	h := &Health{srv: health.NewServer()}
	h.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.srv.SetServingStatus(GatewayHealthService, healthpb.HealthCheckResponse_SERVING)
	return h
}

// Register подключает health к gRPC серверу.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// OnBreakerChange — колбэк для предохранителя шлюза: open значит NOT_SERVING.
func (h *Health) OnBreakerChange(_, to gobreaker.State) {
	status := healthpb.HealthCheckResponse_SERVING
	if to == gobreaker.StateOpen {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.srv.SetServingStatus(GatewayHealthService, status)
}

// Server отдает сам health сервер (для проверок и тестов).
func (h *Health) Server() healthpb.HealthServer {
	return h.srv
}

// Shutdown переводит все сервисы в NOT_SERVING.
func (h *Health) Shutdown() {
	h.srv.Shutdown()
}
