// Package grpcserver runs the operations listener: gRPC health checking and, in dev, reflection.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-checked service.
const ServiceName = "weightcalc.v1.Entitlement"

// Ops is the operations gRPC server.
type Ops struct {
	srv    *grpc.Server
	health *health.Server
	log    *zap.Logger
}

// NewOps builds the server. Both the overall and the named service start NOT_SERVING.
func NewOps(log *zap.Logger, dev bool, opts ...grpc.ServerOption) *Ops {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	)
	s := grpc.NewServer(opts...)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	if dev {
		reflection.Register(s)
	}
	return &Ops{srv: s, health: hs, log: log}
}

// Serve accepts connections on lis until Stop.
func (o *Ops) Serve(lis net.Listener) error {
	o.log.Info("ops listening", zap.String("addr", lis.Addr().String()))
	return o.srv.Serve(lis)
}

// SetServing flips the health status of the service.
func (o *Ops) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	o.health.SetServingStatus("", st)
	o.health.SetServingStatus(ServiceName, st)
}

// Watch polls ready every interval and mirrors the result into the health status until ctx ends.
func (o *Ops) Watch(ctx context.Context, ready func(context.Context) error, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	last := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := ready(ctx)
			ok := err == nil
			if ok != last {
				if !ok {
					o.log.Warn("dependency unhealthy", zap.Error(err))
				} else {
					o.log.Info("dependency recovered")
				}
				o.SetServing(ok)
				last = ok
			}
		}
	}
}

// Stop marks the service NOT_SERVING and drains; after timeout it forces close.
func (o *Ops) Stop(timeout time.Duration) {
	o.health.Shutdown()
	done := make(chan struct{})
	go func() {
		o.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		o.srv.Stop()
	}
}
