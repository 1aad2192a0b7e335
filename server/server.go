package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
)

// NewMux routes the websocket relay and the health probe.
func NewMux(hub *Hub, health *HealthHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.WebSocket())
	mux.HandleFunc("GET /health", health.Check)
	return mux
}

// NewGRPC returns a gRPC server with the relay service registered.
func NewGRPC(hub *Hub) *grpc.Server {
	s := grpc.NewServer()
	RegisterRelayServer(s, hub.GRPC())
	return s
}

type Server struct {
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcAddr   string
	logger     *slog.Logger
}

// NewServer serves handler on addr and, when grpcServer is not nil, gRPC on
// grpcAddr. Websocket sessions outlive single requests, so only header reads
// are bounded.
func NewServer(addr string, handler http.Handler, grpcAddr string, grpcServer *grpc.Server, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		grpcServer: grpcServer,
		grpcAddr:   grpcAddr,
		logger:     logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("HTTP server error", "error", err)
		return err
	}

	return nil
}

// StartGRPC blocks serving gRPC. It returns nil immediately when gRPC is
// disabled.
func (s *Server) StartGRPC() error {
	if s.grpcServer == nil || s.grpcAddr == "" {
		return nil
	}

	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		s.logger.Error("gRPC listen error", "addr", s.grpcAddr, "error", err)
		return err
	}

	s.logger.Info("starting gRPC server", "addr", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		s.logger.Error("gRPC server error", "error", err)
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down servers")

	if s.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.grpcServer.Stop()
		}
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("servers shut down successfully")
	return nil
}
