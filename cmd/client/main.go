package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yitech/candlerelay/logger"
	"github.com/yitech/candlerelay/server"
)

func main() {
	addr := getEnv("SERVER_ADDR", "localhost:9090")
	symbol := getEnv("SYMBOL", "SOLUSDTM")
	interval := getEnv("INTERVAL", "1min")
	nKline := getEnvInt("N_KLINE", 48)
	log := logger.New(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", "text"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Error("failed to create client", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	p := &printer{log: log, tail: nKline}
	for {
		err := streamCandles(ctx, conn, symbol, interval, p)
		if ctx.Err() != nil {
			return
		}
		log.Warn("stream error, retrying in 3s", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}

// streamCandles opens one relay session, asks for history and prints frames
// until the stream ends.
func streamCandles(ctx context.Context, cc grpc.ClientConnInterface, symbol, interval string, p *printer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := server.OpenSession(ctx, cc)
	if err != nil {
		return err
	}

	req, err := structpb.NewStruct(map[string]any{
		"topic":    "request_history",
		"symbol":   symbol,
		"interval": interval,
	})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}

	for {
		var frame structpb.Struct
		if err := stream.RecvMsg(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("server closed the session")
			}
			return err
		}
		p.handle(&frame)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
