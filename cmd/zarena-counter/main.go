// Command zarena-counter runs one arena node hosting (or attached to)
// the Counter engine: a minimal shared counter that connected peers
// increment or decrement, useful for exercising the full Searching ->
// Client/Host lifecycle without a real game's complexity.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/arenamesh/zarena/internal/v1/adminapi"
	"github.com/arenamesh/zarena/internal/v1/arenanode"
	"github.com/arenamesh/zarena/internal/v1/auth"
	"github.com/arenamesh/zarena/internal/v1/config"
	"github.com/arenamesh/zarena/internal/v1/engine/counter"
	"github.com/arenamesh/zarena/internal/v1/health"
	"github.com/arenamesh/zarena/internal/v1/logging"
	"github.com/arenamesh/zarena/internal/v1/middleware"
	"github.com/arenamesh/zarena/internal/v1/ratelimit"
	"github.com/arenamesh/zarena/internal/v1/tracing"
	"github.com/arenamesh/zarena/internal/v1/transport/rtransport"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var (
	flagTUI       bool
	flagAdminPort string
)

func main() {
	root := &cobra.Command{
		Use:   "zarena-counter",
		Short: "Run an arena node hosting or joining a shared counter",
		RunE:  run,
	}

	root.Flags().BoolVar(&flagTUI, "tui", false, "show a live terminal display instead of reading stdin commands")
	root.Flags().StringVar(&flagAdminPort, "admin-port", "9090", "gRPC admin surface port")

	if err := root.Execute(); err != nil {
		slog.Error("zarena-counter exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(true); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTLPEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, "zarena-counter", cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("initialize tracing: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				slog.Warn("tracer provider shutdown failed", "error", err)
			}
		}()
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	defer redisClient.Close()

	session := rtransport.New(redisClient, rtransport.Options{})
	defer session.Close()

	limiter, err := ratelimit.New(cfg, redisClient)
	if err != nil {
		return fmt.Errorf("build rate limiter: %w", err)
	}

	builder := arenanode.NewBuilder[counter.Action, counter.State](session, counter.Factory()).
		Prefix(cfg.ArenaPrefix).
		ForceHost(cfg.ForceHost).
		StepTimeoutBreakMs(int(cfg.StepTimeoutBreak.Milliseconds())).
		SearchTimeoutMs(int(cfg.SearchTimeout.Milliseconds())).
		SearchJitterMs(int(cfg.SearchJitter.Milliseconds())).
		RateLimiter(limiter)
	if cfg.NodeName != "" {
		builder = builder.Name(cfg.NodeName)
	}
	if cfg.NodeJWTSecret != "" {
		builder = builder.Attestation(auth.NewIssuer(cfg.NodeJWTSecret, time.Minute), auth.NewValidator(cfg.NodeJWTSecret))
	}

	node, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("build node: %w", err)
	}
	slog.Info("node started", "id", node.ID().String(), "prefix", cfg.ArenaPrefix, "force_host", cfg.ForceHost)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	handler := health.NewHandler(redisClient, node)
	router.GET("/health/live", handler.Liveness)
	router.GET("/health/ready", handler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server failed", "error", err)
		}
	}()

	adminServer := adminapi.NewServer(node)
	grpcServer := grpc.NewServer()
	adminapi.Register(grpcServer, adminServer)
	adminLis, err := net.Listen("tcp", ":"+flagAdminPort)
	if err != nil {
		return fmt.Errorf("listen for admin gRPC on %s: %w", flagAdminPort, err)
	}
	go func() {
		if err := grpcServer.Serve(adminLis); err != nil {
			slog.Error("admin grpc server failed", "error", err)
		}
	}()

	stepDone := make(chan struct{})
	go runStepLoop(ctx, node, adminServer, stepDone)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if flagTUI {
		go func() {
			if err := runTUI(ctx, node); err != nil {
				slog.Error("tui exited with error", "error", err)
			}
			quit <- syscall.SIGTERM
		}()
	} else {
		go readStdinCommands(ctx, node)
	}

	<-quit
	slog.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := node.Stop(stopCtx); err != nil {
		slog.Warn("failed to deliver stop command", "error", err)
	}

	select {
	case <-stepDone:
	case <-stopCtx.Done():
		slog.Warn("step loop did not exit before shutdown timeout")
	}

	cancel()
	_ = node.Close(context.Background())
	_ = httpServer.Shutdown(context.Background())
	grpcServer.GracefulStop()
	return nil
}

// runStepLoop drives the node's state machine: Step blocks until one
// event resolves, so this is the whole "main loop" the runtime needs.
func runStepLoop(ctx context.Context, node *arenanode.Node[counter.Action, counter.State], admin *adminapi.Server, done chan<- struct{}) {
	defer close(done)
	for {
		outcome, err := node.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Warn(ctx, "step returned error", zap.Error(err))
		}
		switch outcome.Kind {
		case arenanode.OutcomeGameState:
			slog.Info("counter state", "count", outcome.State.Count, "role", node.CurrentRole())
		case arenanode.OutcomeRoleChanged:
			slog.Info("role changed", "role", outcome.Role.String())
			admin.PublishRoleChange(outcome.Role.String())
		case arenanode.OutcomeStop:
			slog.Info("node stopped")
			return
		}
	}
}

// readStdinCommands lets a human operator drive the counter: "inc",
// "dec" or "quit" lines become commands sent to the node.
func readStdinCommands(ctx context.Context, node *arenanode.Node[counter.Action, counter.State]) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "inc":
			send(ctx, node, counter.Action{Kind: counter.Increment})
		case "dec":
			send(ctx, node, counter.Action{Kind: counter.Decrement})
		case "quit":
			_ = node.Stop(ctx)
			return
		case "":
		default:
			slog.Warn("unrecognized command, expected inc/dec/quit", "input", line)
		}
	}
}

func send(ctx context.Context, node *arenanode.Node[counter.Action, counter.State], action counter.Action) {
	select {
	case node.Sender() <- arenanode.GameAction[counter.Action](action):
	case <-ctx.Done():
	case <-time.After(time.Second):
		slog.Warn("dropped command, node not consuming commands")
	}
}
