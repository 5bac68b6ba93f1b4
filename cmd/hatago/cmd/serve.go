package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httptransport "github.com/hatago/hatago/internal/adapter/inbound/http"
	stdiotransport "github.com/hatago/hatago/internal/adapter/inbound/stdio"
	"github.com/hatago/hatago/internal/adapter/outbound/audit"
	"github.com/hatago/hatago/internal/adapter/outbound/transport"
	"github.com/hatago/hatago/internal/config"
	"github.com/hatago/hatago/internal/domain/upstream"
	"github.com/hatago/hatago/internal/service/activation"
	"github.com/hatago/hatago/internal/service/hub"
)

var (
	serveStdio    bool
	serveAddr     string
	serveTags     []string
	serveAuditDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub",
	Long: `serve loads the configured upstreams, activates the ones with an
"always" activation policy, and exposes the aggregated surface over either
the Streamable HTTP transport (default) or stdio (--stdio), for MCP clients
that only speak stdio servers.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "serve over stdio instead of HTTP")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address, overriding the config file's http.host/http.port")
	serveCmd.Flags().StringSliceVar(&serveTags, "tags", nil, "only activate upstreams carrying one of these tags")
	serveCmd.Flags().StringVar(&serveAuditDir, "audit-dir", "", "directory for the JSONL audit log (default: no audit sink)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(c *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)

	specs, err := cfg.ToSpecs()
	if err != nil {
		return fmt.Errorf("building upstream specs: %w", err)
	}

	var sink hub.AuditSink
	if serveAuditDir != "" {
		fileSink, err := audit.NewFileSink(audit.FileConfig{Dir: serveAuditDir}, logger)
		if err != nil {
			return fmt.Errorf("opening audit sink: %w", err)
		}
		defer func() { _ = fileSink.Close() }()
		sink = fileSink
	}

	clientFactory := activation.ClientFactory(func(spec *upstream.Spec) (*transport.UpstreamSession, error) {
		client, err := transport.NewClient(spec)
		if err != nil {
			return nil, err
		}
		return transport.NewUpstreamSession(client), nil
	})

	h := hub.New(
		upstream.NamingStrategy(cfg.ToolNaming.Strategy),
		cfg.ToolNaming.Separator,
		logger,
		hub.WithClientFactory(clientFactory),
		hub.WithAuditSink(sink),
	)

	if err := h.Init(specs, serveTags); err != nil {
		return fmt.Errorf("initializing upstreams: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("starting hub: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := h.Stop(stopCtx); err != nil {
			logger.Error("error stopping hub", "error", err)
		}
	}()

	if serveStdio {
		logger.Info("serving over stdio")
		st := stdiotransport.New(h, os.Stdin, os.Stdout, logger)
		return st.Start(ctx)
	}

	addr := serveAddr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	}
	logger.Info("serving over HTTP", "addr", addr)
	httpTransport := httptransport.NewHTTPTransport(h,
		httptransport.WithAddr(addr),
		httptransport.WithLogger(logger),
		httptransport.WithSessionTTL(time.Duration(cfg.Session.TTLSeconds)*time.Second),
	)
	return httpTransport.Start(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug", "trace":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
