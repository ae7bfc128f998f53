// Command fixgw runs the FIX sender-endpoint gateway: it accepts TCP
// connections, creates one multiplexing sender endpoint per connection,
// and drives the framer tick loop that retries buffered backlog and
// enforces the slow-consumer watchdog.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/arclight-markets/fixgw/internal/bus"
	"github.com/arclight-markets/fixgw/internal/config"
	"github.com/arclight-markets/fixgw/internal/gateway"
	"github.com/arclight-markets/fixgw/internal/logging"
	"github.com/arclight-markets/fixgw/internal/metrics"
	"github.com/arclight-markets/fixgw/internal/sysmon"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides FIXGW_LOG_LEVEL)")
	flag.Parse()

	bootLog := logging.New(logging.Config{Level: "info", Format: "console"})

	maxProcs := runtime.GOMAXPROCS(0)
	bootLog.Info().Int("gomaxprocs", maxProcs).Msg("starting fixgw")

	cfg, err := config.Load(&bootLog)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	memLimit, err := sysmon.MemoryLimit()
	if err != nil {
		logger.Warn().Err(err).Msg("could not detect cgroup memory limit")
	}
	maxEndpoints := sysmon.MaxEndpoints(memLimit, cfg.MaxBytesInBuffer)
	logger.Info().Int64("memory_limit_bytes", memLimit).Int("max_endpoints", maxEndpoints).Msg("endpoint capacity sized")

	sampler := sysmon.NewSampler(logger, cfg.SysmonInterval)
	sampler.Start()
	defer sampler.Stop()

	reg, promReg := metrics.NewRegistry()

	var activeEndpoints atomic.Int64
	startedAt := time.Now()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(promReg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":        "healthy",
			"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
			"uptime":        time.Since(startedAt).String(),
			"active":        activeEndpoints.Load(),
			"max_endpoints": maxEndpoints,
		})
	})
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	defer metricsSrv.Close()

	publisher, err := bus.Connect(bus.Config{
		URL:           cfg.NatsURL,
		Subject:       cfg.NatsSubject,
		QueueDepth:    cfg.BusQueueDepth,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer publisher.Close()

	sink := logging.NewGatewaySink(logger)
	framer := gateway.NewFramerLoop()
	framer.OnDisconnect = func(connectionID uint64, reason gateway.DisconnectReason) {
		activeEndpoints.Add(-1)
		reg.EndpointRemoved()
		reg.DisconnectObserved(reason == gateway.ReasonSlowConsumer)
		logger.Info().Uint64("connection_id", connectionID).Str("reason", reason.String()).Msg("connection removed")
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to listen")
	}
	defer listener.Close()
	logger.Info().Str("addr", cfg.ListenAddr).Msg("listening for connections")

	var nextConnID uint64
	timing := metrics.NewTimingSink(reg, func() int64 { return time.Now().UnixMilli() })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Accepted connections are handed off through a channel rather than
	// calling into framer directly, so every mutation of its endpoint
	// table happens on the single tick-loop goroutine below (FramerLoop is
	// not internally synchronized; see its doc comment).
	accepted := make(chan *net.TCPConn, 64)
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		defer close(accepted)
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					logger.Warn().Err(err).Msg("accept failed")
					continue
				}
			}
			tcpConn, ok := conn.(*net.TCPConn)
			if !ok {
				conn.Close()
				continue
			}
			select {
			case accepted <- tcpConn:
			case <-ctx.Done():
				tcpConn.Close()
				return
			}
		}
	}()

	// The library/session layer (out of this component's scope) is what
	// actually calls FramerLoop.Dispatch* for a created endpoint's inputs
	// (outbound messages, replay frames, throttle rejects); this process
	// only owns acceptance, endpoint bookkeeping, and the tick loop.
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	// Housekeeping shares the tick-loop goroutine rather than running on its
	// own, since FramerLoop.Snapshot walks the same unsynchronized endpoint
	// table Tick does.
	housekeeping := time.NewTicker(cfg.HousekeepingInterval)
	defer housekeeping.Stop()

tickLoop:
	for {
		select {
		case conn, ok := <-accepted:
			if !ok {
				accepted = nil
				continue
			}
			connID := atomic.AddUint64(&nextConnID, 1)
			acceptConnection(framer, reg, sink, publisher, timing, &activeEndpoints, conn, connID, cfg)
		case t := <-ticker.C:
			framer.Tick(t.UnixMilli())
		case <-housekeeping.C:
			active, slow, backlogBytes := framer.Snapshot()
			logger.Info().
				Int("active_endpoints", active).
				Int("slow_consumers", slow).
				Int64("backlog_bytes", backlogBytes).
				Msg("housekeeping summary")
		case <-ctx.Done():
			break tickLoop
		}
	}

	logger.Info().Msg("shutting down")
	listener.Close()
	<-acceptDone
}

func acceptConnection(framer *gateway.FramerLoop, reg *metrics.Registry, sink *logging.GatewaySink, publisher *bus.Publisher, timing *metrics.TimingSink, activeEndpoints *atomic.Int64, conn *net.TCPConn, connID uint64, cfg *config.Config) {
	channel, err := gateway.NewSocket(connID, conn, nil)
	if err != nil {
		conn.Close()
		return
	}

	framer.CreateEndpoint(gateway.EndpointConfig{
		ConnectionID:          connID,
		LibraryID:             0,
		MaxBytesInBuffer:      cfg.MaxBytesInBuffer,
		SlowConsumerTimeoutMs: cfg.SlowConsumerTimeoutMs,
	}, channel, sink, reg, publisher, timing, sink)

	endpoint := framer.Lookup(connID)
	if endpoint != nil {
		endpoint.ConfigureThrottle(cfg.ThrottleWindowMs, cfg.ThrottleLimit)
	}
	reg.EndpointCreated()
	activeEndpoints.Add(1)
}

// writeJSON encodes payload as the response body, matching the JSON health
// handler shape used elsewhere in the corpus.
func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
