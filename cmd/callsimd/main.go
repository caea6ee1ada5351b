// callsimd runs one simulated client call: it rings, the candidate
// answers (or declines), the live audio loop runs until someone hangs
// up, and the transcript prints on exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/simhire/callsim/internal/config"
	"github.com/simhire/callsim/internal/log"
	"github.com/simhire/callsim/internal/metrics"
	"github.com/simhire/callsim/pkg/audioio"
	"github.com/simhire/callsim/pkg/call"
	"github.com/simhire/callsim/pkg/live"
	"github.com/simhire/callsim/pkg/transcript"
	"github.com/simhire/callsim/pkg/web"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config YAML")
		decline    = flag.Bool("decline", false, "reject the call instead of answering")
		duration   = flag.Duration("duration", 0, "cap the call length (overrides config)")
		role       = flag.String("role", "", "candidate job title (overrides config persona)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger := log.L()

	if *duration > 0 {
		cfg.Call.MaxDuration = int(duration.Seconds())
	}
	if *role != "" {
		cfg.Persona.Role = *role
	}

	if cfg.Metrics.Enabled {
		metrics.Serve(cfg.Metrics.Address)
	}

	var dashboard *web.Server
	if cfg.Web.Enabled {
		dashboard = web.NewServer(cfg.Web.Address)
		log.SetSink(dashboard.AddLog)
		dashboard.StartAsync()
		defer dashboard.Shutdown()
	}

	code := run(cfg, dashboard, *decline, logger)
	os.Exit(code)
}

func run(cfg *config.Config, dashboard *web.Server, decline bool, logger *slog.Logger) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source, err := audioio.NewSource(cfg.Capture, logger)
	if err != nil {
		logger.Error("capture device setup failed", "error", err)
		return 1
	}
	sink, err := audioio.NewSink(cfg.Playback, logger)
	if err != nil {
		logger.Error("playback device setup failed", "error", err)
		return 1
	}

	callCfg := call.Config{
		Live: live.Config{
			APIKey:           cfg.Session.APIKey,
			Endpoint:         cfg.Session.Endpoint,
			Model:            cfg.Session.Model,
			Voice:            cfg.Session.Voice,
			Instruction:      cfg.Persona.Instruction(),
			HandshakeTimeout: cfg.Session.GetHandshakeTimeout(),
		},
		Source:       source,
		Sink:         sink,
		MaxDuration:  cfg.Call.GetMaxDuration(),
		ApologyDelay: cfg.Call.GetApologyDelay(),
		ResultDelay:  cfg.Call.GetResultDelay(),
	}
	if dashboard != nil {
		callCfg.OnState = func(s call.State) {
			dashboard.UpdateStatus(func(st *web.CallStatus) { st.State = s.String() })
		}
		callCfg.OnEntry = dashboard.AddTranscriptEntry
	}

	c := call.New(callCfg)
	logger.Info("incoming call",
		"call", c.ID().String()[:8],
		"persona", cfg.Persona.Name,
		"role", cfg.Persona.Role)

	if dashboard != nil {
		dashboard.UpdateStatus(func(st *web.CallStatus) {
			st.CallID = c.ID().String()
			st.Persona = cfg.Persona.Name
			st.StartedAt = time.Now().UTC().Format(time.RFC3339)
		})
	}

	if decline {
		if err := c.Decline(); err != nil {
			logger.Error("decline failed", "error", err)
			return 1
		}
	} else {
		if err := c.Answer(ctx); err != nil {
			logger.Error("answer failed", "error", err)
			// The call still apologizes and ends itself; fall through
			// to print what transcript there is.
		}
		go func() {
			<-ctx.Done()
			c.Hangup()
		}()
	}

	// Hangup already ran via signal; Wait needs its own context.
	result, err := c.Wait(context.Background())
	if err != nil {
		logger.Error("call never completed", "error", err)
		return 1
	}

	printTranscript(result, c.Transcript())

	if avg := c.Latency().AverageLatency(); avg > 0 {
		logger.Info("call summary",
			"turns", len(c.Latency().History()),
			"avg_response_latency", avg)
	}
	return 0
}

func printTranscript(result string, entries []transcript.Entry) {
	fmt.Println()
	fmt.Println("--- call transcript ---")
	if result == "" && len(entries) == 0 {
		fmt.Println("(no conversation)")
	} else {
		fmt.Println(result)
	}
	fmt.Println("-----------------------")
}
