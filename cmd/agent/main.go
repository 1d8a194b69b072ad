package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pointlink/internal/core/domain"
	"pointlink/internal/core/ports"
	"pointlink/internal/core/services"
	"pointlink/internal/infrastructure/capture"
	"pointlink/internal/infrastructure/monitoring"
	signalinfra "pointlink/internal/infrastructure/signal"
	webrtcinfra "pointlink/internal/infrastructure/webrtc"
	"pointlink/pkg/config"
	"pointlink/pkg/logger"
	"pointlink/pkg/retry"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		configPath  = flag.String("config", "configs/config.yaml", "path to the configuration file")
		relayURL    = flag.String("relay", "ws://localhost:8081/ws", "signaling relay websocket URL")
		room        = flag.String("room", "default", "room to join")
		name        = flag.String("name", "", "member name (defaults to the hostname)")
		points      = flag.Int("points", 30000, "synthetic capture points per frame")
		frameRate   = flag.Int("fps", 30, "synthetic capture frame rate")
		metricsAddr = flag.String("metrics-address", ":9091", "prometheus listen address")
	)
	flag.Parse()

	if *frameRate < 1 {
		*frameRate = 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	member := domain.MemberID(*name)
	if member == "" {
		host, err := os.Hostname()
		if err != nil {
			log.Fatalw("cannot derive member name", "error", err)
		}
		member = domain.MemberID(host)
	}

	// Metrics
	var metrics ports.MetricsSink = ports.NopMetrics{}
	if cfg.Monitoring.PrometheusEnabled {
		collector := monitoring.NewPrometheusCollector()
		metrics = collector

		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, router); err != nil && err != http.ErrServerClosed {
				log.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	// WebRTC configuration (including STUN/TURN from config)
	var iceServers []webrtc.ICEServer
	if len(cfg.WebRTC.ICEServers) > 0 {
		for _, s := range cfg.WebRTC.ICEServers {
			iceServers = append(iceServers, webrtc.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			})
		}
	} else {
		// Fallback STUN server if not configured
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	transportCfg := webrtcinfra.Config{ICEServers: iceServers}
	transportCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	transportCfg.PortRange.Max = cfg.WebRTC.PortRange.Max

	factory := func() (ports.PeerTransport, error) {
		return webrtcinfra.New(transportCfg, metrics, zapLogger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var client *signalinfra.RelayClient
	err = retry.Retry(ctx, retry.DefaultConfig(), func() error {
		dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
		defer dialCancel()

		var dialErr error
		client, dialErr = signalinfra.DialRelay(dialCtx, *relayURL, domain.RoomID(*room), member, zapLogger)
		return dialErr
	})
	if err != nil {
		log.Fatalw("cannot reach signaling relay", "relay", *relayURL, "error", err)
	}
	defer client.Close()

	log.Infow("joined room", "relay", *relayURL, "room", *room, "member", member)

	pointCloudCfg := services.PointCloudConfig{
		SendInterval:  cfg.PointCloud.SendInterval,
		SampleStride:  cfg.PointCloud.SampleStride,
		BufferCeiling: cfg.PointCloud.BufferCeiling,
	}

	source := capture.NewSyntheticSource(*points, zapLogger)
	manager := services.NewSessionManager(member, pointCloudCfg, client, source, factory, metrics, zapLogger)

	go manager.Run(ctx, client.Events())
	go source.Run(ctx, time.Second/time.Duration(*frameRate), manager.SubmitPointBatch)

	fmt.Printf("pointlink agent running as %q in room %q, Ctrl+C to stop\n", member, *room)

	<-ctx.Done()

	log.Info("Shutting down agent...")
	manager.CloseAll()
}
