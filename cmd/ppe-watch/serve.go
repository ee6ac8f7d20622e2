package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sua-org/ppe-watch/internal/alerts"
	"github.com/sua-org/ppe-watch/internal/api"
	"github.com/sua-org/ppe-watch/internal/cameras"
	"github.com/sua-org/ppe-watch/internal/capture"
	"github.com/sua-org/ppe-watch/internal/config"
	"github.com/sua-org/ppe-watch/internal/detection"
	"github.com/sua-org/ppe-watch/internal/metrics"
	"github.com/sua-org/ppe-watch/internal/mqttclient"
	"github.com/sua-org/ppe-watch/internal/storage"
	"github.com/sua-org/ppe-watch/internal/supervisor"
	"github.com/sua-org/ppe-watch/internal/videojobs"
	"github.com/sua-org/ppe-watch/internal/vision"
)

const shutdownTimeout = 10 * time.Second

func serveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, camera streams and alert pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), s)
		},
	}
}

func captureParams(s *config.Settings) capture.Params {
	p := capture.DefaultParams()
	p.Width, p.Height, p.FPS = s.Capture.Width, s.Capture.Height, s.Capture.FPS
	return p
}

func openSnapshots(s *config.Settings) (storage.SnapshotStore, string, error) {
	switch s.Snapshots.Store {
	case "minio":
		st, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:      s.Snapshots.Minio.Endpoint,
			AccessKey:     s.Snapshots.Minio.AccessKey,
			SecretKey:     s.Snapshots.Minio.SecretKey,
			Bucket:        s.Snapshots.Minio.Bucket,
			UseSSL:        s.Snapshots.Minio.UseSSL,
			PublicBaseURL: s.Snapshots.Minio.PublicBaseURL,
		})
		return st, "", err
	default:
		st, err := storage.NewLocalStore(s.Snapshots.Dir, s.Snapshots.URLPrefix)
		return st, s.Snapshots.Dir, err
	}
}

func serve(ctx context.Context, s *config.Settings) error {
	store, err := openStore(ctx, s)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := cameras.NewRegistry(store)
	if _, err := seedCameras(ctx, registry, s.CamerasSeedFile); err != nil {
		log.Printf("[main] %v", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewPipelineMetrics(promReg)
	if err != nil {
		return err
	}

	backend, err := capture.GetBackend(s.Capture.Backend)
	if err != nil {
		return err
	}
	manager := capture.NewManager(registry, backend.Devices, captureParams(s), m)
	registry.SetReleaser(manager)

	snapshots, snapshotDir, err := openSnapshots(s)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}

	// Interfaces stay nil, not typed-nil, when MQTT is off.
	var (
		alertPub  alerts.Publisher
		statusPub supervisor.Publisher
	)
	if s.MQTT.Enabled {
		cli, err := mqttclient.NewClient(mqttclient.Config{
			Host:     s.MQTT.Host,
			Port:     s.MQTT.Port,
			Username: s.MQTT.Username,
			Password: s.MQTT.Password,
			ClientID: s.MQTT.ClientID,

			PublishTimeout: s.MQTT.PublishTimeout,
		})
		if err != nil {
			log.Printf("[main] MQTT disabled: %v", err)
		} else {
			defer cli.Close()
			alertPub, statusPub = cli, cli
		}
	}

	coord := alerts.New(store, snapshots, alertPub, alerts.Config{
		SampleEvery:       s.SampleEvery,
		Throttle:          s.AlertThrottle,
		PersistSuppressed: s.PersistSuppressed,
		BaseTopic:         s.MQTT.BaseTopic,
	}, m)
	defer coord.Close()

	engines := detection.NewProvider(func() (*detection.Engine, error) {
		inf, err := vision.NewONNXInferer(vision.ModelConfig{
			Path:       s.Model.Path,
			Labels:     s.Model.Labels,
			Confidence: float32(s.Model.Confidence),
			IOU:        float32(s.Model.IOU),
			InputSize:  s.Model.InputSize,
		})
		if err != nil {
			return nil, err
		}
		log.Printf("[detection] model %s loaded (%d classes)", s.Model.Path, len(s.Model.Labels))
		return detection.NewEngine(inf, vision.Annotator{}, m), nil
	})
	defer engines.Close()

	encoder := vision.JPEGEncoder{}
	videos := videojobs.NewManager(backend.Files, engines, encoder, videojobs.Config{
		UploadDir:  s.UploadDir,
		Extensions: s.VideoExtensions,
		Pace:       s.VideoPace,
		Quality:    s.JPEGQuality,
	}, m)

	sup := supervisor.New(supervisor.Deps{
		Cameras:     registry,
		Manager:     manager,
		Engines:     engines,
		Encoder:     encoder,
		Coordinator: coord,
		Events:      store,
		Publisher:   statusPub,
		Metrics:     m,
	}, supervisor.Config{
		Quality:        s.JPEGQuality,
		StatusInterval: s.StatusInterval,
		BaseTopic:      s.MQTT.BaseTopic,
	})

	srv := api.New(api.Deps{
		Cameras:     registry,
		Devices:     manager,
		Streams:     sup,
		Videos:      videos,
		Records:     store,
		Gatherer:    promReg,
		SnapshotDir: snapshotDir,
		MaxUploadMB: s.MaxUploadMB,
		CacheTTL:    2 * time.Second,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(s.HTTPAddr)
	})
	g.Go(func() error {
		sup.RunStatusLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("[main] shutting down")
		// Releasing the cameras ends the camera streams; srv.Shutdown ends
		// the video streams.
		sup.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
