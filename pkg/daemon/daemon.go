// Package daemon wires configuration, metrics, the cache tiers, and the
// cascade into a running imagecached process. It is the composition root:
// nothing outside cmd/imagecached imports it.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/imagecache/internal/logger"
	"github.com/marmos91/imagecache/pkg/bloom"
	"github.com/marmos91/imagecache/pkg/cascade"
	"github.com/marmos91/imagecache/pkg/config"
	"github.com/marmos91/imagecache/pkg/diskcache"
	"github.com/marmos91/imagecache/pkg/metrics"

	// Registers the Prometheus-backed metrics constructors via init().
	_ "github.com/marmos91/imagecache/pkg/metrics/prometheus"
	"github.com/marmos91/imagecache/pkg/provider"
	"github.com/marmos91/imagecache/pkg/providers/cloud"
	"github.com/marmos91/imagecache/pkg/providers/disk"
	"github.com/marmos91/imagecache/pkg/providers/memory"
	"github.com/marmos91/imagecache/pkg/uploadqueue"
)

// Daemon holds every long-lived component the cmd layer starts and stops.
type Daemon struct {
	Cascade *cascade.Cascade

	cfg           *config.Config
	metricsServer *http.Server
	blobStore     provider.BlobStore

	checkpointStop chan struct{}
}

// New builds every configured tier, registers them on a Cascade, and
// starts background runners (disk cleanup, bloom checkpointing, metrics
// HTTP server). Callers must call Close on shutdown.
func New(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("metrics disabled")
	}

	bf, err := bloom.New(cfg.Bloom.EstimatedItems, cfg.Bloom.FalsePositiveRate, cfg.Bloom.SlotCount)
	if err != nil {
		return nil, fmt.Errorf("daemon: failed to construct bloom filter: %w", err)
	}

	uq := uploadqueue.New(uploadqueue.Config{MaxBytes: cfg.UploadQueue.MaxBytes.Int64()})

	cs := cascade.New(cascade.Config{
		Bloom:             bf,
		CoalescingTimeout: cfg.Coalescing.Timeout,
		UploadQueue:       uq,
		OnEvent:           metrics.NewCascadeSink(),
	})

	d := &Daemon{Cascade: cs, cfg: cfg}

	if cfg.Memory.Enabled {
		mp := memory.New(memory.Config{MaxBytes: cfg.Memory.MaxBytes.Int64()})
		if err := cs.RegisterProvider(mp); err != nil {
			return nil, fmt.Errorf("daemon: failed to register memory tier: %w", err)
		}
		logger.Info("memory tier registered", "max_bytes", cfg.Memory.MaxBytes.Uint64())
	}

	if cfg.Disk.Enabled {
		diskProvider, err := newDiskProvider(cfg)
		if err != nil {
			return nil, err
		}
		if err := cs.RegisterProvider(diskProvider); err != nil {
			return nil, fmt.Errorf("daemon: failed to register disk tier: %w", err)
		}
		d.blobStore = diskProvider
		logger.Info("disk tier registered", "root", cfg.Disk.Root, "max_cache_bytes", cfg.Disk.MaxCacheBytes.Uint64())
	}

	if cfg.Cloud.Enabled {
		cp, err := newCloudProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := cs.RegisterProvider(cp); err != nil {
			return nil, fmt.Errorf("daemon: failed to register cloud tier: %w", err)
		}
		logger.Info("cloud tier registered", "bucket", cfg.Cloud.Bucket, "region", cfg.Cloud.Region)
	}

	if d.blobStore != nil && cfg.Bloom.CheckpointPath != "" {
		if err := cs.LoadBloomFilterAsync(ctx); err != nil {
			logger.Warn("failed to load bloom filter checkpoint", "error", err)
		}
		d.startBloomCheckpointing(cfg.Bloom.CheckpointInterval)
	}

	if cfg.Metrics.Enabled {
		d.startMetricsServer(cfg.Metrics.Port)
	}

	return d, nil
}

func newDiskProvider(cfg *config.Config) (*disk.Provider, error) {
	engine, err := newDiskEngine(cfg)
	if err != nil {
		return nil, err
	}
	engine.StartBackgroundCleanup()

	return disk.New(disk.Config{
		Engine:       engine,
		WriteTimeout: cfg.Disk.WriteTimeout,
		MinStoreSize: cfg.Disk.MinStoreSize.Int64(),
	}), nil
}

func newCloudProvider(ctx context.Context, cfg *config.Config) (*cloud.Provider, error) {
	client, err := cloud.NewS3Client(ctx, cfg.Cloud.Region, cfg.Cloud.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("daemon: failed to build S3 client: %w", err)
	}

	return cloud.New(ctx, cloud.Config{
		Client:                client,
		Bucket:                cfg.Cloud.Bucket,
		KeyPrefix:             cfg.Cloud.KeyPrefix,
		CreateBucketIfMissing: cfg.Cloud.CreateBucketIfMissing,
		MaxElapsedTime:        cfg.Cloud.MaxElapsedTime,
		Metrics:               metrics.NewCloudMetrics(),
	})
}

// startBloomCheckpointing periodically persists the rotating bloom filter
// through the disk tier's BlobStore capability.
func (d *Daemon) startBloomCheckpointing(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	d.checkpointStop = make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := d.Cascade.CheckpointBloomFilterAsync(ctx); err != nil {
					logger.Warn("bloom filter checkpoint failed", "error", err)
				}
				cancel()
			case <-d.checkpointStop:
				return
			}
		}
	}()
}

// startMetricsServer exposes the Prometheus registry over HTTP. The
// Prometheus subpackage is imported for its init()-time RegisterXxx side
// effects even when only metrics.GetRegistry is referenced directly here.
func (d *Daemon) startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	d.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := d.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
}

// HealthCheckAsync reports the health of every registered tier.
func (d *Daemon) HealthCheckAsync(ctx context.Context) map[string]bool {
	return d.Cascade.HealthCheckAsync(ctx)
}

// Close stops the bloom checkpoint loop, writes a final checkpoint when
// checkpointing is on, and shuts down the metrics server within ctx. It
// does not drain the upload queue, and it does not close the disk engine
// or stop its background cleanup.
func (d *Daemon) Close(ctx context.Context) error {
	if d.checkpointStop != nil {
		close(d.checkpointStop)
	}

	if d.blobStore != nil && d.cfg.Bloom.CheckpointPath != "" {
		checkpointCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := d.Cascade.CheckpointBloomFilterAsync(checkpointCtx); err != nil {
			logger.Warn("final bloom filter checkpoint failed", "error", err)
		}
		cancel()
	}

	if d.metricsServer != nil {
		if err := d.metricsServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("daemon: metrics server shutdown: %w", err)
		}
	}

	return nil
}

// newDiskEngine opens the content-addressed disk engine per cfg.Disk.
func newDiskEngine(cfg *config.Config) (*diskcache.Engine, error) {
	return diskcache.New(diskcache.Config{
		Root:               cfg.Disk.Root,
		MetaRoot:           cfg.Disk.MetaRoot,
		Shards:             cfg.Disk.Shards,
		Extension:          cfg.Disk.Extension,
		MaxCacheBytes:      cfg.Disk.MaxCacheBytes.Int64(),
		SoftWatermark:      cfg.Disk.SoftWatermark.Int64(),
		MinCleanupBytes:    cfg.Disk.MinCleanupBytes.Int64(),
		MinAgeToDelete:     cfg.Disk.MinAgeToDelete,
		RetryDeletionAfter: cfg.Disk.RetryDeletionAfter,
		CleanupInterval:    cfg.Disk.CleanupInterval,
		Metrics:            metrics.NewDiskMetrics(),
	})
}
