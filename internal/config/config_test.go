package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Queues.Backend != "dir" {
		t.Errorf("Queues.Backend = %q, want %q", cfg.Queues.Backend, "dir")
	}
	if cfg.Coordinator.ResultBatchSize != 10 {
		t.Errorf("Coordinator.ResultBatchSize = %d, want 10", cfg.Coordinator.ResultBatchSize)
	}
	if cfg.Coordinator.ResultLease != 20*time.Second {
		t.Errorf("Coordinator.ResultLease = %v, want 20s", cfg.Coordinator.ResultLease)
	}
	if cfg.Coordinator.PollBackoff != 2*time.Second {
		t.Errorf("Coordinator.PollBackoff = %v, want 2s", cfg.Coordinator.PollBackoff)
	}
	if cfg.Coordinator.DrainDelay != 5*time.Second {
		t.Errorf("Coordinator.DrainDelay = %v, want 5s", cfg.Coordinator.DrainDelay)
	}
	if cfg.Worker.DrainDelay != 10*time.Second {
		t.Errorf("Worker.DrainDelay = %v, want 10s", cfg.Worker.DrainDelay)
	}
	if cfg.Lease.InitialDelay != 100*time.Millisecond {
		t.Errorf("Lease.InitialDelay = %v, want 100ms", cfg.Lease.InitialDelay)
	}
	if cfg.Lease.CoordinatorInterval != 15*time.Second {
		t.Errorf("Lease.CoordinatorInterval = %v, want 15s", cfg.Lease.CoordinatorInterval)
	}
	if cfg.Lease.WorkerInterval != 10*time.Second {
		t.Errorf("Lease.WorkerInterval = %v, want 10s", cfg.Lease.WorkerInterval)
	}
	if cfg.Scaling.MaxWorkers != 8 {
		t.Errorf("Scaling.MaxWorkers = %d, want 8", cfg.Scaling.MaxWorkers)
	}
	if cfg.Fleet.Mode != "process" {
		t.Errorf("Fleet.Mode = %q, want %q", cfg.Fleet.Mode, "process")
	}
	if cfg.Client.ReplyWait != 20*time.Second {
		t.Errorf("Client.ReplyWait = %v, want 20s", cfg.Client.ReplyWait)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/fanout" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/custom/config/fanout")
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		want := filepath.Join(home, ".config", "fanout")
		if got := ConfigDir(); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := ConfigFile(); got != "/custom/config/fanout/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DataDir(); got != "/custom/data/fanout" {
		t.Errorf("DataDir() = %q", got)
	}

	cfg := Default()
	if cfg.Queues.Root != "/custom/data/fanout/queues" {
		t.Errorf("Queues.Root = %q", cfg.Queues.Root)
	}
	if cfg.Blob.Root != "/custom/data/fanout/blobs" {
		t.Errorf("Blob.Root = %q", cfg.Blob.Root)
	}
}

func TestGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Scaling.MaxWorkers != 8 {
		t.Errorf("Get().Scaling.MaxWorkers = %d, want 8", cfg.Scaling.MaxWorkers)
	}
}

func TestLoad_DecodesDurations(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	viper.Set("coordinator.poll_backoff", "500ms")
	viper.Set("worker.wait", "3s")
	viper.Set("scaling.max_workers", 4)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Coordinator.PollBackoff != 500*time.Millisecond {
		t.Errorf("PollBackoff = %v, want 500ms", cfg.Coordinator.PollBackoff)
	}
	if cfg.Worker.Wait != 3*time.Second {
		t.Errorf("Worker.Wait = %v, want 3s", cfg.Worker.Wait)
	}
	if cfg.Scaling.MaxWorkers != 4 {
		t.Errorf("MaxWorkers = %d, want 4", cfg.Scaling.MaxWorkers)
	}
}

func TestLoad_InvalidFallsBackInGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("scaling.max_workers", 0)

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject max_workers = 0")
	}
	if got := Get().Scaling.MaxWorkers; got != 8 {
		t.Errorf("Get() should fall back to defaults, got max_workers = %d", got)
	}
}
