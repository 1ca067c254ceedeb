package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	for _, key := range []string{EnvPort, EnvBindHost, EnvHeadless, EnvDefaultFPS, EnvSampleRate, EnvUploadsDir, EnvPipelinesModule} {
		t.Setenv(key, "")
	}
	t.Setenv(EnvDataDir, "/tmp/ds")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8787" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
	if !cfg.Headless() {
		t.Error("Headless() default = false, want true")
	}
	if cfg.DefaultFPS() != 30 || cfg.SampleRate() != 22050 {
		t.Errorf("fps = %d, sample rate = %d", cfg.DefaultFPS(), cfg.SampleRate())
	}
	if cfg.DBPath() != filepath.Join("/tmp/ds", DBFilename) {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}
	if cfg.UploadsDir() != filepath.Join("/tmp/ds", "uploads") {
		t.Errorf("UploadsDir() = %q", cfg.UploadsDir())
	}
	if cfg.PipelinesModule() != DefaultPipelinesModule {
		t.Errorf("PipelinesModule() = %q", cfg.PipelinesModule())
	}
	if cfg.PipelinesTimeoutPose() != 30*time.Minute {
		t.Errorf("PipelinesTimeoutPose() = %v", cfg.PipelinesTimeoutPose())
	}
}

func TestNew_FromEnv(t *testing.T) {
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvHeadless, "false")
	t.Setenv(EnvDefaultFPS, "24")
	t.Setenv(EnvUploadsDir, "/srv/uploads")
	t.Setenv(EnvMaxUploadBytes, "0")
	t.Setenv(EnvPipelinesTimeoutBeats, "60")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9000 || cfg.Headless() || cfg.DefaultFPS() != 24 {
		t.Errorf("port = %d, headless = %v, fps = %d", cfg.Port(), cfg.Headless(), cfg.DefaultFPS())
	}
	if cfg.UploadsDir() != "/srv/uploads" {
		t.Errorf("UploadsDir() = %q", cfg.UploadsDir())
	}
	if cfg.MaxUploadBytes() != 0 {
		t.Errorf("MaxUploadBytes() = %d, want 0", cfg.MaxUploadBytes())
	}
	if cfg.PipelinesTimeoutBeats() != time.Minute {
		t.Errorf("PipelinesTimeoutBeats() = %v", cfg.PipelinesTimeoutBeats())
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{EnvPort, "abc"},
		{EnvPort, "70000"},
		{EnvHeadless, "maybe"},
		{EnvDefaultFPS, "0"},
		{EnvSampleRate, "-1"},
		{EnvMaxUploadBytes, "lots"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := New(); err == nil {
				t.Errorf("New() accepted %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("DANCESYNC_TEST_ONLY=from-file\nDANCESYNC_TEST_SET=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DANCESYNC_TEST_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("DANCESYNC_TEST_ONLY") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("DANCESYNC_TEST_ONLY"); got != "from-file" {
		t.Errorf("DANCESYNC_TEST_ONLY = %q", got)
	}
	if got := os.Getenv("DANCESYNC_TEST_SET"); got != "from-env" {
		t.Errorf("existing variable overridden: %q", got)
	}
}
