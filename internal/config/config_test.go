package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"FACE_API_URL", "FACE_API_MODEL", "DESCRIPTOR_DIM", "ASSETS_DIR", "REFERENCE_IMAGE",
		"OVERLAY_IMAGES", "SITE", "SITE_SELECTOR", "MIN_IMAGE_SIZE", "INTERSECTION_THRESHOLD",
		"MATCH_THRESHOLD", "MAX_INFLIGHT", "READY_POLL_INTERVAL_MS", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.FaceAPI.URL != "http://localhost:8000" {
		t.Errorf("expected default face API URL, got %q", cfg.FaceAPI.URL)
	}
	if cfg.FaceAPI.Dim != 128 {
		t.Errorf("expected dim 128, got %d", cfg.FaceAPI.Dim)
	}
	if cfg.Assets.Reference != "target.webp" {
		t.Errorf("expected target.webp, got %q", cfg.Assets.Reference)
	}
	if strings.Join(cfg.Assets.Overlays, ",") != "mao1.jpg,mao2.jpeg,mao3.jpeg" {
		t.Errorf("unexpected overlays %v", cfg.Assets.Overlays)
	}
	if cfg.Detection.MinImageSize != 50 {
		t.Errorf("expected min size 50, got %d", cfg.Detection.MinImageSize)
	}
	if cfg.Detection.IntersectionThreshold != 0.1 {
		t.Errorf("expected threshold 0.1, got %v", cfg.Detection.IntersectionThreshold)
	}
	if cfg.Detection.MatchThreshold != 0.6 {
		t.Errorf("expected match threshold 0.6, got %v", cfg.Detection.MatchThreshold)
	}
	if cfg.Detection.MaxInFlight != 0 {
		t.Errorf("expected unlimited in-flight calls, got %d", cfg.Detection.MaxInFlight)
	}
	if cfg.Detection.ReadyPollInterval != 100*time.Millisecond {
		t.Errorf("expected 100ms poll interval, got %v", cfg.Detection.ReadyPollInterval)
	}

	sel, err := cfg.Selector()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel != `div[data-testid="tweetPhoto"] img` {
		t.Errorf("unexpected twitter selector %q", sel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("FACE_API_URL", "http://faces:9000")
	t.Setenv("DESCRIPTOR_DIM", "512")
	t.Setenv("OVERLAY_IMAGES", " a.png, ,b.png ")
	t.Setenv("MIN_IMAGE_SIZE", "80")
	t.Setenv("INTERSECTION_THRESHOLD", "0.5")
	t.Setenv("MAX_INFLIGHT", "4")
	t.Setenv("READY_POLL_INTERVAL_MS", "250")
	t.Setenv("SITE_SELECTOR", "main img")

	cfg := Load()

	if cfg.FaceAPI.URL != "http://faces:9000" {
		t.Errorf("got %q", cfg.FaceAPI.URL)
	}
	if cfg.FaceAPI.Dim != 512 {
		t.Errorf("got dim %d", cfg.FaceAPI.Dim)
	}
	if strings.Join(cfg.Assets.Overlays, ",") != "a.png,b.png" {
		t.Errorf("got overlays %v", cfg.Assets.Overlays)
	}
	if cfg.Detection.MinImageSize != 80 {
		t.Errorf("got min size %d", cfg.Detection.MinImageSize)
	}
	if cfg.Detection.IntersectionThreshold != 0.5 {
		t.Errorf("got threshold %v", cfg.Detection.IntersectionThreshold)
	}
	if cfg.Detection.MaxInFlight != 4 {
		t.Errorf("got max in flight %d", cfg.Detection.MaxInFlight)
	}
	if cfg.Detection.ReadyPollInterval != 250*time.Millisecond {
		t.Errorf("got poll interval %v", cfg.Detection.ReadyPollInterval)
	}
	if sel, _ := cfg.Selector(); sel != "main img" {
		t.Errorf("selector override ignored, got %q", sel)
	}
}

func TestEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected int
	}{
		{"unset", "", 7},
		{"valid", "12", 12},
		{"zero", "0", 7},
		{"negative", "-3", 7},
		{"garbage", "abc", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_INT", tt.value)
			if got := envInt("TEST_ENV_INT", 7); got != tt.expected {
				t.Errorf("envInt(%q) = %d, want %d", tt.value, got, tt.expected)
			}
		})
	}
}

func TestEnvNonNegInt_AcceptsZero(t *testing.T) {
	t.Setenv("TEST_ENV_INT", "0")
	if got := envNonNegInt("TEST_ENV_INT", 3); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestSelector_UnknownSite(t *testing.T) {
	cfg := Load()
	cfg.Site = SiteConfig{Name: "myspace"}

	_, err := cfg.Selector()
	if err == nil {
		t.Fatal("expected error for unknown site")
	}
	if !strings.Contains(err.Error(), "twitter") {
		t.Errorf("error should list known sites, got %v", err)
	}
	if cfg.Validate() == nil {
		t.Error("expected validation error")
	}
}

func TestSiteForHost(t *testing.T) {
	cfg := Load()

	if name, ok := cfg.SiteForHost("X.com"); !ok || name != "twitter" {
		t.Errorf("expected twitter for x.com, got %q %v", name, ok)
	}
	if _, ok := cfg.SiteForHost("example.org"); ok {
		t.Error("expected no profile for example.org")
	}
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.Site = SiteConfig{Name: "twitter"}
	cfg.Assets.Overlays = nil
	cfg.Detection.IntersectionThreshold = 1.5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"OVERLAY_IMAGES", "INTERSECTION_THRESHOLD"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %s in %v", want, err)
		}
	}
}
