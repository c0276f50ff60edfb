package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed sites.yaml
var sitesYAML []byte

type Config struct {
	FaceAPI   FaceAPIConfig
	Assets    AssetsConfig
	Site      SiteConfig
	Detection DetectionConfig
	Log       LogConfig
	Sites     SitesConfig
}

type FaceAPIConfig struct {
	URL   string // defaults to http://localhost:8000
	Model string // defaults to face-recognition
	Dim   int    // defaults to 128
}

type AssetsConfig struct {
	Dir       string   // directory or URL the bundled images are served from
	Reference string   // reference image name, defaults to target.webp
	Overlays  []string // substitute image names
}

type SiteConfig struct {
	Name     string // profile from sites.yaml, defaults to twitter
	Selector string // overrides the profile selector when set
}

type DetectionConfig struct {
	MinImageSize          int           // images at or below this size on either side are ignored
	IntersectionThreshold float64       // visible fraction that counts as on screen
	MatchThreshold        float64       // maximum descriptor distance for a match
	MaxInFlight           int           // concurrent face service calls, 0 for no limit
	ReadyPollInterval     time.Duration // readiness polling interval
}

type LogConfig struct {
	Level  string // debug, info, warn or error
	Format string // text or json
}

type SitesConfig struct {
	Sites map[string]SiteProfile `yaml:"sites"`
}

type SiteProfile struct {
	Selector string   `yaml:"selector"`
	Hosts    []string `yaml:"hosts"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envNonNegInt is envInt that also accepts 0.
func envNonNegInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma separated list, dropping empty items.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func Load() *Config {
	var sites SitesConfig
	if err := yaml.Unmarshal(sitesYAML, &sites); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded sites.yaml: " + err.Error())
	}

	return &Config{
		FaceAPI: FaceAPIConfig{
			URL:   envString("FACE_API_URL", "http://localhost:8000"),
			Model: envString("FACE_API_MODEL", "face-recognition"),
			Dim:   envInt("DESCRIPTOR_DIM", 128),
		},
		Assets: AssetsConfig{
			Dir:       envString("ASSETS_DIR", "assets"),
			Reference: envString("REFERENCE_IMAGE", "target.webp"),
			Overlays:  envList("OVERLAY_IMAGES", []string{"mao1.jpg", "mao2.jpeg", "mao3.jpeg"}),
		},
		Site: SiteConfig{
			Name:     envString("SITE", "twitter"),
			Selector: envString("SITE_SELECTOR", ""),
		},
		Detection: DetectionConfig{
			MinImageSize:          envInt("MIN_IMAGE_SIZE", 50),
			IntersectionThreshold: envFloat("INTERSECTION_THRESHOLD", 0.1),
			MatchThreshold:        envFloat("MATCH_THRESHOLD", 0.6),
			MaxInFlight:           envNonNegInt("MAX_INFLIGHT", 0),
			ReadyPollInterval:     time.Duration(envInt("READY_POLL_INTERVAL_MS", 100)) * time.Millisecond,
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
		Sites: sites,
	}
}

// Selector returns the selector used for the initial image scan: the explicit
// override when set, otherwise the configured site profile's selector.
func (c *Config) Selector() (string, error) {
	if c.Site.Selector != "" {
		return c.Site.Selector, nil
	}
	profile, ok := c.Sites.Sites[c.Site.Name]
	if !ok {
		return "", fmt.Errorf("unknown site %q (known: %s)", c.Site.Name, strings.Join(c.SiteNames(), ", "))
	}
	return profile.Selector, nil
}

// SiteNames returns the known site profiles, sorted.
func (c *Config) SiteNames() []string {
	names := make([]string, 0, len(c.Sites.Sites))
	for name := range c.Sites.Sites {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SiteForHost returns the profile whose hosts include host, if any.
func (c *Config) SiteForHost(host string) (string, bool) {
	host = strings.ToLower(host)
	for _, name := range c.SiteNames() {
		if slices.Contains(c.Sites.Sites[name].Hosts, host) {
			return name, true
		}
	}
	return "", false
}

// Validate reports settings that would make a session unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.FaceAPI.URL == "" {
		errs = append(errs, errors.New("FACE_API_URL is empty"))
	}
	if c.Assets.Reference == "" {
		errs = append(errs, errors.New("REFERENCE_IMAGE is empty"))
	}
	if len(c.Assets.Overlays) == 0 {
		errs = append(errs, errors.New("OVERLAY_IMAGES is empty"))
	}
	if c.Detection.IntersectionThreshold > 1 {
		errs = append(errs, fmt.Errorf("INTERSECTION_THRESHOLD %v is above 1", c.Detection.IntersectionThreshold))
	}
	if _, err := c.Selector(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
