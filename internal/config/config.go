// Package config loads the YAML configuration for pointerlink.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/pointerlink/internal/capture"
	"github.com/ayusman/pointerlink/internal/detector"
	"github.com/ayusman/pointerlink/internal/link"
	"github.com/ayusman/pointerlink/internal/target"
)

// Marker kinds for SelectorConfig.Marker.
const (
	MarkerColor    = "color"
	MarkerKeypoint = "keypoint"
	MarkerNone     = "none"
)

// Config is the complete pointerlink configuration.
type Config struct {
	LogLevel string          `yaml:"log_level"`
	Capture  capture.Config  `yaml:"capture"`
	Detector detector.Config `yaml:"detector"`
	Selector SelectorConfig  `yaml:"selector"`
	Actuator ActuatorConfig  `yaml:"actuator"`
	Link     LinkConfig      `yaml:"link"`
	Pipeline PipelineConfig  `yaml:"pipeline"`
	Journal  JournalConfig   `yaml:"journal"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	HTTP     HTTPConfig      `yaml:"http"`
}

// SelectorConfig chooses the target policy and marker test.
type SelectorConfig struct {
	Policy        string `yaml:"policy"` // marker, weighted
	Label         string `yaml:"label"`
	RequireMarker bool   `yaml:"require_marker"`
	Marker        string `yaml:"marker"` // color, keypoint, none
	// KeypointA, KeypointB and KeypointThreshold configure the keypoint marker.
	KeypointA         string              `yaml:"keypoint_a"`
	KeypointB         string              `yaml:"keypoint_b"`
	KeypointThreshold float64             `yaml:"keypoint_threshold"`
	ColorRanges       []detector.HSVRange `yaml:"color_ranges"`
}

// ActuatorConfig is the device's coordinate space. Width and height both
// zero mean the host screen size.
type ActuatorConfig struct {
	Width   int           `yaml:"width"`
	Height  int           `yaml:"height"`
	Initial *target.Point `yaml:"initial,omitempty"`
}

// Size returns the configured actuator space.
func (a ActuatorConfig) Size() target.Size {
	return target.Size{W: a.Width, H: a.Height}
}

// Auto reports whether the actuator space should follow the screen.
func (a ActuatorConfig) Auto() bool {
	return a.Width == 0 && a.Height == 0
}

// LinkConfig configures discovery and streaming on the serial link.
type LinkConfig struct {
	Ports            []string      `yaml:"ports"`
	BaudRate         int           `yaml:"baud_rate"`
	Greeting         string        `yaml:"greeting"`
	Reply            string        `yaml:"reply"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	Echo             bool          `yaml:"echo"`
	EchoTimeout      time.Duration `yaml:"echo_timeout"`
}

// Session returns the link.Config for these settings.
func (l LinkConfig) Session() link.Config {
	return link.Config{
		BaudRate:         l.BaudRate,
		Greeting:         []byte(l.Greeting),
		Reply:            []byte(l.Reply),
		HandshakeTimeout: l.HandshakeTimeout,
		SettleDelay:      l.SettleDelay,
		Echo:             l.Echo,
		EchoTimeout:      l.EchoTimeout,
	}
}

// PipelineConfig tunes the cycle loop.
type PipelineConfig struct {
	Workers         int           `yaml:"workers"`
	Lookahead       int           `yaml:"lookahead"`
	MinInterval     time.Duration `yaml:"min_interval"`
	DetectTimeout   time.Duration `yaml:"detect_timeout"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
	ReportEvery     int           `yaml:"report_every"`
	MotionThreshold float64       `yaml:"motion_threshold"` // percent; 0 disables the gate
	StartDisabled   bool          `yaml:"start_disabled"`
}

// JournalConfig locates the run journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig enables telemetry publishing when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// HTTPConfig enables the status API when Addr is set.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the stock configuration.
func Default() *Config {
	lc := link.DefaultConfig()
	return &Config{
		LogLevel: "info",
		Capture:  capture.Config{RaiseTimeout: capture.DefaultRaiseTimeout},
		Detector: detector.DefaultConfig(),
		Selector: SelectorConfig{
			Policy:            target.PolicyMarker,
			Label:             detector.PersonLabel,
			Marker:            MarkerColor,
			KeypointA:         "left_wrist",
			KeypointB:         "right_wrist",
			KeypointThreshold: 50,
		},
		Link: LinkConfig{
			BaudRate:         lc.BaudRate,
			Greeting:         string(lc.Greeting),
			Reply:            string(lc.Reply),
			HandshakeTimeout: lc.HandshakeTimeout,
			SettleDelay:      lc.SettleDelay,
			Echo:             lc.Echo,
			EchoTimeout:      lc.EchoTimeout,
		},
		Pipeline: PipelineConfig{
			Workers:      4,
			Lookahead:    1,
			MinInterval:  100 * time.Millisecond,
			DrainTimeout: 2 * time.Second,
			ReportEvery:  50,
		},
		Journal: JournalConfig{Path: "pointerlink.db"},
		MQTT:    MQTTConfig{Topic: "pointerlink", ClientID: "pointerlink"},
	}
}

// Load reads path over the defaults and validates the result. An empty
// path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, Validate(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate fills defaults and rejects values the pipeline cannot run with.
func Validate(cfg *Config) error {
	if cfg.Actuator.Width < 0 || cfg.Actuator.Height < 0 ||
		(cfg.Actuator.Width == 0) != (cfg.Actuator.Height == 0) {
		return fmt.Errorf("actuator %dx%d: %w", cfg.Actuator.Width, cfg.Actuator.Height, target.ErrInvalidDimensions)
	}
	if cfg.Actuator.Width > link.MaxCoordinate+1 || cfg.Actuator.Height > link.MaxCoordinate+1 {
		return fmt.Errorf("actuator %dx%d: %w", cfg.Actuator.Width, cfg.Actuator.Height, link.ErrCoordinateRange)
	}

	r := cfg.Capture.Region
	if r.W < 0 || r.H < 0 || (r.W == 0) != (r.H == 0) {
		return fmt.Errorf("capture.region %dx%d: %w", r.W, r.H, target.ErrInvalidDimensions)
	}
	if cfg.Capture.RaiseTimeout <= 0 {
		cfg.Capture.RaiseTimeout = capture.DefaultRaiseTimeout
	}

	switch strings.ToLower(cfg.Detector.Backend) {
	case detector.BackendHOG, detector.BackendYOLO, detector.BackendPose, detector.BackendMock:
		cfg.Detector.Backend = strings.ToLower(cfg.Detector.Backend)
	case "":
		cfg.Detector.Backend = detector.BackendHOG
	default:
		return fmt.Errorf("unknown detector.backend %q", cfg.Detector.Backend)
	}
	if cfg.Detector.Confidence < 0 || cfg.Detector.Confidence > 1 {
		return fmt.Errorf("detector.confidence must be within [0,1], got %v", cfg.Detector.Confidence)
	}

	switch strings.ToLower(cfg.Selector.Policy) {
	case "":
		cfg.Selector.Policy = target.PolicyMarker
	case target.PolicyMarker, target.PolicyWeighted:
		cfg.Selector.Policy = strings.ToLower(cfg.Selector.Policy)
	default:
		return fmt.Errorf("unknown selector.policy %q", cfg.Selector.Policy)
	}
	switch cfg.Selector.Marker {
	case "":
		cfg.Selector.Marker = MarkerNone
	case MarkerColor, MarkerNone:
	case MarkerKeypoint:
		if cfg.Selector.KeypointA == "" || cfg.Selector.KeypointB == "" {
			return errors.New("selector.keypoint_a and keypoint_b are required for the keypoint marker")
		}
		if cfg.Selector.KeypointThreshold <= 0 {
			return errors.New("selector.keypoint_threshold must be > 0")
		}
	default:
		return fmt.Errorf("unknown selector.marker %q", cfg.Selector.Marker)
	}

	if cfg.Link.Greeting == "" || cfg.Link.Reply == "" {
		return errors.New("link.greeting and link.reply are required")
	}
	if cfg.Link.BaudRate <= 0 {
		cfg.Link.BaudRate = link.DefaultBaudRate
	}
	if cfg.Link.SettleDelay < 0 {
		return errors.New("link.settle_delay must be >= 0")
	}

	p := &cfg.Pipeline
	if p.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0, got %d", p.Workers)
	}
	if p.Lookahead < 0 || p.Lookahead >= p.Workers {
		return fmt.Errorf("pipeline.lookahead must be within [0,%d), got %d", p.Workers, p.Lookahead)
	}
	if p.MinInterval < 0 || p.DetectTimeout < 0 {
		return errors.New("pipeline intervals must be >= 0")
	}
	if p.DrainTimeout <= 0 {
		p.DrainTimeout = 2 * time.Second
	}
	if p.ReportEvery <= 0 {
		p.ReportEvery = 50
	}
	if p.MotionThreshold < 0 || p.MotionThreshold > 100 {
		return fmt.Errorf("pipeline.motion_threshold must be within [0,100], got %v", p.MotionThreshold)
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = "pointerlink"
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
		}
	}
	return nil
}
