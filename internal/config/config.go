package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Fault policies for a stream that fails during a tick.
const (
	FaultPolicySkip = "skip"
	FaultPolicyFail = "fail"
)

// Inference backends.
const (
	BackendDNN    = "dnn"
	BackendKServe = "kserve"
)

type Config struct {
	Port        int
	CamerasPort int
	CameraNames map[string]string // sender IP -> camera name

	ModelName       string
	ModelPath       string
	ModelConfigPath string
	Backend         string
	KServeURL       string
	KServeInput     string

	Threshold        float32
	TargetClassIndex int
	EpochFrames      int
	TickInterval     time.Duration
	InferenceTimeout time.Duration // 0 waits forever
	FaultPolicy      string

	Streams     []string
	StreamsFile string

	AppName         string
	MQTTBroker      string
	MQTTTopicPrefix string

	DatabasePath          string
	ImageDirectory        string
	SnapshotLimit         int
	SnapshotFlushInterval int // seconds
	LogDirectory          string
}

// streamsFile is the layout of the optional YAML file listing capture URIs.
type streamsFile struct {
	Streams []struct {
		URI string `yaml:"uri"`
	} `yaml:"streams"`
}

// Load reads .env (when present) and the process environment, merges the
// optional streams file and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Port:                  getEnvAsInt("PORT", 8080),
		CamerasPort:           getEnvAsInt("CAMERAS_PORT", 9999),
		CameraNames:           splitPairs(getEnv("CAMERA_NAMES", "")),
		ModelName:             getEnv("MODEL_NAME", "custom-model"),
		ModelPath:             getEnv("MODEL_PATH", filepath.Join(".", "models", "model.onnx")),
		ModelConfigPath:       getEnv("MODEL_CONFIG_PATH", ""),
		Backend:               strings.ToLower(getEnv("INFERENCE_BACKEND", BackendDNN)),
		KServeURL:             getEnv("KSERVE_URL", "http://localhost:9001"),
		KServeInput:           getEnv("KSERVE_INPUT", "input"),
		Threshold:             getEnvAsFloat32("THRESHOLD", 0.50),
		TargetClassIndex:      getEnvAsInt("TARGET_CLASS_INDEX", 180),
		EpochFrames:           getEnvAsInt("EPOCH_FRAMES", 150),
		TickInterval:          getEnvAsMillis("TICK_INTERVAL_MS", 0),
		InferenceTimeout:      getEnvAsMillis("INFERENCE_TIMEOUT_MS", 0),
		FaultPolicy:           strings.ToLower(getEnv("FAULT_POLICY", FaultPolicySkip)),
		Streams:               splitList(getEnv("STREAMS", "")),
		StreamsFile:           getEnv("STREAMS_FILE", ""),
		AppName:               getEnv("APP_NAME", "custom-model"),
		MQTTBroker:            getEnv("MQTT_BROKER", ""),
		MQTTTopicPrefix:       getEnv("MQTT_TOPIC_PREFIX", "edgeclassifier"),
		DatabasePath:          getEnv("DB_PATH", filepath.Join(".", "data", "edgeclassifier.db")),
		ImageDirectory:        getEnv("IMAGE_DIR", filepath.Join(".", "images")),
		SnapshotLimit:         getEnvAsInt("SNAPSHOT_LIMIT", 10),
		SnapshotFlushInterval: getEnvAsInt("SNAPSHOT_FLUSH_INTERVAL", 30),
		LogDirectory:          getEnv("LOG_DIR", filepath.Join(".", "logs")),
	}

	if cfg.StreamsFile != "" {
		uris, err := loadStreamsFile(cfg.StreamsFile)
		if err != nil {
			return nil, err
		}
		cfg.Streams = mergeStreams(cfg.Streams, uris)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that would make the pipeline misbehave.
func (c *Config) Validate() error {
	if math.IsNaN(float64(c.Threshold)) || c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be within [0, 1], got %v", c.Threshold)
	}
	if c.EpochFrames <= 0 {
		return fmt.Errorf("epoch frames must be positive, got %d", c.EpochFrames)
	}
	if c.TargetClassIndex < 0 {
		return fmt.Errorf("target class index must not be negative, got %d", c.TargetClassIndex)
	}
	switch c.FaultPolicy {
	case FaultPolicySkip, FaultPolicyFail:
	default:
		return fmt.Errorf("unknown fault policy %q", c.FaultPolicy)
	}
	switch c.Backend {
	case BackendDNN, BackendKServe:
	default:
		return fmt.Errorf("unknown inference backend %q", c.Backend)
	}
	if c.InferenceTimeout < 0 || c.TickInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

func loadStreamsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read streams file: %w", err)
	}
	var f streamsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse streams file %s: %w", path, err)
	}
	uris := make([]string, 0, len(f.Streams))
	for _, s := range f.Streams {
		if uri := strings.TrimSpace(s.URI); uri != "" {
			uris = append(uris, uri)
		}
	}
	return uris, nil
}

// mergeStreams appends extra to base, dropping duplicates and keeping order.
func mergeStreams(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, uri := range append(append([]string{}, base...), extra...) {
		if seen[uri] {
			continue
		}
		seen[uri] = true
		out = append(out, uri)
	}
	return out
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// splitPairs parses "k1=v1,k2=v2". Entries without a key or value are ignored.
func splitPairs(value string) map[string]string {
	out := make(map[string]string)
	for _, part := range splitList(value) {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if ok && k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := cast.ToIntE(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := cast.ToFloat32E(value); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}
