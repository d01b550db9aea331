package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "VIDEO"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	Video     VideoConfig     `mapstructure:"video"`
	WebRTC    WebRTCConfig    `mapstructure:"webrtc"`
	LiveKit   LiveKitConfig   `mapstructure:"livekit"`
	Backend   BackendConfig   `mapstructure:"backend"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Session   SessionConfig   `mapstructure:"session"`
}

type VideoConfig struct {
	// Provider is the raw adapter name; unknown values are resolved to the default by the caller.
	Provider    string        `mapstructure:"provider"`
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
	DisplayName string        `mapstructure:"display_name"`
}

type WebRTCConfig struct {
	ICEServers []string `mapstructure:"ice_servers"`
}

type LiveKitConfig struct {
	AutoSubscribe  bool   `mapstructure:"auto_subscribe"`
	AdaptiveStream bool   `mapstructure:"adaptive_stream"`
	Dynacast       bool   `mapstructure:"dynacast"`
	APIKey         string `mapstructure:"api_key"`
	APISecret      string `mapstructure:"api_secret"`
	Identity       string `mapstructure:"identity"`
}

type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SessionConfig controls when controllers of departed clients are released.
type SessionConfig struct {
	IdleTTL      time.Duration `mapstructure:"idle_ttl"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

type RateLimitConfig struct {
	ConnectLimit    int           `mapstructure:"connect_limit"`
	ConnectInterval time.Duration `mapstructure:"connect_interval"`
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if it exists, then applies VIDEO_* environment overrides.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// VIDEO_PROVIDER rather than VIDEO_VIDEO_PROVIDER.
	if err := v.BindEnv("video.provider", envPrefix+"_PROVIDER"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Provider: %s\n", cfg.Mode, cfg.Port, cfg.Video.Provider)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("video.provider", "webrtc")
	v.SetDefault("video.join_timeout", "0s")
	v.SetDefault("video.display_name", "")

	v.SetDefault("webrtc.ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("livekit.auto_subscribe", true)
	v.SetDefault("livekit.adaptive_stream", true)
	v.SetDefault("livekit.dynacast", true)
	v.SetDefault("livekit.api_key", "")
	v.SetDefault("livekit.api_secret", "")
	v.SetDefault("livekit.identity", "")

	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.timeout", "10s")

	v.SetDefault("ratelimit.connect_limit", 5)
	v.SetDefault("ratelimit.connect_interval", "1m")

	v.SetDefault("session.idle_ttl", "10m")
	v.SetDefault("session.reap_interval", "1m")
}
