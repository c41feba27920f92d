package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"seedforge/internal/domain"
)

// Rule is the on-disk shape of a transcoding rule before normalization.
type Rule struct {
	InputExtension string `mapstructure:"input_extension"`
	OutputFormat   string `mapstructure:"output_format"`
	Resolution     string `mapstructure:"resolution"`
}

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Download struct {
		DataDir   string
		AutoPause bool
	}
	Transcoding struct {
		Enabled     bool
		Destination string
		MaxParallel int
		FFmpegPath  string
		Rules       []Rule
	}
	Storage struct {
		Enabled   bool
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Auth struct {
		JWTSecret       string
		PasswordHash    string
		TokenTTLMinutes int
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("SEEDFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/seedforge.db")
	v.SetDefault("download.datadir", "data/downloads")
	v.SetDefault("download.autopause", false)
	v.SetDefault("transcoding.enabled", false)
	v.SetDefault("transcoding.destination", "")
	v.SetDefault("transcoding.maxparallel", 5)
	v.SetDefault("transcoding.ffmpegpath", "ffmpeg")
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "seedforge")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.passwordhash", "")
	v.SetDefault("auth.tokenttlminutes", 720)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Transcoding.MaxParallel <= 0 {
		cfg.Transcoding.MaxParallel = 5
	}

	rules, err := normalizeRules(cfg.Transcoding.Rules)
	if err != nil {
		return Config{}, err
	}
	cfg.Transcoding.Rules = rules

	return cfg, nil
}

// TranscodeRules converts the validated config rules into domain rules,
// preserving configuration order.
func (c Config) TranscodeRules() []domain.TranscodeRule {
	rules := make([]domain.TranscodeRule, len(c.Transcoding.Rules))
	for i, r := range c.Transcoding.Rules {
		rules[i] = domain.TranscodeRule{
			InputExtension: r.InputExtension,
			OutputFormat:   r.OutputFormat,
			Resolution:     r.Resolution,
		}
	}
	return rules
}

var knownResolutions = map[string]struct{}{
	"original": {},
	"480p":     {},
	"720p":     {},
	"1080p":    {},
	"4k":       {},
}

// normalizeRules validates rules once at load time: extensions become
// lowercase with a leading dot, missing fields get defaults, unknown
// resolutions are rejected.
func normalizeRules(rules []Rule) ([]Rule, error) {
	normalized := make([]Rule, 0, len(rules))
	for i, r := range rules {
		ext := strings.ToLower(strings.TrimSpace(r.InputExtension))
		if ext == "" {
			return nil, fmt.Errorf("transcoding rule %d: input_extension is required", i)
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}

		format := strings.ToLower(strings.TrimSpace(r.OutputFormat))
		if format == "" {
			format = "mp4"
		}
		format = strings.TrimPrefix(format, ".")

		resolution := strings.ToLower(strings.TrimSpace(r.Resolution))
		if resolution == "" {
			resolution = "original"
		}
		if _, ok := knownResolutions[resolution]; !ok {
			return nil, fmt.Errorf("transcoding rule %d: unknown resolution %q", i, r.Resolution)
		}

		normalized = append(normalized, Rule{
			InputExtension: ext,
			OutputFormat:   format,
			Resolution:     resolution,
		})
	}
	return normalized, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
