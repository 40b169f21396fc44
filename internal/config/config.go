package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const appName = "mapupload"

// DefaultUploadURL is the presigned upload endpoint used by the Mapillary apps.
const DefaultUploadURL = "https://d22zcsn13kp53w.cloudfront.net/"

// UploadConfig defines the fixed fields of the presigned upload form.
type UploadConfig struct {
	URL         string        `mapstructure:"url"`
	AccessKeyID string        `mapstructure:"access_key_id"`
	ACL         string        `mapstructure:"acl"`
	Policy      string        `mapstructure:"policy"`
	Signature   string        `mapstructure:"signature"`
	ContentType string        `mapstructure:"content_type"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// MapuploadConfig defines the configuration for mapupload.
type MapuploadConfig struct {
	Workers     int    `mapstructure:"workers"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	SuccessDir  string `mapstructure:"success_dir"`
	FailedDir   string `mapstructure:"failed_dir"`
	MoveFiles   bool   `mapstructure:"move_files"`
	LogFile     string `mapstructure:"log_file"`

	Upload UploadConfig `mapstructure:"upload"`

	path string `mapstructure:"-"`
}

// Path returns the config file that was loaded, or "" if none was.
func (c *MapuploadConfig) Path() string {
	return c.path
}

func (c *UploadConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("missing upload url")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid upload url %q: %w", c.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid upload url %q: scheme must be http or https", c.URL)
	}
	if c.AccessKeyID == "" || c.Policy == "" || c.Signature == "" {
		return fmt.Errorf("missing upload access_key_id, policy or signature")
	}
	if _, err := base64.StdEncoding.DecodeString(c.Policy); err != nil {
		return fmt.Errorf("upload policy is not base64: %w", err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("upload timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

func (c *MapuploadConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d (%s)", c.Workers, c.path)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d (%s)", c.MaxAttempts, c.path)
	}
	if c.SuccessDir == "" || c.FailedDir == "" {
		return fmt.Errorf("missing success_dir or failed_dir (%s)", c.path)
	}
	if filepath.Clean(c.SuccessDir) == filepath.Clean(c.FailedDir) {
		return fmt.Errorf("success_dir and failed_dir must differ (%s)", c.path)
	}
	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("invalid upload config (%s): %w", c.path, err)
	}
	return nil
}

// PolicyExpiration returns the expiration time declared in the base64 policy document.
func (c *UploadConfig) PolicyExpiration() (time.Time, error) {
	raw, err := base64.StdEncoding.DecodeString(c.Policy)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode policy: %w", err)
	}
	var doc struct {
		Expiration string `json:"expiration"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal policy: %w", err)
	}
	if doc.Expiration == "" {
		return time.Time{}, fmt.Errorf("policy has no expiration")
	}
	exp, err := time.Parse(time.RFC3339, doc.Expiration)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse policy expiration %q: %w", doc.Expiration, err)
	}
	return exp, nil
}

// DefaultConfigPath returns the default path for the mapupload config file.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine user config dir: %w", err)
	}
	return filepath.Join(dir, appName, "config.toml"), nil
}

// getConfigPath determines which config file to read.
// The second return value reports whether the file must exist.
func getConfigPath(configPathFlag string) (string, bool) {
	// Prefer user-specific config file path if specified.
	if configPathFlag != "" {
		return configPathFlag, true
	}

	// Fall back to user config dir, if there is a file there.
	if path, err := DefaultConfigPath(); err == nil {
		return path, false
	}
	return "", false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workers", 4)
	v.SetDefault("max_attempts", 4)
	v.SetDefault("success_dir", "success")
	v.SetDefault("failed_dir", "failed")
	v.SetDefault("move_files", true)
	v.SetDefault("log_file", "")

	v.SetDefault("upload.url", DefaultUploadURL)
	v.SetDefault("upload.access_key_id", "")
	v.SetDefault("upload.acl", "private")
	v.SetDefault("upload.policy", "")
	v.SetDefault("upload.signature", "")
	v.SetDefault("upload.content_type", "image/jpeg")
	v.SetDefault("upload.key_prefix", "")
	v.SetDefault("upload.timeout", 60*time.Second)
}

// LoadConfig reads the config file, if any, and applies environment overrides.
func LoadConfig(configPathFlag string) (MapuploadConfig, error) {
	v := viper.New()
	setDefaults(v)

	// Allow users to override config values with environment variables.
	// In particular, may be desired for the upload credentials.
	v.SetEnvPrefix("MAPUPLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, required := getConfigPath(configPathFlag)
	loaded := ""
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if required || !errors.As(err, &pathErr) {
				return MapuploadConfig{}, fmt.Errorf("error reading (%s): %w", path, err)
			}
		} else {
			loaded = path
		}
	}

	config := MapuploadConfig{path: loaded}
	if err := v.Unmarshal(&config); err != nil {
		return MapuploadConfig{}, fmt.Errorf("error unmarshaling (%s): %w", path, err)
	}
	return config, nil
}
