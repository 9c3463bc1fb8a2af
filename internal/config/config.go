// Package config loads quicklist configuration from defaults, an optional
// quicklist.yaml, a .env file and QUICKLIST_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/idilsaglam/quicklist/internal/auth"
	"github.com/idilsaglam/quicklist/internal/devserver"
	"github.com/idilsaglam/quicklist/internal/logger"
	"github.com/idilsaglam/quicklist/internal/remote/backend"
	"github.com/idilsaglam/quicklist/internal/ui"
)

// EnvPrefix namespaces environment keys, e.g. QUICKLIST_REMOTE_URL.
const EnvPrefix = "QUICKLIST"

// Config holds all configuration for the application.
type Config struct {
	// Remote selects and configures the hosted todos table.
	Remote backend.Config `mapstructure:"remote"`
	// Log holds configuration for the logger.
	Log logger.Config `mapstructure:"log"`
	// UI holds terminal rendering options.
	UI ui.Config `mapstructure:"ui"`
	// DevServer configures the local emulator.
	DevServer devserver.Config `mapstructure:"devserver"`
}

// LoadConfig loads configuration from path. A missing .env or quicklist.yaml
// is not an error. The remote key and URL fall back to stored credentials.
func LoadConfig(path string) (*Config, error) {
	envPath := filepath.Join(path, ".env")
	if path == "." {
		envPath = ".env"
	}
	_ = godotenv.Overload(envPath)

	v := viper.New()
	v.SetConfigName("quicklist")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	bindValues(v, Config{}, "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := applyCredentials(&config.Remote); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyCredentials(rc *backend.Config) error {
	if rc.Key != "" && rc.URL != "" {
		return nil
	}
	creds, err := auth.Load()
	if err != nil || creds == nil {
		return err
	}
	if rc.Key == "" {
		rc.Key = creds.Key
	}
	if rc.URL == "" {
		rc.URL = creds.URL
	}
	return nil
}

// bindValues walks the struct and registers every mapstructure key in viper
// with its default tag value, so AutomaticEnv can find it.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)

	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		// Always set default (even if empty) to register the key for AutomaticEnv
		v.SetDefault(key, field.Tag.Get("default"))
	}
}
