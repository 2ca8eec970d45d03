package config

import (
	"reflect"
	"strings"

	"workshop-sync/core/logger"
	"workshop-sync/core/steam"
	"workshop-sync/core/workshop"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// It is divided into partial configurations for better modularity.
type Config struct {
	// Steam holds account settings and the content client configuration.
	Steam SteamConfig `mapstructure:"steam"`
	// Workshop holds configuration for the metadata resolver.
	Workshop workshop.Config `mapstructure:"workshop"`
	// Log holds configuration for the logger.
	Log logger.Config `mapstructure:"log"`
}

// SteamConfig holds account settings for the download session. Every field
// has an environment fallback (STEAM_USER, STEAM_PASS, ...); command-line
// flags take precedence over both.
type SteamConfig struct {
	// User is the account name for credential logon.
	User string `mapstructure:"user" default:""`
	// Pass is the account password for credential logon.
	Pass string `mapstructure:"pass" default:""`
	// Guard is a pre-seeded mobile authenticator code.
	Guard string `mapstructure:"guard" default:""`
	// EmailGuard is a pre-seeded email guard code.
	EmailGuard string `mapstructure:"email_guard" default:""`
	// AuthCache overrides the default auth cache file location.
	AuthCache string `mapstructure:"auth_cache" default:""`
	// Client holds configuration for the content client.
	Client steam.Config `mapstructure:"client"`
}

// LoadConfig loads configuration from environment variables and .env file.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env file if it exists
	envPath := path + "/.env"
	if path == "." {
		envPath = ".env"
	}

	// Ignore error if file doesn't exist (e.g. production)
	_ = godotenv.Overload(envPath)

	v := viper.New()

	// Recursively parse struct tags to set default values
	bindValues(v, Config{}, "")

	// Map environment variables to nested keys (e.g. STEAM_USER -> steam.user)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// STEAM_LOG names the log tee file but lives under the logger section.
	_ = v.BindEnv("log.file", "STEAM_LOG", "LOG_FILE")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// bindValues uses reflection to iterate over the struct and set default values in Viper
// based on the 'default' and 'mapstructure' tags.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)

	// If it's a pointer, get the element
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")

		// Skip if no tag
		if tag == "" {
			continue
		}

		// Build the key
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		// If it's a nested struct, recurse
		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		defaultValue := field.Tag.Get("default")
		// Always set default (even if empty) to register the key for AutomaticEnv
		v.SetDefault(key, defaultValue)
	}
}
