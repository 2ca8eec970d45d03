// Package config provides configuration management for the downloader.
//
// It utilizes Viper for loading configuration from environment variables
// and an optional .env file; command-line flags override both.
//
// # Configuration Structure
//
// The Config struct is the central repository for all application settings, divided into subsections:
//   - Steam: account credentials, guard codes, auth cache location, content client settings
//   - Workshop: metadata resolver endpoint and timeouts
//   - Log: logging level, format and optional tee file
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Steam.User)
package config
