package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultAuthorizeTimeout = 2 * time.Minute
	DefaultStoreKeyPrefix   = "go-sessions::session::v1"
)

type AppInfoConfig struct {
	ID     string `koanf:"id" mapstructure:"id"`
	Name   string `koanf:"name" mapstructure:"name"`
	Vendor string `koanf:"vendor" mapstructure:"vendor"`
}

type StoreConfig struct {
	KeyPrefix string `koanf:"key_prefix" mapstructure:"key_prefix"`
}

type Config struct {
	ServiceName      string        `koanf:"service_name" mapstructure:"service_name"`
	AppInfo          AppInfoConfig `koanf:"app_info" mapstructure:"app_info"`
	AuthorizeTimeout time.Duration `koanf:"authorize_timeout" mapstructure:"authorize_timeout"`
	WarnUntrustedApp bool          `koanf:"warn_untrusted_app" mapstructure:"warn_untrusted_app"`
	Store            StoreConfig   `koanf:"store" mapstructure:"store"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:      "sessions",
		AuthorizeTimeout: defaultAuthorizeTimeout,
		WarnUntrustedApp: true,
		Store: StoreConfig{
			KeyPrefix: DefaultStoreKeyPrefix,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.AuthorizeTimeout < 0 {
		return fmt.Errorf("core: authorize_timeout must not be negative")
	}
	info := c.AppInfo
	if strings.TrimSpace(info.Name) != "" || strings.TrimSpace(info.Vendor) != "" {
		if strings.TrimSpace(info.ID) == "" {
			return fmt.Errorf("core: app_info.id is required when app_info is configured")
		}
	}
	return nil
}

// ResolvedAppInfo returns the configured app identity, or the flagged default
// when none is configured.
func (c Config) ResolvedAppInfo() AppInfo {
	info := AppInfo{
		ID:     c.AppInfo.ID,
		Name:   c.AppInfo.Name,
		Vendor: c.AppInfo.Vendor,
	}.Normalize()
	if info.ID == "" {
		return DefaultAppInfo()
	}
	return info
}
