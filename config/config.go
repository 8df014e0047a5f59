// Package config provides configuration types and loading for the
// machinetalk client libraries.
package config

import (
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/machinekit/machinetalk-go/util"
)

// LokiConfig configures the optional Loki log shipping hook.
type LokiConfig struct {
	Address string            `mapstructure:"address"`
	Labels  map[string]string `mapstructure:"labels"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Formatter string     `mapstructure:"formatter"`
	Level     string     `mapstructure:"level"`
	Loki      LokiConfig `mapstructure:"loki"`
}

// DiscoveryConfig configures the mDNS browser.
type DiscoveryConfig struct {
	ServiceType string `mapstructure:"service_type"`
	UUID        string `mapstructure:"uuid"`
	Interface   string `mapstructure:"interface"`
	Domain      string `mapstructure:"domain"`
}

// ChannelConfig carries a static endpoint override for one broker
// channel. Endpoints normally come from service discovery; an explicit
// URI here bypasses it.
type ChannelConfig struct {
	URI string `mapstructure:"uri"`
}

// Config is the top-level client configuration.
type Config struct {
	Name            string          `mapstructure:"name"`
	NoCreate        bool            `mapstructure:"no_create"`
	HeartbeatPeriod int             `mapstructure:"heartbeat_period"` // milliseconds, 0 disables
	Discovery       DiscoveryConfig `mapstructure:"discovery"`
	Halrcmd         ChannelConfig   `mapstructure:"halrcmd"`
	Halrcomp        ChannelConfig   `mapstructure:"halrcomp"`
	Log             LogConfig       `mapstructure:"log"`
}

// Service types published by Machinekit brokers.
const (
	HalrcmdServiceType  = "_halrcmd._sub._machinekit._tcp"
	HalrcompServiceType = "_halrcomp._sub._machinekit._tcp"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "")
	v.SetDefault("no_create", false)
	v.SetDefault("heartbeat_period", 3000)
	v.SetDefault("discovery.service_type", HalrcmdServiceType)
	v.SetDefault("discovery.uuid", "")
	v.SetDefault("discovery.interface", "")
	v.SetDefault("discovery.domain", "local.")
	v.SetDefault("halrcmd.uri", "")
	v.SetDefault("halrcomp.uri", "")
	v.SetDefault("log.formatter", "text")
	v.SetDefault("log.level", util.Getenv("MACHINETALK_LOG_LEVEL", "info"))
	v.SetDefault("log.loki.address", "")
}

// LoadConfig reads the client configuration. With an empty path the
// file "machinetalk.yaml" is searched in the working directory and in
// "~/.config/machinetalk"; a missing file leaves the defaults.
// Every key can be overridden through HALREMOTE_* environment
// variables, e.g. HALREMOTE_DISCOVERY_UUID.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("machinetalk")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "machinetalk"))
		}
	}

	v.SetEnvPrefix("halremote")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}
	return config, nil
}
