// Package config loads this module's runtime tuning knobs (listen
// address, registry endpoints, writer fairness/capacity settings) from
// a YAML file and/or environment variables via viper, with no
// command-line layer attached since this module has no CLI surface.
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/spf13/viper"

	"mprpc/writer"
)

// Config is the top-level configuration for one server process.
type Config struct {
	ListenAddr    string   `mapstructure:"listen_addr"`
	AdvertiseAddr string   `mapstructure:"advertise_addr"`
	EtcdEndpoints []string `mapstructure:"etcd_endpoints"`
	Writer        WriterConfig `mapstructure:"writer"`
}

// WriterConfig mirrors writer.Config's fields so they can be loaded
// from YAML/env without the writer package depending on viper.
type WriterConfig struct {
	MaxMessageCount                 int           `mapstructure:"max_message_count"`
	MaxMessageCountMultiplex        int           `mapstructure:"max_message_count_multiplex"`
	MaxMessageCountResponseWait     int           `mapstructure:"max_message_count_response_wait"`
	MaxMessageContinuousPacketCount int           `mapstructure:"max_message_continuous_packet_count"`
	CanSendRelayedMessages          bool          `mapstructure:"can_send_relayed_messages"`
	KeepAliveInterval               time.Duration `mapstructure:"keep_alive_interval"`
}

// ToWriterConfig converts the loaded settings to a writer.Config.
func (w WriterConfig) ToWriterConfig() writer.Config {
	return writer.Config{
		MaxMessageCount:                 w.MaxMessageCount,
		MaxMessageCountMultiplex:        w.MaxMessageCountMultiplex,
		MaxMessageCountResponseWait:     w.MaxMessageCountResponseWait,
		MaxMessageContinuousPacketCount: w.MaxMessageContinuousPacketCount,
		CanSendRelayedMessages:          w.CanSendRelayedMessages,
		KeepAliveInterval:               w.KeepAliveInterval,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("advertise_addr", "")
	d := writer.DefaultConfig()
	v.SetDefault("writer.max_message_count", d.MaxMessageCount)
	v.SetDefault("writer.max_message_count_multiplex", d.MaxMessageCountMultiplex)
	v.SetDefault("writer.max_message_count_response_wait", d.MaxMessageCountResponseWait)
	v.SetDefault("writer.max_message_continuous_packet_count", d.MaxMessageContinuousPacketCount)
	v.SetDefault("writer.can_send_relayed_messages", d.CanSendRelayedMessages)
	v.SetDefault("writer.keep_alive_interval", d.KeepAliveInterval)
}

// Load reads configuration from path (if non-empty), otherwise from
// "mprpc.yaml" in the current directory or "$HOME/.config/mprpc", and
// finally from MPRPC_-prefixed environment variables, which override
// whatever the file set. A missing config file is not an error —
// defaults plus environment variables are enough to run.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mprpc")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/mprpc")
	}

	v.SetEnvPrefix("mprpc")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
