package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "EVENTTAIL"

// Output formats.
const (
	OutputJSON = "json"
	OutputYAML = "yaml"
)

type config struct {
	Endpoint          string        `mapstructure:"endpoint"`
	Token             string        `mapstructure:"token"`
	Topics            []string      `mapstructure:"topic"`
	Sends             []string      `mapstructure:"send"`
	Output            string        `mapstructure:"output"`
	Count             int           `mapstructure:"count"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect-delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max-reconnect-delay"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake-timeout"`
	LogLevel          string        `mapstructure:"log-level"`
	LogFormat         string        `mapstructure:"log-format"`
}

type outboundEnvelope struct {
	Type    string
	Payload json.RawMessage
}

func registerFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "config file (default is ./eventtail.yaml or $HOME/.config/eventtail/eventtail.yaml)")
	flags.StringP("endpoint", "e", "http://localhost:3000", "console origin or ws(s):// stream URL")
	flags.StringP("token", "t", "", "session token sent as the token query parameter")
	flags.StringSlice("topic", nil, "only print envelopes of these types (repeatable; default prints everything)")
	flags.StringArray("send", nil, "send type=json once the stream opens (repeatable)")
	flags.StringP("output", "o", OutputJSON, "output format: json or yaml")
	flags.IntP("count", "n", 0, "exit after printing this many envelopes (0 runs until interrupted)")
	flags.Duration("reconnect-delay", time.Second, "first reconnect delay")
	flags.Duration("max-reconnect-delay", 30*time.Second, "reconnect delay ceiling")
	flags.Duration("handshake-timeout", 10*time.Second, "websocket handshake timeout")
	flags.String("log-level", "INFO", "log level: DEBUG, INFO, WARN or ERROR")
	flags.String("log-format", "text", "log format: text or json")
}

// loadConfig resolves settings from flags, EVENTTAIL_* environment variables
// and an optional YAML file, in that order of precedence.
func loadConfig(flags *pflag.FlagSet) (config, error) {
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return config{}, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("eventtail")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/eventtail")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.validate()
}

func (cfg config) validate() error {
	switch cfg.Output {
	case OutputJSON, OutputYAML:
	default:
		return fmt.Errorf("unsupported output %q (want json or yaml)", cfg.Output)
	}
	if cfg.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if cfg.Count < 0 {
		return fmt.Errorf("count must not be negative, got %d", cfg.Count)
	}
	for _, send := range cfg.Sends {
		if _, err := parseSend(send); err != nil {
			return err
		}
	}
	return nil
}

func (cfg config) outbound() []outboundEnvelope {
	envelopes := make([]outboundEnvelope, 0, len(cfg.Sends))
	for _, send := range cfg.Sends {
		envelope, err := parseSend(send)
		if err == nil {
			envelopes = append(envelopes, envelope)
		}
	}
	return envelopes
}

// parseSend splits "type=json". The JSON part may be omitted.
func parseSend(value string) (outboundEnvelope, error) {
	topic, payload, _ := strings.Cut(value, "=")
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return outboundEnvelope{}, fmt.Errorf("invalid --send %q: missing type", value)
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return outboundEnvelope{Type: topic}, nil
	}
	if !json.Valid([]byte(payload)) {
		return outboundEnvelope{}, fmt.Errorf("invalid --send %q: payload is not JSON", value)
	}
	return outboundEnvelope{Type: topic, Payload: json.RawMessage(payload)}, nil
}
