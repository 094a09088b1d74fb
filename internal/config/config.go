// Package config builds the viper-backed Config this process boots from: a
// pflag.NewFlagSet + viper.New() pair with a pre-seeded defaults map.
package config

import (
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const applicationName = "fleethub"

const (
	commandAckTimeoutKey = "commandAckTimeout"
	contentAckTimeoutKey = "contentAckTimeout"
	outboundQueueSizeKey = "outboundQueueSize"
	authHeaderKey        = "authHeader"
	webhookURLKey        = "webhook.url"
	webhookTTLKey        = "webhook.ttl"
	addressKey           = "address"
)

var defaults = map[string]interface{}{
	commandAckTimeoutKey: "5s",
	contentAckTimeoutKey: "60s",
	outboundQueueSizeKey: 32,
	authHeaderKey:        []string{},
	webhookTTLKey:        "5m",
	addressKey:           ":6400",
}

// Config is the fully parsed runtime configuration fleethub boots from.
type Config struct {
	Address           string
	CommandAckTimeout time.Duration
	ContentAckTimeout time.Duration
	OutboundQueueSize int
	AuthHeaders       []string
	WebhookURL        string
	WebhookTTL        time.Duration
}

// NewFlagSet builds the pflag.FlagSet fleethub parses its arguments with.
func NewFlagSet() *pflag.FlagSet {
	return pflag.NewFlagSet(applicationName, pflag.ContinueOnError)
}

// Parse reads a *viper.Viper already bound to flags and an optional config
// file, applying this package's defaults and returning the typed Config.
func Parse(v *viper.Viper) (*Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	commandTimeout, err := time.ParseDuration(v.GetString(commandAckTimeoutKey))
	if err != nil {
		return nil, err
	}

	contentTimeout, err := time.ParseDuration(v.GetString(contentAckTimeoutKey))
	if err != nil {
		return nil, err
	}

	webhookTTL, err := time.ParseDuration(v.GetString(webhookTTLKey))
	if err != nil {
		return nil, err
	}

	return &Config{
		Address:           v.GetString(addressKey),
		CommandAckTimeout: commandTimeout,
		ContentAckTimeout: contentTimeout,
		OutboundQueueSize: cast.ToInt(v.Get(outboundQueueSizeKey)),
		AuthHeaders:       v.GetStringSlice(authHeaderKey),
		WebhookURL:        v.GetString(webhookURLKey),
		WebhookTTL:        webhookTTL,
	}, nil
}
