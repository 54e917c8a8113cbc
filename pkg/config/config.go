// Copyright 2018 Comcast Cable Communications Management, LLC
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the operator-facing settings for a dispatcher
// process from a TOML file, the way an operator would hand this
// dispatcher its settings at startup.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// ProcessingGuarantee selects the ack-handling and replay semantics
// the subscription runs under (spec §6).
type ProcessingGuarantee string

const (
	AtLeastOnce    ProcessingGuarantee = "AtLeastOnce"
	EffectivelyOnce ProcessingGuarantee = "EffectivelyOnce"
)

// ErrInvalidProcessingGuarantee is returned by Validate when
// ProcessingGuarantee names anything other than the two recognized
// values.
var ErrInvalidProcessingGuarantee = errors.New("config: invalid processing guarantee")

// Config is the root of a dispatcher process's TOML configuration.
type Config struct {
	Topic            string `toml:"topic"`
	SubscriptionName string `toml:"subscription_name"`

	SubscriptionType                              string `toml:"subscription_type"`
	ProcessingGuarantee                           string `toml:"processing_guarantee"`
	DispatchThrottlingOnNonBacklogConsumerEnabled bool   `toml:"dispatch_throttling_on_non_backlog_consumer_enabled"`
	MaxUnackedMessagesPerSubscription             int64  `toml:"max_unacked_messages_per_subscription"`

	ReadBatchSize int `toml:"read_batch_size"`

	RateLimit RateLimitConfig `toml:"rate_limit"`
	Transport TransportConfig `toml:"transport"`
	Log       LogConfig       `toml:"log"`
}

// RateLimitConfig mirrors core/ratelimit.TokenBucket's constructor
// arguments.
type RateLimitConfig struct {
	Enabled           bool  `toml:"enabled"`
	MessagesPerPeriod int64 `toml:"messages_per_period"`
	BytesPerPeriod    int64 `toml:"bytes_per_period"`
	PeriodMillis      int64 `toml:"period_millis"`
}

// TransportConfig configures the ingress connection used by the
// source connector (core/conn).
type TransportConfig struct {
	Address            string `toml:"address"`
	TLSEnabled         bool   `toml:"tls_enabled"`
	TLSInsecureSkipVerify bool `toml:"tls_insecure_skip_verify"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level    string `toml:"level"`
	FilePath string `toml:"file_path"`
}

// Default returns a Config with the same defaults core/dispatch.Config
// applies on its own when left zero, plus AtLeastOnce/Key_Shared.
func Default() Config {
	return Config{
		SubscriptionType:     "Key_Shared",
		ProcessingGuarantee:  string(AtLeastOnce),
		ReadBatchSize:        100,
	}
}

// Load reads and decodes a TOML file at path.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "config: decode %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a Config with an unrecognized ProcessingGuarantee.
// Other fields are operator-supplied knobs with no invalid range.
func (c Config) Validate() error {
	switch ProcessingGuarantee(c.ProcessingGuarantee) {
	case AtLeastOnce, EffectivelyOnce:
		return nil
	default:
		return errors.Wrapf(ErrInvalidProcessingGuarantee, "got %q", c.ProcessingGuarantee)
	}
}
