// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package config

import (
	"encoding/json"

	"github.com/jinzhu/copier"
	"gopkg.in/yaml.v3"

	"github.com/mochi-mqtt/stomp"
	"github.com/mochi-mqtt/stomp/hooks/auth"
	"github.com/mochi-mqtt/stomp/hooks/debug"
	"github.com/mochi-mqtt/stomp/hooks/storage/badger"
	"github.com/mochi-mqtt/stomp/hooks/storage/bolt"
	"github.com/mochi-mqtt/stomp/hooks/storage/pebble"
	"github.com/mochi-mqtt/stomp/hooks/storage/redis"
	"github.com/mochi-mqtt/stomp/listeners"
)

// config defines the structure of configuration data to be parsed from a config source.
type config struct {
	Options     stomp.Options
	Listeners   []listeners.Config `yaml:"listeners" json:"listeners"`
	HookConfigs HookConfigs        `yaml:"hooks" json:"hooks"`
}

// HookConfigs contains configurations to enable individual hooks.
type HookConfigs struct {
	Auth    *HookAuthConfig    `yaml:"auth" json:"auth"`
	Storage *HookStorageConfig `yaml:"storage" json:"storage"`
	Debug   *debug.Options     `yaml:"debug" json:"debug"`
}

// HookAuthConfig contains configurations for the auth hook.
type HookAuthConfig struct {
	Ledger   auth.Ledger `yaml:"ledger" json:"ledger"`
	AllowAll bool        `yaml:"allow_all" json:"allow_all"`
}

// HookStorageConfig contains configurations for the different storage hooks.
type HookStorageConfig struct {
	Badger *badger.Options `yaml:"badger" json:"badger"`
	Bolt   *bolt.Options   `yaml:"bolt" json:"bolt"`
	Pebble *pebble.Options `yaml:"pebble" json:"pebble"`
	Redis  *redis.Options  `yaml:"redis" json:"redis"`
}

// ToHooks converts Hook file configurations into Hooks to be added to the server.
func (hc HookConfigs) ToHooks() []stomp.HookLoadConfig {
	var hlc []stomp.HookLoadConfig

	if hc.Auth != nil {
		hlc = append(hlc, hc.toHooksAuth()...)
	}

	if hc.Storage != nil {
		hlc = append(hlc, hc.toHooksStorage()...)
	}

	if hc.Debug != nil {
		hlc = append(hlc, stomp.HookLoadConfig{
			Hook:   new(debug.Hook),
			Config: hc.Debug,
		})
	}

	return hlc
}

// toHooksAuth converts auth hook configurations into auth hooks.
func (hc HookConfigs) toHooksAuth() []stomp.HookLoadConfig {
	if hc.Auth.AllowAll {
		return []stomp.HookLoadConfig{
			{Hook: new(auth.AllowHook)},
		}
	}

	return []stomp.HookLoadConfig{
		{
			Hook: new(auth.Hook),
			Config: &auth.Options{
				Ledger: &auth.Ledger{ // avoid copying sync.Locker
					Users: hc.Auth.Ledger.Users,
					Auth:  hc.Auth.Ledger.Auth,
					ACL:   hc.Auth.Ledger.ACL,
				},
			},
		},
	}
}

// toHooksStorage converts storage hook configurations into storage hooks.
func (hc HookConfigs) toHooksStorage() []stomp.HookLoadConfig {
	var hlc []stomp.HookLoadConfig
	if hc.Storage.Badger != nil {
		hlc = append(hlc, stomp.HookLoadConfig{
			Hook:   new(badger.Hook),
			Config: hc.Storage.Badger,
		})
	}

	if hc.Storage.Bolt != nil {
		hlc = append(hlc, stomp.HookLoadConfig{
			Hook:   new(bolt.Hook),
			Config: hc.Storage.Bolt,
		})
	}

	if hc.Storage.Redis != nil {
		hlc = append(hlc, stomp.HookLoadConfig{
			Hook:   new(redis.Hook),
			Config: hc.Storage.Redis,
		})
	}

	if hc.Storage.Pebble != nil {
		hlc = append(hlc, stomp.HookLoadConfig{
			Hook:   new(pebble.Hook),
			Config: hc.Storage.Pebble,
		})
	}
	return hlc
}

// FromBytes unmarshals a byte slice of JSON or YAML config data into a valid server options value.
// Capabilities set in the config are laid over the server defaults, and any hooks configurations
// are converted into Hooks using the toHooks methods in this package.
func FromBytes(b []byte) (*stomp.Options, error) {
	if len(b) == 0 {
		return nil, nil
	}

	c := new(config)
	if b[0] == '{' {
		err := json.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	} else {
		err := yaml.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	}

	o := c.Options
	caps := stomp.NewDefaultServerCapabilities()
	if o.Capabilities != nil {
		err := copier.CopyWithOption(caps, o.Capabilities, copier.Option{IgnoreEmpty: true})
		if err != nil {
			return nil, err
		}
	}

	o.Capabilities = caps
	o.Hooks = c.HookConfigs.ToHooks()
	o.Listeners = c.Listeners

	return &o, nil
}
