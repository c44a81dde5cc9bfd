// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/stomp"
	"github.com/mochi-mqtt/stomp/hooks/auth"
	"github.com/mochi-mqtt/stomp/hooks/debug"
	"github.com/mochi-mqtt/stomp/hooks/storage/badger"
	"github.com/mochi-mqtt/stomp/hooks/storage/bolt"
	"github.com/mochi-mqtt/stomp/hooks/storage/pebble"
	"github.com/mochi-mqtt/stomp/hooks/storage/redis"
	"github.com/mochi-mqtt/stomp/listeners"
)

var (
	yamlBytes = []byte(`
listeners:
  - type: "tcp"
    id: "file-tcp1"
    address: ":61613"
hooks:
  auth:
    allow_all: true
options:
  sys_info_interval: 5
  capabilities:
    maximum_sessions: 100
    heartbeat_outgoing: 5000
    compatibilities:
      restore_sys_info_on_restart: true
`)

	jsonBytes = []byte(`{
   "listeners": [
      {
         "type": "tcp",
         "id": "file-tcp1",
         "address": ":61613"
      }
   ],
   "hooks": {
      "auth": {
         "allow_all": true
      }
   },
   "options": {
      "sys_info_interval": 5,
      "capabilities": {
         "maximum_sessions": 100,
         "heartbeat_outgoing": 5000,
         "compatibilities": {
            "restore_sys_info_on_restart": true
         }
      }
   }
}
`)
)

func parsedOptions() stomp.Options {
	caps := stomp.NewDefaultServerCapabilities()
	caps.MaximumSessions = 100
	caps.HeartbeatOutgoing = 5000
	caps.Compatibilities.RestoreSysInfoOnRestart = true

	return stomp.Options{
		Listeners: []listeners.Config{
			{
				Type:    listeners.TypeTCP,
				ID:      "file-tcp1",
				Address: ":61613",
			},
		},
		Hooks: []stomp.HookLoadConfig{
			{
				Hook: new(auth.AllowHook),
			},
		},
		SysInfoInterval: 5,
		Capabilities:    caps,
	}
}

func TestFromBytesEmpty(t *testing.T) {
	o, err := FromBytes([]byte{})
	require.NoError(t, err)
	require.Nil(t, o)
}

func TestFromBytesYAML(t *testing.T) {
	o, err := FromBytes(yamlBytes)
	require.NoError(t, err)
	require.Equal(t, parsedOptions(), *o)
}

func TestFromBytesYAMLError(t *testing.T) {
	_, err := FromBytes(append(yamlBytes, 'a'))
	require.Error(t, err)
}

func TestFromBytesJSON(t *testing.T) {
	o, err := FromBytes(jsonBytes)
	require.NoError(t, err)
	require.Equal(t, parsedOptions(), *o)
}

func TestFromBytesJSONError(t *testing.T) {
	_, err := FromBytes(append(jsonBytes, 'a'))
	require.Error(t, err)
}

func TestFromBytesDefaultCapabilities(t *testing.T) {
	o, err := FromBytes([]byte("options:\n  sys_info_interval: 2\n"))
	require.NoError(t, err)
	require.Equal(t, stomp.NewDefaultServerCapabilities(), o.Capabilities)
	require.Equal(t, int64(2), o.SysInfoInterval)
	require.Empty(t, o.Hooks)
}

func TestToHooksAuthAllowAll(t *testing.T) {
	hc := HookConfigs{
		Auth: &HookAuthConfig{
			AllowAll: true,
		},
	}

	th := hc.toHooksAuth()
	expect := []stomp.HookLoadConfig{
		{Hook: new(auth.AllowHook)},
	}
	require.Equal(t, expect, th)
}

func TestToHooksAuthAllowLedger(t *testing.T) {
	hc := HookConfigs{
		Auth: &HookAuthConfig{
			Ledger: auth.Ledger{
				Auth: auth.AuthRules{
					{Login: "peach", Passcode: "password1", Allow: true},
				},
			},
		},
	}

	th := hc.toHooksAuth()
	expect := []stomp.HookLoadConfig{
		{
			Hook: new(auth.Hook),
			Config: &auth.Options{
				Ledger: &auth.Ledger{
					Auth: auth.AuthRules{
						{Login: "peach", Passcode: "password1", Allow: true},
					},
				},
			},
		},
	}
	require.Equal(t, expect, th)
}

func TestToHooksStorageBadger(t *testing.T) {
	hc := HookConfigs{
		Storage: &HookStorageConfig{
			Badger: &badger.Options{
				Path: "badger",
			},
		},
	}

	th := hc.toHooksStorage()
	expect := []stomp.HookLoadConfig{
		{
			Hook:   new(badger.Hook),
			Config: hc.Storage.Badger,
		},
	}

	require.Equal(t, expect, th)
}

func TestToHooksStorageBolt(t *testing.T) {
	hc := HookConfigs{
		Storage: &HookStorageConfig{
			Bolt: &bolt.Options{
				Path: "bolt",
			},
		},
	}

	th := hc.toHooksStorage()
	expect := []stomp.HookLoadConfig{
		{
			Hook:   new(bolt.Hook),
			Config: hc.Storage.Bolt,
		},
	}

	require.Equal(t, expect, th)
}

func TestToHooksStorageRedis(t *testing.T) {
	hc := HookConfigs{
		Storage: &HookStorageConfig{
			Redis: &redis.Options{
				Username: "test",
			},
		},
	}

	th := hc.toHooksStorage()
	expect := []stomp.HookLoadConfig{
		{
			Hook:   new(redis.Hook),
			Config: hc.Storage.Redis,
		},
	}

	require.Equal(t, expect, th)
}

func TestToHooksStoragePebble(t *testing.T) {
	hc := HookConfigs{
		Storage: &HookStorageConfig{
			Pebble: &pebble.Options{
				Path: "pebble",
				Mode: pebble.Sync,
			},
		},
	}

	th := hc.toHooksStorage()
	expect := []stomp.HookLoadConfig{
		{
			Hook:   new(pebble.Hook),
			Config: hc.Storage.Pebble,
		},
	}

	require.Equal(t, expect, th)
}

func TestToHooks(t *testing.T) {
	hc := HookConfigs{
		Auth: &HookAuthConfig{AllowAll: true},
		Storage: &HookStorageConfig{
			Bolt: &bolt.Options{Path: "bolt"},
		},
		Debug: &debug.Options{ShowBody: true},
	}

	th := hc.ToHooks()
	require.Len(t, th, 3)
	require.IsType(t, new(auth.AllowHook), th[0].Hook)
	require.IsType(t, new(bolt.Hook), th[1].Hook)
	require.IsType(t, new(debug.Hook), th[2].Hook)
	require.Equal(t, hc.Debug, th[2].Config)
}

func TestYAMLStorageSection(t *testing.T) {
	o, err := FromBytes([]byte(`
hooks:
  storage:
    pebble:
      path: "pebble.db"
      mode: "Sync"
    redis:
      address: "localhost:6380"
      h_prefix: "broker-"
  debug:
    show_body: true
`))
	require.NoError(t, err)
	require.Len(t, o.Hooks, 3)

	require.IsType(t, new(redis.Hook), o.Hooks[0].Hook)
	require.Equal(t, &redis.Options{Address: "localhost:6380", HPrefix: "broker-"}, o.Hooks[0].Config)

	require.IsType(t, new(pebble.Hook), o.Hooks[1].Hook)
	require.Equal(t, &pebble.Options{Path: "pebble.db", Mode: "Sync"}, o.Hooks[1].Config)

	require.Equal(t, &debug.Options{ShowBody: true}, o.Hooks[2].Config)
}
