// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mochi-mqtt/stomp"
	"github.com/mochi-mqtt/stomp/config"
	"github.com/mochi-mqtt/stomp/hooks/auth"
	"github.com/mochi-mqtt/stomp/listeners"
)

func main() {
	tcpAddr := flag.String("tcp", ":61613", "network address for TCP listener")
	wsAddr := flag.String("ws", ":61614", "network address for Websocket listener")
	infoAddr := flag.String("info", ":8080", "network address for web info dashboard listener")
	metricsAddr := flag.String("metrics", "", "network address for prometheus metrics listener")
	configFile := flag.String("config", "", "path to a yaml or json config file, replacing the listener flags")
	flag.Parse()

	sigs := make(chan os.Signal, 1)
	done := make(chan bool, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		done <- true
	}()

	server, err := configure(*configFile)
	if err != nil {
		log.Fatal(err)
	}

	if *configFile == "" {
		_ = server.AddHook(new(auth.AllowHook), nil)

		tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: *tcpAddr})
		if err := server.AddListener(tcp); err != nil {
			log.Fatal(err)
		}

		ws := listeners.NewWebsocket(listeners.Config{ID: "ws1", Address: *wsAddr})
		if err := server.AddListener(ws); err != nil {
			log.Fatal(err)
		}

		stats := listeners.NewHTTPStats(listeners.Config{ID: "info", Address: *infoAddr}, server.Info)
		if err := server.AddListener(stats); err != nil {
			log.Fatal(err)
		}

		if *metricsAddr != "" {
			metrics := listeners.NewHTTPMetrics(listeners.Config{ID: "metrics", Address: *metricsAddr}, server.Info)
			if err := server.AddListener(metrics); err != nil {
				log.Fatal(err)
			}
		}
	}

	go func() {
		err := server.Serve()
		if err != nil {
			log.Fatal(err)
		}
	}()

	<-done
	server.Log.Warn("caught signal, stopping...")
	_ = server.Close()
	server.Log.Info("main.go finished")
}

// configure returns a server built from the config file at path, or a default server if
// no path is given.
func configure(path string) (*stomp.Server, error) {
	if path == "" {
		return stomp.New(nil), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	opts, err := config.FromBytes(b)
	if err != nil {
		return nil, err
	}

	return stomp.New(opts), nil
}
