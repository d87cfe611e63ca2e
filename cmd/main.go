package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/victornm/liveclass/internal/config"
	"github.com/victornm/liveclass/internal/server"
)

const defaultConfigPath = "config.yaml"

func main() {
	c, err := loadConfig()
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		log.Fatalf("Init server failed: %v", err)
	}

	go s.Start()

	<-shutdown
	s.Shutdown()
}

// loadConfig seeds the engine defaults, then lets the config file and the
// environment override them.
func loadConfig() (server.Config, error) {
	var c server.Config
	c.HTTP.Port = 8080
	c.Redis.Prefix = "liveclass"
	c.Persist.Path = "liveclass.db"
	c.Heartbeat.IntervalSeconds = 5

	p := os.Getenv("CONFIG_PATH")
	if p == "" {
		p = defaultConfigPath
	}

	if err := config.Load(p, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
