package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"can-channel-server/internal/api"
	"can-channel-server/internal/can"
	"can-channel-server/internal/config"
	"can-channel-server/internal/driver"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	drv, err := newDriver(cfg.CAN)
	if err != nil {
		log.Fatalf("Failed to create CAN driver: %v", err)
	}

	log.Printf("Starting CAN Channel Server...")
	log.Printf("CAN driver: %s", cfg.CAN.Driver)
	log.Printf("HTTP Server Port: %d", cfg.Server.Port)

	registry := can.NewRegistry(drv)
	server := api.NewServer(api.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		DefaultBitrate: cfg.CAN.DefaultBitrate,
	}, drv, registry)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("Server started successfully")
	log.Printf("HTTP API available at: http://%s/", server.Addr())
	log.Println("Press Ctrl+C to stop")

	<-sigChan
	log.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func newDriver(cfg config.CANConfig) (driver.Driver, error) {
	if cfg.Driver == "socketcan" {
		return driver.NewSocketCAN(cfg.Interfaces), nil
	}
	return driver.NewVirtual(cfg.VirtualChannels), nil
}
