package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"growhub/internal/config"
	"growhub/internal/db"
	"growhub/internal/gateway"
	"growhub/internal/jobqueue"
	"growhub/internal/mqtt"
	"growhub/internal/redis"
)

// Standalone job-queue worker. Any number of these may run alongside the main
// process; the queue's claim protocol keeps them from double-executing jobs.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	dbConn, err := db.NewDB(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer dbConn.Close(context.Background())

	redisClient := redis.NewRedisClient(cfg.Redis.Addr)

	mqttClient, err := mqtt.NewMQTTClient(cfg.MQTT.Broker, cfg.MQTT.ClientID+"-worker")
	if err != nil {
		log.Fatalf("Failed to connect to MQTT: %v", err)
	}

	gw := gateway.NewMQTTGateway(mqttClient, redisClient)
	if err := gw.Start(); err != nil {
		log.Fatalf("Failed to start device gateway: %v", err)
	}

	queue := jobqueue.NewQueue(dbConn.Pool())
	worker := jobqueue.NewWorker(queue, gw, cfg.App.WorkerID)
	log.Printf("Worker %s starting, polling every %s", worker.ID(), cfg.Engine.JobPollInterval)

	c := cron.New()
	if _, err := c.AddFunc("@every "+cfg.Engine.JobPollInterval.String(), func() {
		worker.ProcessDueJobs(context.Background())
	}); err != nil {
		log.Fatalf("Failed to register poll loop: %v", err)
	}
	c.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		log.Println("Timed out waiting for in-flight jobs")
	}
	gw.Stop()
	log.Println("Worker shutdown complete")
}
