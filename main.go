package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"growhub/internal/automation"
	"growhub/internal/config"
	"growhub/internal/db"
	"growhub/internal/effectiveness"
	"growhub/internal/engine"
	"growhub/internal/gateway"
	"growhub/internal/jobqueue"
	"growhub/internal/mqtt"
	"growhub/internal/notify"
	"growhub/internal/redis"
	"growhub/internal/taskqueue"
	"growhub/internal/web"

	"github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

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

	mqttClient, err := mqtt.NewMQTTClient(cfg.MQTT.Broker, cfg.MQTT.ClientID)
	if err != nil {
		log.Fatalf("Failed to connect to MQTT: %v", err)
	}

	gw := gateway.NewMQTTGateway(mqttClient, redisClient)
	if err := gw.Start(); err != nil {
		log.Fatalf("Failed to start device gateway: %v", err)
	}

	queue := jobqueue.NewQueue(dbConn.Pool())
	jobScheduler := jobqueue.NewScheduler(queue)
	sink := notify.NewSink(dbConn)

	evaluator := automation.NewEvaluator(gw)
	executor := automation.NewExecutor(gw, dbConn, evaluator, jobScheduler, sink)

	eng := engine.NewEngine(dbConn, evaluator, executor)
	taskqueue.SetRunner(eng)
	go taskqueue.StartWorkers(cfg.Redis.Addr)

	worker := jobqueue.NewWorker(queue, gw, cfg.App.WorkerID)
	checker := effectiveness.NewChecker(dbConn, gw, cfg.Engine.EffectivenessWindow, cfg.Engine.EffectivenessCooldown)

	if err := eng.Start(cfg.Engine.TickInterval); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	if err := eng.AddLoop("job worker", cfg.Engine.JobPollInterval, worker.ProcessDueJobs); err != nil {
		log.Fatalf("Failed to register job worker loop: %v", err)
	}
	if err := eng.AddLoop("effectiveness", cfg.Engine.EffectivenessInterval, checker.Run); err != nil {
		log.Fatalf("Failed to register effectiveness loop: %v", err)
	}
	if err := eng.AddLoop("job retention", cfg.Engine.RetentionInterval, func(ctx context.Context) {
		if n, err := queue.PurgeOld(ctx, cfg.Engine.RetentionAge); err != nil {
			log.Printf("JOBQUEUE: Retention purge failed: %v", err)
		} else if n > 0 {
			log.Printf("JOBQUEUE: Purged %d old jobs", n)
		}
	}); err != nil {
		log.Fatalf("Failed to register retention loop: %v", err)
	}

	webServer := web.NewWebServer(dbConn, queue)
	go webServer.Start(fmt.Sprintf(":%d", cfg.App.Port))

	go startMDNSServer(cfg.App.LocalName)

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	eng.Stop()
	gw.Stop()
	taskqueue.StopWorkers()
	log.Println("Shutdown complete")
}

func startMDNSServer(localName string) {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		log.Println("Failed to resolve UDP4 address for mDNS:", err)
		return
	}

	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		log.Println("Failed to resolve UDP6 address for mDNS:", err)
		return
	}

	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		log.Println("Failed to listen on UDP4 for mDNS:", err)
		return
	}

	l6, err := net.ListenUDP("udp6", addr6)
	if err != nil {
		log.Println("Failed to listen on UDP6 for mDNS:", err)
		return
	}

	_, err = mdns.Server(ipv4.NewPacketConn(l4), ipv6.NewPacketConn(l6), &mdns.Config{
		LocalNames: []string{localName},
	})
	if err != nil {
		log.Println("Failed to start mDNS server:", err)
	}
}
