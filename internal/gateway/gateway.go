package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
)

// CallTimeout bounds every gateway call; a hanging device must not stall a tick.
const CallTimeout = 5 * time.Second

// statusTTL is how long a cached device report stays usable before the
// device is considered offline.
const statusTTL = time.Hour

// DeviceStatus is a snapshot of a device as last reported.
type DeviceStatus struct {
	Online   bool
	State    *bool // on/off, nil when the device does not report power state
	Readings map[string]float64
}

// Gateway is the device capability consumed by the automation engine.
// GetStatus never returns an error: any failure reports Online=false.
type Gateway interface {
	GetStatus(ctx context.Context, deviceID string) DeviceStatus
	SetPower(ctx context.Context, deviceID string, on bool) error
	CaptureSnapshot(ctx context.Context, deviceID string) error
}

// MQTTGateway talks to devices over MQTT and serves status reads from a
// Redis cache fed by the devices' status topic.
type MQTTGateway struct {
	mqttClient  mqtt.Client
	redisClient *redis.Client
}

// NewMQTTGateway creates a gateway over the given MQTT and Redis clients.
func NewMQTTGateway(mqttClient mqtt.Client, redisClient *redis.Client) *MQTTGateway {
	return &MQTTGateway{mqttClient: mqttClient, redisClient: redisClient}
}

// Start subscribes to device status reports.
func (g *MQTTGateway) Start() error {
	log.Println("GATEWAY: Subscribing to MQTT topic: devices/+/status")
	token := g.mqttClient.Subscribe("devices/+/status", 1, g.onStatus)
	if !token.WaitTimeout(CallTimeout) {
		return fmt.Errorf("subscribe timed out")
	}
	return token.Error()
}

// Stop disconnects the MQTT session.
func (g *MQTTGateway) Stop() {
	g.mqttClient.Disconnect(250)
}

// onStatus caches the latest status payload for a device.
func (g *MQTTGateway) onStatus(_ mqtt.Client, msg mqtt.Message) {
	deviceID := parseDeviceID(msg.Topic())
	if deviceID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), CallTimeout)
	defer cancel()
	if err := g.redisClient.Set(ctx, statusKey(deviceID), string(msg.Payload()), statusTTL).Err(); err != nil {
		log.Printf("GATEWAY: Failed to cache status for device %s: %v", deviceID, err)
	}
}

// GetStatus returns the last reported status of a device. Missing, stale or
// unparseable reports yield Online=false.
func (g *MQTTGateway) GetStatus(ctx context.Context, deviceID string) DeviceStatus {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	raw, err := g.redisClient.Get(ctx, statusKey(deviceID)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("GATEWAY: Status read failed for device %s: %v", deviceID, err)
		}
		return DeviceStatus{Online: false}
	}

	status, err := parseStatus(raw)
	if err != nil {
		log.Printf("GATEWAY: Bad status payload for device %s: %v", deviceID, err)
		return DeviceStatus{Online: false}
	}
	return status
}

// parseStatus decodes a device's status report. Numeric fields become
// readings; "state"/"on" fields map to the power state.
func parseStatus(raw string) (DeviceStatus, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return DeviceStatus{}, err
	}

	status := DeviceStatus{Online: true, Readings: map[string]float64{}}
	for key, val := range payload {
		switch v := val.(type) {
		case bool:
			if key == "state" || key == "on" {
				on := v
				status.State = &on
			}
		case float64:
			status.Readings[key] = v
		case string:
			if key == "state" {
				on := strings.EqualFold(v, "on") || v == "1" || strings.EqualFold(v, "true")
				status.State = &on
			}
		}
	}
	return status, nil
}

// SetPower publishes an on/off command and waits for broker acknowledgement.
func (g *MQTTGateway) SetPower(ctx context.Context, deviceID string, on bool) error {
	power := "off"
	if on {
		power = "on"
	}
	payload, _ := json.Marshal(map[string]string{"power": power})
	topic := fmt.Sprintf("devices/%s/commands", deviceID)
	log.Printf("GATEWAY: Publishing command to %s: %s", topic, payload)

	token := g.mqttClient.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(CallTimeout) {
		return fmt.Errorf("command to device %s timed out", deviceID)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("command to device %s failed: %w", deviceID, err)
	}
	return nil
}

// CaptureSnapshot asks a camera device to take a photo.
func (g *MQTTGateway) CaptureSnapshot(ctx context.Context, deviceID string) error {
	payload, _ := json.Marshal(map[string]string{"command": "capture_photo"})
	topic := fmt.Sprintf("devices/%s/commands", deviceID)
	log.Printf("GATEWAY: Publishing snapshot command to %s", topic)

	token := g.mqttClient.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(CallTimeout) {
		return fmt.Errorf("snapshot command to device %s timed out", deviceID)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("snapshot command to device %s failed: %w", deviceID, err)
	}
	return nil
}

func statusKey(deviceID string) string {
	return fmt.Sprintf("device:%s", deviceID)
}

// parseDeviceID extracts the device id from a devices/<id>/status topic.
func parseDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) > 1 {
		return parts[1]
	}
	return ""
}
