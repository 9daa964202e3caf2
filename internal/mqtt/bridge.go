// Package mqtt surfaces the accessory over an MQTT topic tree: facet updates
// are published retained under <prefix>/status/, and writes arrive on
// <prefix>/set/ topics.
package mqtt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"airbridge/internal/command"
)

// Config holds the MQTT connection settings.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Controller is the slice of the accessory the bridge drives. Every entry
// point completes asynchronously.
type Controller interface {
	SetPower(on bool, done command.CompletionFunc)
	SetMode(target string, done command.CompletionFunc)
	SetLock(locked bool, done command.CompletionFunc)
	SetSpeed(percent float64, done command.CompletionFunc)
	SetLED(on bool, done command.CompletionFunc)
	SetBuzzer(on bool, done command.CompletionFunc)
}

// Bridge publishes facet updates and forwards set commands to the accessory.
type Bridge struct {
	client pahomqtt.Client
	prefix string
	ctrl   Controller
	logger *zap.Logger
}

// NewBridge connects to the broker and subscribes to the set topics. The
// availability topic is maintained via a last-will message.
func NewBridge(cfg Config, ctrl Controller, logger *zap.Logger) (*Bridge, error) {
	b := &Bridge{
		prefix: cfg.TopicPrefix,
		ctrl:   ctrl,
		logger: logger.Named("mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("airbridge").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.prefix+"/availability", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publish("availability", "online")
			b.subscribeSetTopics()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", zap.Error(err))
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Stop publishes the offline state and disconnects.
func (b *Bridge) Stop() {
	b.publish("availability", "offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// Push publishes one facet value retained under <prefix>/status/<facet>.
func (b *Bridge) Push(facet string, value any) {
	b.publish("status/"+facet, FormatValue(value))
}

func (b *Bridge) publish(suffix, payload string) {
	if b.client == nil || !b.client.IsConnected() {
		return
	}
	topic := b.prefix + "/" + suffix
	token := b.client.Publish(topic, 1, true, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("Publish timeout", zap.String("topic", topic))
		} else if err := token.Error(); err != nil {
			b.logger.Warn("Publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

func (b *Bridge) subscribeSetTopics() {
	topic := b.prefix + "/set/#"
	token := b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		control := strings.TrimPrefix(msg.Topic(), b.prefix+"/set/")
		b.HandleSet(control, string(msg.Payload()))
	})
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		b.logger.Error("Failed to subscribe to set topics", zap.Error(token.Error()))
	}
}

// HandleSet routes one inbound write to the matching accessory entry point.
func (b *Bridge) HandleSet(control, payload string) {
	done := b.completion(control)

	switch control {
	case "power":
		b.ctrl.SetPower(parseBool(payload), done)
	case "mode":
		b.ctrl.SetMode(payload, done)
	case "lock":
		b.ctrl.SetLock(parseBool(payload), done)
	case "speed":
		percent, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
		if err != nil {
			b.logger.Warn("Ignoring unparseable speed", zap.String("payload", payload))
			return
		}
		b.ctrl.SetSpeed(percent, done)
	case "led":
		b.ctrl.SetLED(parseBool(payload), done)
	case "buzzer":
		b.ctrl.SetBuzzer(parseBool(payload), done)
	default:
		b.logger.Warn("Ignoring unknown set topic", zap.String("control", control))
	}
}

func (b *Bridge) completion(control string) command.CompletionFunc {
	return func(err error) {
		if err != nil {
			b.logger.Warn("Set command failed", zap.String("control", control), zap.Error(err))
			return
		}
		b.logger.Debug("Set command applied", zap.String("control", control))
	}
}

// FormatValue renders a facet value as an MQTT payload.
func FormatValue(value any) string {
	switch v := value.(type) {
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func parseBool(payload string) bool {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "on", "true", "1":
		return true
	default:
		return false
	}
}
