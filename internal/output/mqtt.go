package output

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/sensor-node/internal/config"
)

// publishTimeout bounds the wait for a publish acknowledgement
const publishTimeout = 5 * time.Second

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPin mirrors a level as a retained "1"/"0" message
type MQTTPin struct {
	client mqttPublisher
	topic  string
	qos    byte
}

// Topic builds <prefix>/<deveui>/<name>
func Topic(prefix, devEUI, name string) string {
	return fmt.Sprintf("%s/%s/%s", prefix, devEUI, name)
}

func NewMQTTPin(client mqtt.Client, topic string, qos byte) *MQTTPin {
	return &MQTTPin{client: client, topic: topic, qos: qos}
}

func (p *MQTTPin) Set(level bool) error {
	payload := "0"
	if level {
		payload = "1"
	}

	token := p.client.Publish(p.topic, p.qos, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out after %s", p.topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}

	log.Debug().Str("topic", p.topic).Str("payload", payload).Msg("Output mirrored")
	return nil
}

// DialMQTT connects to the broker with exponential backoff. The client is
// disconnected when ctx is done.
func DialMQTT(ctx context.Context, cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("broker", cfg.Broker).Msg("Failed to connect to MQTT broker")
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("connect MQTT after %d attempts: %w", retries, err)
	}

	log.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		log.Info().Msg("MQTT connection closed")
	}()

	return client, nil
}
