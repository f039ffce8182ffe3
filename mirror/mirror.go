// Package mirror publishes accessory state to an MQTT broker
package mirror

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudkucooland/cowaybridge/accessory"
	"github.com/cloudkucooland/cowaybridge/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Second

// Mirror is a connected MQTT client
type Mirror struct {
	client mqtt.Client
	prefix string
	retain bool
}

// Message is one topic/payload pair
type Message struct {
	Topic   string
	Payload []byte
}

// Open connects to the broker named in c
func Open(c config.MQTTConfig) (*Mirror, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.Broker)
	opts.SetUsername(c.Username)
	opts.SetPassword(c.Password)
	opts.SetClientID(c.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(_ mqtt.Client) {
		log.Info().Str("broker", c.Broker).Msg("mqtt connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", c.Broker).Msg("mqtt connection lost")
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Mirror{client: client, prefix: strings.TrimSuffix(c.TopicPrefix, "/"), retain: c.Retain}, nil
}

// Messages builds what Publish sends for one accessory
func Messages(prefix string, a *accessory.Accessory, c accessory.Context) ([]Message, error) {
	base := fmt.Sprintf("%s/%s", prefix, c.Device.Barcode)

	state := c.State
	if len(state) == 0 {
		state = json.RawMessage("null")
	}
	info, err := json.Marshal(struct {
		Name       string `json:"name"`
		Type       string `json:"type"`
		Product    string `json:"product"`
		Configured bool   `json:"configured"`
	}{c.Device.Name(), c.DeviceType, c.Device.ProductName, c.Configured})
	if err != nil {
		return nil, err
	}

	connected := "false"
	if a.Connected() {
		connected = "true"
	}

	return []Message{
		{Topic: base + "/state", Payload: state},
		{Topic: base + "/info", Payload: info},
		{Topic: base + "/connected", Payload: []byte(connected)},
	}, nil
}

// Publish sends the accessory's state, info and connectivity
func (m *Mirror) Publish(a *accessory.Accessory, c accessory.Context) error {
	msgs, err := Messages(m.prefix, a, c)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		token := m.client.Publish(msg.Topic, 0, m.retain, msg.Payload)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("publish %s: timed out", msg.Topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", msg.Topic, err)
		}
	}
	return nil
}

// Close disconnects, letting in-flight messages finish
func (m *Mirror) Close() {
	m.client.Disconnect(250)
}
