// Package mqtt provides a loader that publishes each stream's records
// to an MQTT topic.
package mqtt

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/meltworks/melt/pkg/singer"
)

type Config struct {
	Servers     []string `mapstructure:"servers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	ClientID    string   `mapstructure:"client_id"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	QoS         byte     `mapstructure:"qos"`
	Retained    bool     `mapstructure:"retained"`
}

type Target struct {
	cfg    Config
	client mqtt.Client
}

// New returns an MQTT loader.
func New() *Target {
	return &Target{}
}

func (t *Target) Connect(config map[string]any) error {
	if err := mapstructure.Decode(config, &t.cfg); err != nil {
		return fmt.Errorf("mqtt config: %w", err)
	}

	if len(t.cfg.Servers) == 0 {
		t.cfg.Servers = []string{"tcp://localhost:1883"}
	}
	t.cfg.TopicPrefix = cmp.Or(t.cfg.TopicPrefix, "melt")
	t.cfg.ClientID = cmp.Or(t.cfg.ClientID, "melt-"+uuid.NewString()[:8])

	opts := mqtt.NewClientOptions()
	for _, server := range t.cfg.Servers {
		opts.AddBroker(server)
	}
	opts.SetClientID(t.cfg.ClientID)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	t.client = client
	return nil
}

func (t *Target) Load(_ context.Context, messages <-chan singer.Message) error {
	for msg := range messages {
		if msg.Type != singer.TypeRecord {
			continue
		}
		topic := fmt.Sprintf("%s/%s", t.cfg.TopicPrefix, msg.Record.Stream)
		data, err := json.Marshal(msg.Record.Data)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		token := t.client.Publish(topic, t.cfg.QoS, t.cfg.Retained, data)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("publish to %s: %w", topic, token.Error())
		}
	}
	return nil
}

func (t *Target) Disconnect() error {
	if t.client != nil {
		t.client.Disconnect(500)
	}
	return nil
}
