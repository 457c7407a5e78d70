package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gridcon-pcs/internal/controller"
)

const (
	publishTimeout        = 2 * time.Second
	defaultConnectTimeout = 10 * time.Second
	connectRetryInterval  = 5 * time.Second
	nodeID                = "gridcon_pcs"
)

var errNotConnected = errors.New("not connected to MQTT broker")

// Commander receives the commands sent over MQTT. *controller.Controller
// satisfies it.
type Commander interface {
	Reset() error
	SetPower(active, reactive float64) error
}

type Publisher struct {
	client          mqtt.Client
	topicPrefix     string
	discovery       bool
	discoveryPrefix string
	enabled         bool
	commander       Commander
	logger          zerolog.Logger

	// queue holds the newest snapshot not yet sent.
	queue     chan *controller.Snapshot
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type PublisherConfig struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	TopicPrefix     string
	Discovery       bool
	DiscoveryPrefix string
	Enabled         bool
	// ConnectTimeout bounds the wait for the first connection. The client
	// keeps retrying in the background after it.
	ConnectTimeout  time.Duration
}

// SetpointCommand is the payload of the <prefix>/cmd/setpoint topic.
type SetpointCommand struct {
	ActivePower   float64 `json:"active_power"`
	ReactivePower float64 `json:"reactive_power"`
}

// NewPublisher connects to the broker and starts the background sender. An
// unreachable broker is not an error; the client keeps retrying. Commands
// are forwarded to commander when it is not nil.
func NewPublisher(cfg PublisherConfig, commander Commander) (*Publisher, error) {
	p := &Publisher{
		topicPrefix:     cfg.TopicPrefix,
		discovery:       cfg.Discovery,
		discoveryPrefix: cfg.DiscoveryPrefix,
		enabled:         cfg.Enabled,
		commander:       commander,
		logger:          log.With().Str("component", "mqtt").Logger(),
	}
	if !cfg.Enabled {
		return p, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			p.logger.Warn().Err(err).Msg("MQTT connection lost")
		}).
		SetOnConnectHandler(p.onConnect)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(timeout) {
		p.logger.Warn().Str("broker", cfg.Broker).Dur("timeout", timeout).Msg("MQTT broker not reachable, retrying in background")
	} else if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	p.queue = make(chan *controller.Snapshot, 1)
	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.run()

	return p, nil
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case snap := <-p.queue:
			if err := p.send(snap); err != nil {
				p.logger.Debug().Err(err).Msg("snapshot not published")
			}
		}
	}
}

func (p *Publisher) topic(name string) string {
	return p.topicPrefix + "/" + name
}

// onConnect runs on every connect and reconnect.
func (p *Publisher) onConnect(c mqtt.Client) {
	p.logger.Info().Msg("MQTT connected")

	if p.commander != nil {
		subs := map[string]mqtt.MessageHandler{
			p.topic("cmd/reset"):    p.handleReset,
			p.topic("cmd/setpoint"): p.handleSetpoint,
		}
		for topic, handler := range subs {
			token := c.Subscribe(topic, 1, handler)
			if token.WaitTimeout(publishTimeout) && token.Error() != nil {
				p.logger.Error().Err(token.Error()).Str("topic", topic).Msg("failed to subscribe")
			}
		}
	}

	if p.discovery {
		if err := p.PublishHomeAssistantDiscovery(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to publish discovery")
		}
	}
}

func (p *Publisher) handleReset(_ mqtt.Client, msg mqtt.Message) {
	p.logger.Info().Str("topic", msg.Topic()).Msg("reset requested")
	if err := p.commander.Reset(); err != nil {
		p.logger.Error().Err(err).Msg("reset rejected")
	}
}

func (p *Publisher) handleSetpoint(_ mqtt.Client, msg mqtt.Message) {
	var cmd SetpointCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		p.logger.Warn().Err(err).Str("payload", string(msg.Payload())).Msg("invalid setpoint payload")
		return
	}
	if err := p.commander.SetPower(cmd.ActivePower, cmd.ReactivePower); err != nil {
		p.logger.Error().Err(err).Msg("setpoint rejected")
	}
}

// Publish hands snap to the background sender without blocking. A snapshot
// still waiting from an earlier cycle is replaced.
func (p *Publisher) Publish(snap *controller.Snapshot) error {
	if !p.enabled || snap == nil {
		return nil
	}
	for {
		select {
		case p.queue <- snap:
			return nil
		default:
		}
		select {
		case <-p.queue:
		default:
		}
	}
}

// send publishes the individual values and the full snapshot. The snapshot
// and the unrecoverable flag are retained.
func (p *Publisher) send(snap *controller.Snapshot) error {
	if !p.client.IsConnectionOpen() {
		return errNotConnected
	}

	topics := map[string]interface{}{
		"grid_tie_state":      snap.GridTieState,
		"on_grid_state":       snap.OnGridState,
		"error_state":         snap.ErrorState,
		"ccu_state":           snap.CcuStateName,
		"grid_mode":           snap.GridMode,
		"command":             snap.Command,
		"dc_link_voltage":     snap.DcLinkVoltage,
		"active_power":        snap.ActivePower,
		"reactive_power":      snap.ReactivePower,
		"allowed_charge":      snap.Totals.AllowedCharge,
		"allowed_discharge":   snap.Totals.AllowedDischarge,
		"ack_attempts":        snap.AckAttempts,
		"hard_reset_attempts": snap.ResetAttempts,
		"cycle_ok":            snap.CycleOK,
	}
	if snap.Totals.SocValid {
		topics["soc"] = snap.Totals.Soc
	}

	for name, value := range topics {
		if !p.client.IsConnectionOpen() {
			return errNotConnected
		}
		topic := p.topic(name)
		payload := fmt.Sprintf("%v", value)
		token := p.client.Publish(topic, 0, false, payload)
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			p.logger.Debug().Err(token.Error()).Str("topic", topic).Msg("failed to publish")
		}
	}

	token := p.client.Publish(p.topic("unrecoverable"), 1, true, fmt.Sprintf("%v", snap.Unrecoverable))
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return fmt.Errorf("failed to publish unrecoverable flag: %w", token.Error())
	}

	stateJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	token = p.client.Publish(p.topic("state"), 0, true, stateJSON)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("failed to publish state: timeout after %s", publishTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish state: %w", token.Error())
	}

	return nil
}

type discoveryEntity struct {
	Component   string
	Name        string
	ID          string
	Unit        string
	DeviceClass string
}

var discoveryEntities = []discoveryEntity{
	{"sensor", "Grid Tie State", "grid_tie_state", "", ""},
	{"sensor", "CCU State", "ccu_state", "", ""},
	{"sensor", "Error State", "error_state", "", ""},
	{"sensor", "DC Link Voltage", "dc_link_voltage", "V", "voltage"},
	{"sensor", "Active Power Setpoint", "active_power", "W", "power"},
	{"sensor", "Reactive Power Setpoint", "reactive_power", "var", "reactive_power"},
	{"sensor", "Battery SoC", "soc", "%", "battery"},
	{"sensor", "Allowed Charge Power", "allowed_charge", "W", "power"},
	{"sensor", "Allowed Discharge Power", "allowed_discharge", "W", "power"},
	{"binary_sensor", "Unrecoverable", "unrecoverable", "", "problem"},
}

func (p *Publisher) PublishHomeAssistantDiscovery() error {
	if !p.enabled {
		return nil
	}

	for _, entity := range discoveryEntities {
		discoveryTopic := fmt.Sprintf("%s/%s/%s/%s/config", p.discoveryPrefix, entity.Component, nodeID, entity.ID)

		config := map[string]interface{}{
			"name":        entity.Name,
			"unique_id":   fmt.Sprintf("%s_%s", nodeID, entity.ID),
			"state_topic": p.topic(entity.ID),
			"device": map[string]interface{}{
				"identifiers":  []string{nodeID},
				"name":         "Gridcon PCS",
				"manufacturer": "GE",
				"model":        "Gridcon",
			},
		}
		if entity.Unit != "" {
			config["unit_of_measurement"] = entity.Unit
		}
		if entity.DeviceClass != "" {
			config["device_class"] = entity.DeviceClass
		}
		if entity.Component == "binary_sensor" {
			config["payload_on"] = "true"
			config["payload_off"] = "false"
		}

		payload, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal discovery for %s: %w", entity.ID, err)
		}
		token := p.client.Publish(discoveryTopic, 0, true, payload)
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			return fmt.Errorf("failed to publish discovery for %s: %w", entity.ID, token.Error())
		}
	}

	return nil
}

// IsConnected reports an open broker connection, not one still being retried.
func (p *Publisher) IsConnected() bool {
	if !p.enabled {
		return false
	}
	return p.client.IsConnectionOpen()
}

// Close stops the sender and disconnects. It is safe to call more than once.
func (p *Publisher) Close() {
	if !p.enabled || p.client == nil {
		return
	}
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.client.Disconnect(1000)
	})
}
