// Package telemetry turns charger MQTT traffic into sessions.
//
// Chargers publish power samples on <prefix>/<charger-id>/telemetry;
// older firmware publishes on <prefix>/telemetry and names the charger
// with a plug_id field in the payload instead. A connected edge opens a
// session, samples feed it, and either a disconnected edge or the
// completion heuristic (checked by a periodic sweep) closes it. Closing
// publishes session_complete and assignment events under
// <prefix>/events/.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/ampprint/ampprint/internal/charging"
	"github.com/ampprint/ampprint/internal/engine"
	"github.com/ampprint/ampprint/internal/store"
)

const opTimeout = 5 * time.Second

// Config carries broker settings for Start.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	SweepEvery  time.Duration
	Logger      *zap.Logger
}

// sample is the charger telemetry payload. Watts and Connected are
// optional: a sample without a connected flag is treated as connected,
// and a flag-only message carries no reading.
type sample struct {
	Watts       *float64   `json:"watts"`
	Connected   *bool      `json:"connected"`
	ChargerName string     `json:"charger_name"`
	PlugID      string     `json:"plug_id"` // legacy firmware charger alias
	At          *time.Time `json:"at"`
}

// completeEvent is published on <prefix>/events/session_complete.
type completeEvent struct {
	SessionID string    `json:"session_id"`
	ChargerID string    `json:"charger_id"`
	EndedAt   time.Time `json:"ended_at"`
}

// Intake owns the MQTT subscription and the completion sweeper.
type Intake struct {
	eng    *engine.Engine
	client mqtt.Client
	prefix string
	log    *zap.Logger
	quit   chan struct{}
	done   chan struct{}
}

// Start connects to the broker, subscribes to charger telemetry, and
// begins sweeping for finished sessions.
func Start(eng *engine.Engine, cfg Config) (*Intake, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("telemetry: broker address is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "ampprint"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "ampprint"
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("telemetry: connecting to broker: %w", token.Error())
	}

	in := newIntake(eng, client, cfg.TopicPrefix, cfg.Logger)
	for _, topic := range []string{
		cfg.TopicPrefix + "/+/telemetry",
		cfg.TopicPrefix + "/telemetry",
	} {
		if token := client.Subscribe(topic, 0, in.handleTelemetry); token.Wait() && token.Error() != nil {
			client.Disconnect(250)
			return nil, fmt.Errorf("telemetry: subscribing to %s: %w", topic, token.Error())
		}
	}

	go in.sweep(cfg.SweepEvery)
	cfg.Logger.Info("telemetry intake started",
		zap.String("broker", broker),
		zap.String("prefix", cfg.TopicPrefix))
	return in, nil
}

func newIntake(eng *engine.Engine, client mqtt.Client, prefix string, log *zap.Logger) *Intake {
	return &Intake{
		eng:    eng,
		client: client,
		prefix: prefix,
		log:    log,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Close stops the sweeper and disconnects from the broker.
func (in *Intake) Close() {
	close(in.quit)
	<-in.done
	if in.client.IsConnected() {
		in.client.Disconnect(250)
	}
}

// handleTelemetry routes one charger message: open on connect, feed
// while charging, close on disconnect.
func (in *Intake) handleTelemetry(_ mqtt.Client, msg mqtt.Message) {
	var p sample
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		in.log.Warn("dropping unparseable telemetry",
			zap.String("topic", msg.Topic()),
			zap.Error(err))
		return
	}

	identity := charging.NormalizeChargerIdentity(chargerFromTopic(msg.Topic()), p.PlugID, p.ChargerName)
	if identity.ID == "" {
		in.log.Warn("dropping telemetry without a charger id", zap.String("topic", msg.Topic()))
		return
	}

	at := time.Now().UTC()
	if p.At != nil {
		at = p.At.UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	active, err := in.eng.ActiveSession(ctx, identity.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		active = nil
	case err != nil:
		in.log.Warn("looking up active session", zap.String("charger_id", identity.ID), zap.Error(err))
		return
	}

	if p.Connected != nil && !*p.Connected {
		if active == nil {
			return
		}
		asg, err := in.eng.CompleteSession(ctx, active.ID, at)
		if err != nil {
			in.log.Warn("completing session on disconnect",
				zap.String("session_id", active.ID),
				zap.Error(err))
			return
		}
		in.publishCompletion(asg)
		return
	}

	if active == nil {
		active, err = in.eng.StartSession(ctx, identity, at)
		if err != nil {
			in.log.Warn("starting session", zap.String("charger_id", identity.ID), zap.Error(err))
			return
		}
	}
	if p.Watts != nil {
		if err := in.eng.RecordReading(ctx, active.ID, at, *p.Watts); err != nil {
			in.log.Warn("recording reading", zap.String("session_id", active.ID), zap.Error(err))
		}
	}
}

// sweep closes sessions the completion heuristic considers finished.
func (in *Intake) sweep(every time.Duration) {
	defer close(in.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-in.quit:
			return
		case now := <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			done, err := in.eng.SweepFinished(ctx, now.UTC())
			cancel()
			if err != nil {
				in.log.Warn("completion sweep", zap.Error(err))
			}
			for _, asg := range done {
				in.publishCompletion(asg)
			}
		}
	}
}

// publishCompletion emits the session_complete event, and the
// assignment event when the session was profiled and grouped.
func (in *Intake) publishCompletion(asg *engine.Assignment) {
	in.publish(in.prefix+"/events/session_complete", completeEvent{
		SessionID: asg.SessionID,
		ChargerID: asg.ChargerID,
		EndedAt:   asg.EndedAt,
	})
	if !asg.Skipped {
		in.publish(in.prefix+"/events/assignment", asg)
	}
}

func (in *Intake) publish(topic string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		in.log.Warn("encoding event", zap.String("topic", topic), zap.Error(err))
		return
	}
	token := in.client.Publish(topic, 0, false, body)
	go func() {
		if token.Wait() && token.Error() != nil {
			in.log.Warn("publishing event", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}()
}

// chargerFromTopic pulls the charger id segment out of
// "<prefix>/<charger-id>/telemetry". The legacy two-segment topic has
// none, so the payload's plug_id has to name the charger.
func chargerFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2]
}
