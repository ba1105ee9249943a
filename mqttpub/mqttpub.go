// Package mqttpub publishes live readings and finished sessions to an MQTT broker.
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	tspb "google.golang.org/protobuf/types/known/timestamppb"

	"github.com/mtraver/rc-thermometer/measurement"
	"github.com/mtraver/rc-thermometer/session"
)

// Payload encodings.
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

type Config struct {
	// Broker URL, e.g. tcp://localhost:1883.
	Broker   string
	ClientID string
	// Topics are <TopicPrefix>/<device ID>/readings and <TopicPrefix>/<device ID>/sessions.
	TopicPrefix string
	// StoreDir, if set, persists in-flight QoS 1 messages so they survive a restart.
	StoreDir string
	Format   string
	// Timeout bounds connecting and each publish.
	Timeout time.Duration
}

func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqttpub: broker must be given")
	}
	if c.TopicPrefix == "" {
		return fmt.Errorf("mqttpub: topic prefix must be given")
	}
	switch c.Format {
	case FormatJSON, FormatProto:
	default:
		return fmt.Errorf("mqttpub: invalid format %q (allowed: %s, %s)", c.Format, FormatJSON, FormatProto)
	}
	return nil
}

type Publisher struct {
	client mqtt.Client
	cfg    Config
	logger *slog.Logger
}

// New returns a Publisher that uses an existing client.
func New(client mqtt.Client, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Connect makes a client from cfg and connects it to the broker.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	if cfg.StoreDir != "" {
		opts.SetStore(mqtt.NewFileStore(cfg.StoreDir))
		// Keep the broker-side session so stored messages can be resent.
		opts.SetCleanSession(false)
	}

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("connected to MQTT broker", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection to MQTT broker lost", "err", err)
	})

	p, err := New(mqtt.NewClient(opts), cfg, logger)
	if err != nil {
		return nil, err
	}

	if token := p.client.Connect(); !token.WaitTimeout(p.cfg.Timeout) {
		return nil, fmt.Errorf("mqttpub: connection attempt timed out after %v", p.cfg.Timeout)
	} else if token.Error() != nil {
		return nil, fmt.Errorf("mqttpub: failed to connect to MQTT broker: %w", token.Error())
	}

	return p, nil
}

func (p *Publisher) Name() string {
	return "mqtt"
}

func (p *Publisher) ReadingTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s/readings", p.cfg.TopicPrefix, deviceID)
}

func (p *Publisher) SessionTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s/sessions", p.cfg.TopicPrefix, deviceID)
}

func (p *Publisher) PublishReading(ctx context.Context, r measurement.Reading) error {
	b, err := EncodeReading(r, p.cfg.Format)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.ReadingTopic(r.DeviceID), b)
}

func (p *Publisher) PublishSession(ctx context.Context, deviceID string, res session.Result) error {
	b, err := EncodeSession(deviceID, res, p.cfg.Format)
	if err != nil {
		return err
	}
	if err := p.publish(ctx, p.SessionTopic(deviceID), b); err != nil {
		return err
	}
	p.logger.Info("published session", "samples", len(res.Points))
	return nil
}

func (p *Publisher) publish(ctx context.Context, topic string, payload []byte) error {
	waitDur := p.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < waitDur {
			waitDur = d
		}
	}

	token := p.client.Publish(topic, 1, false, payload)
	if ok := token.WaitTimeout(waitDur); !ok {
		// Timed out.
		return fmt.Errorf("mqttpub: publish to %s timed out after %v", topic, waitDur)
	} else if token.Error() != nil {
		// Finished before timeout but failed to publish.
		return fmt.Errorf("mqttpub: failed to publish to %s: %w", topic, token.Error())
	}

	return nil
}

// Disconnect waits up to quiesce for in-flight work to finish, then disconnects.
func (p *Publisher) Disconnect(quiesce time.Duration) {
	p.client.Disconnect(uint(quiesce / time.Millisecond))
}

func readingFields(r measurement.Reading) (map[string]interface{}, error) {
	ts := tspb.New(r.Timestamp)
	if err := ts.CheckValid(); err != nil {
		return nil, fmt.Errorf("mqttpub: invalid timestamp: %w", err)
	}

	return map[string]interface{}{
		"device_id":       r.DeviceID,
		"timestamp":       ts.AsTime().Format(time.RFC3339Nano),
		"temp_c":          r.Celsius,
		"temp_f":          r.Fahrenheit(),
		"resistance_ohms": r.Resistance,
		"charge_time_us":  float64(r.ChargeTime) / float64(time.Microsecond),
		"band":            r.Band().String(),
	}, nil
}

func sessionFields(deviceID string, res session.Result) map[string]interface{} {
	points := make([]interface{}, len(res.Points))
	for i, pt := range res.Points {
		points[i] = map[string]interface{}{
			"elapsed": pt.Elapsed.Seconds(),
			"temp":    pt.Celsius,
		}
	}

	return map[string]interface{}{
		"device_id":  deviceID,
		"session_id": res.ID,
		"started":    res.Started.UTC().Format(time.RFC3339),
		"finished":   res.Finished.UTC().Format(time.RFC3339),
		"duration_s": res.Total.Seconds(),
		"points":     points,
		"summary": map[string]interface{}{
			"count":  float64(res.Summary.Count),
			"mean":   res.Summary.Mean,
			"stddev": res.Summary.StdDev,
			"min":    res.Summary.Min,
			"max":    res.Summary.Max,
		},
	}
}

// encode marshals fields as JSON, or as a google.protobuf.Struct in the proto format.
func encode(fields map[string]interface{}, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.Marshal(fields)
	case FormatProto:
		s, err := structpb.NewStruct(fields)
		if err != nil {
			return nil, fmt.Errorf("mqttpub: %w", err)
		}
		return proto.Marshal(s)
	default:
		return nil, fmt.Errorf("mqttpub: invalid format %q", format)
	}
}

func EncodeReading(r measurement.Reading, format string) ([]byte, error) {
	fields, err := readingFields(r)
	if err != nil {
		return nil, err
	}
	return encode(fields, format)
}

func EncodeSession(deviceID string, res session.Result, format string) ([]byte, error) {
	return encode(sessionFields(deviceID, res), format)
}
