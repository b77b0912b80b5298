package notify

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nasa-jpl/labsweep/acq"
)

// ErrConnectTimeout is generated when the broker does not answer in time
var ErrConnectTimeout = errors.New("notify: mqtt connect timeout")

// Publisher is the part of an MQTT client used to publish
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Connect makes a client for the broker and connects it.  The client keeps
// reconnecting in the background if the broker goes away.
func Connect(broker, clientID string, timeout time.Duration) (paho.Client, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)
	c := paho.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		return c, ErrConnectTimeout
	}
	return c, token.Error()
}

// MQTT publishes each event as JSON on Topic/<state>, and the latest event
// retained on Topic/status so that a UI which connects late sees the current
// state
type MQTT struct {
	Client  Publisher
	Topic   string
	QoS     byte
	Timeout time.Duration
	Log     *log.Logger

	now func() time.Time
}

// NewMQTT returns a publisher on topic
func NewMQTT(c Publisher, topic string) *MQTT {
	return &MQTT{Client: c, Topic: topic, QoS: 1, Timeout: 5 * time.Second, Log: log.Default(), now: time.Now}
}

// Observe publishes the event.  It does not wait for the broker.
func (m *MQTT) Observe(e acq.Event) {
	b, err := json.Marshal(NewMessage(e, m.now()))
	if err != nil {
		m.Log.Printf("notify: encoding event of run %s: %v", e.ID, err)
		return
	}
	m.publish(m.Topic+"/"+e.State.String(), false, b)
	m.publish(m.Topic+"/status", true, b)
}

func (m *MQTT) publish(topic string, retained bool, b []byte) {
	token := m.Client.Publish(topic, m.QoS, retained, b)
	go func() {
		if !token.WaitTimeout(m.Timeout) {
			m.Log.Printf("notify: publishing to %s timed out", topic)
			return
		}
		if err := token.Error(); err != nil {
			m.Log.Printf("notify: publishing to %s: %v", topic, err)
		}
	}()
}
