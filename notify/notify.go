// Package notify forwards acquisition events to remote observers: an MQTT
// broker for user interfaces, and prometheus for monitoring
package notify

import (
	"time"

	"github.com/nasa-jpl/labsweep/acq"
)

// Message is the published form of an acq.Event
type Message struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	State   string    `json:"state"`
	Running bool      `json:"running"`
	Error   string    `json:"error,omitempty"`
	Frames  int       `json:"frames"`
	Retries uint64    `json:"retries"`
	Elapsed float64   `json:"elapsed_s"`
	Shape   []int     `json:"shape,omitempty"`
	Name    string    `json:"name,omitempty"`
	Time    time.Time `json:"time"`
}

// NewMessage converts an event
func NewMessage(e acq.Event, now time.Time) Message {
	m := Message{
		ID:      e.ID,
		Kind:    e.Kind,
		State:   e.State.String(),
		Running: e.State == acq.Running,
		Frames:  e.Frames,
		Retries: e.Retries,
		Elapsed: e.Elapsed.Seconds(),
		Time:    now,
	}
	if e.Err != nil {
		m.Error = e.Err.Error()
	}
	if e.Result != nil {
		m.Shape = e.Result.Raw.Shape
		m.Name = e.Result.Name
	}
	return m
}
