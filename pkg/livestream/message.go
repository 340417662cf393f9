package livestream

import (
	"math"
	"time"

	"github.com/probeplot/probeplot-go/pkg/capture"
	"github.com/probeplot/probeplot-go/pkg/registry"
)

// Message types sent to clients.
const (
	TypeObservation = "observation"
	TypeLog         = "log"
	TypeState       = "state"
	TypeWrite       = "write"
	TypeError       = "error"
	TypeSettings    = "settings"
	TypeAck         = "ack"
	TypeNack        = "nack"
)

// TypeSet is the only message type accepted from clients.
const TypeSet = "set"

// Message is a JSON frame exchanged with live stream clients. Non-finite
// values are sent as a null value with NonFinite naming them.
type Message struct {
	Type string     `json:"type"`
	Time *time.Time `json:"time,omitempty"`

	Name      string   `json:"name,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	NonFinite string   `json:"nonFinite,omitempty"`
	Source    string   `json:"source,omitempty"`

	Level    string `json:"level,omitempty"`
	Channel  *int   `json:"channel,omitempty"`
	Text     string `json:"text,omitempty"`
	Location string `json:"location,omitempty"`

	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`

	Phase string `json:"phase,omitempty"`
	Error string `json:"error,omitempty"`

	Settings []Setting `json:"settings,omitempty"`
}

// Setting is the JSON form of a setting's presentation data.
type Setting struct {
	Name  string   `json:"name"`
	Kind  string   `json:"kind"`
	Min   float64  `json:"min"`
	Max   float64  `json:"max"`
	Step  float64  `json:"step"`
	Value *float64 `json:"value"`

	NonFinite string `json:"nonFinite,omitempty"`
}

// finite returns v when it has a JSON form. Otherwise it returns nil and
// the name of the value: "NaN", "+Inf" or "-Inf".
func finite(v float64) (*float64, string) {
	switch {
	case math.IsNaN(v):
		return nil, "NaN"
	case math.IsInf(v, 1):
		return nil, "+Inf"
	case math.IsInf(v, -1):
		return nil, "-Inf"
	}
	return &v, ""
}

func toSettings(states []registry.SettingState) []Setting {
	out := make([]Setting, len(states))
	for i, s := range states {
		out[i] = Setting{
			Name: s.Name,
			Kind: s.Kind.String(),
			Min:  s.Range.Start,
			Max:  s.Range.End,
			Step: s.Step,
		}
		out[i].Value, out[i].NonFinite = finite(s.Value)
	}
	return out
}

// fromEvent converts a capture event to its client message. It returns
// false for events that are not streamed.
func fromEvent(e capture.Event) (Message, bool) {
	var m Message
	if !e.Timestamp.IsZero() {
		ts := e.Timestamp
		m.Time = &ts
	}
	switch {
	case e.Observation != nil:
		m.Type = TypeObservation
		m.Name = e.Observation.Name
		m.Value, m.NonFinite = finite(e.Observation.Value)
		m.Source = e.Observation.Source.String()
	case e.Log != nil:
		m.Type = TypeLog
		ch := e.Log.Channel
		m.Channel = &ch
		m.Level = e.Log.Level.String()
		m.Text = e.Log.Text
		if !e.Log.Host {
			m.Location = e.Log.Record().Where()
		}
	case e.StateChange != nil:
		m.Type = TypeState
		m.State = e.StateChange.NewState
		m.Reason = e.StateChange.Reason
	case e.Write != nil:
		m.Type = TypeWrite
		m.Name = e.Write.Name
		m.Value, m.NonFinite = finite(e.Write.Written)
	case e.Error != nil:
		m.Type = TypeError
		m.Phase = e.Error.Phase
		m.Name = e.Error.Entry
		m.Error = e.Error.Message
	default:
		return Message{}, false
	}
	return m, true
}
