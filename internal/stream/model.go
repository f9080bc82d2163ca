package stream

import (
	"encoding/json"
	"time"
)

// Measurement is one accepted reading.
type Measurement struct {
	Timestamp   time.Time
	ValueMeters float64
}

func (m Measurement) MarshalJSON() ([]byte, error) {
	return json.Marshal(measurePayload{ValueM: m.ValueMeters, TS: UnixSeconds(m.Timestamp)})
}

// Status is the link health as seen by observers. Empty strings and a zero LastSeen
// mean "unknown".
type Status struct {
	Connected     bool
	DeviceName    string
	DeviceAddress string
	LastSeen      time.Time
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.payload())
}

func (s Status) payload() statusPayload {
	p := statusPayload{Connected: s.Connected}
	if s.DeviceName != "" {
		p.DeviceName = &s.DeviceName
	}
	if s.DeviceAddress != "" {
		p.DeviceAddress = &s.DeviceAddress
	}
	if !s.LastSeen.IsZero() {
		ts := UnixSeconds(s.LastSeen)
		p.LastSeen = &ts
	}
	return p
}

type EventType string

const (
	EventMeasure EventType = "measure"
	EventStatus  EventType = "status"
)

// Event is what the Supervisor publishes. Only the field matching Type is set.
type Event struct {
	Type        EventType
	Measurement Measurement
	Status      Status
}

func MeasureEvent(m Measurement) Event { return Event{Type: EventMeasure, Measurement: m} }
func StatusEvent(s Status) Event       { return Event{Type: EventStatus, Status: s} }

// MarshalJSON flattens the event: {"type":"measure","value_m":..,"ts":..} or
// {"type":"status","connected":..,"device_name":..,"device_address":..,"last_seen":..}.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventMeasure:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			measurePayload
		}{e.Type, measurePayload{ValueM: e.Measurement.ValueMeters, TS: UnixSeconds(e.Measurement.Timestamp)}})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			statusPayload
		}{EventStatus, e.Status.payload()})
	}
}

type measurePayload struct {
	ValueM float64 `json:"value_m"`
	TS     float64 `json:"ts"`
}

type statusPayload struct {
	Connected     bool     `json:"connected"`
	DeviceName    *string  `json:"device_name"`
	DeviceAddress *string  `json:"device_address"`
	LastSeen      *float64 `json:"last_seen"`
}

// UnixSeconds renders t as fractional Unix seconds, the timestamp form used in
// every JSON payload.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
