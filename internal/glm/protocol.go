// Package glm holds everything known about the GLM laser rangefinder wire protocol.
//
// The protocol is only partially reverse-engineered. Exactly one notification shape is
// recognized (the measurement frame); every other frame the device pushes is ignored.
package glm

import (
	"encoding/binary"
	"math"
)

// MeasurementCharUUID is the vendor characteristic used both for measurement
// notifications and for the activation command.
const MeasurementCharUUID = "00004301-0000-0041-5253-534f46540000"

// Measurement frame layout:
//
//	offset  0  1  2  3  4  5  6  7  8  9  10
//	        C0 55 10 06 ?? ?? ?? f32 little-endian (meters)
const (
	// MinFrameLen is the shortest payload that can carry a measurement.
	MinFrameLen = 11

	// FrameTypeMeasurement marks a measurement frame (byte 3).
	FrameTypeMeasurement byte = 0x06

	valueOffset = 7
	valueEnd    = 11
)

// MagicPrefix identifies frames of the vendor protocol.
var MagicPrefix = [3]byte{0xC0, 0x55, 0x10}

// ActivationCommand enables auto-send: once written (acknowledged), the device pushes
// every measurement without being polled.
var ActivationCommand = []byte{0xC0, 0x55, 0x02, 0x01, 0x00, 0x1A}

// Default locator hints. These are configuration, not protocol.
var (
	DefaultNameHints     = []string{"Bosch", "GLM", "GLM50C"}
	DefaultAddressPrefix = "00:13:43"
)

// Decode extracts the distance in meters from a measurement frame.
// ok is false for anything that is not a measurement frame, and for frames whose
// value is NaN or infinite; that is an expected outcome, not an error.
func Decode(payload []byte) (valueMeters float64, ok bool) {
	if len(payload) < MinFrameLen {
		return 0, false
	}
	if payload[0] != MagicPrefix[0] || payload[1] != MagicPrefix[1] || payload[2] != MagicPrefix[2] {
		return 0, false
	}
	if payload[3] != FrameTypeMeasurement {
		return 0, false
	}

	bits := binary.LittleEndian.Uint32(payload[valueOffset:valueEnd])
	v := float64(math.Float32frombits(bits))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
