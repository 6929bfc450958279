// Package nexus decodes Nexus-TH temperature/humidity payloads.
//
// Payload layout, MSB first (36 bits):
//
//	IIIIIIII B 0 CC TTTTTTTTTTTT FFFF HHHHHHHH
//
//	I  id, changes on battery swap
//	B  battery ok
//	0  reserved, observed as zero, not validated
//	C  channel, zero based
//	T  temperature in tenths of a degree Celsius
//	F  unknown, not validated
//	H  relative humidity in percent
package nexus

import (
	"fmt"

	"github.com/sweeney/nexus-sensor/internal/ook"
)

// Model is the rtl_433 style model name for readings from this decoder.
const Model = "Nexus-TH"

// PayloadBits is the width of a Nexus-TH payload.
const PayloadBits = 36

// MaxHumidity is the clamp applied to the humidity field.
const MaxHumidity = 100

// Reading is one decoded payload.
type Reading struct {
	ID              uint8
	BatteryOK       bool
	Channel         uint8 // zero based; DisplayChannel adds one
	TemperatureDeci int16 // tenths of a degree Celsius
	Humidity        uint8 // percent, clamped to [0,100]

	// Ignored fields, kept so that firmware variants can be inspected.
	Reserved uint8
	Unknown  uint8

	Raw ook.RawPayload
}

// TemperatureC returns the temperature in degrees Celsius.
func (r Reading) TemperatureC() float64 {
	return float64(r.TemperatureDeci) / 10
}

// DisplayChannel returns the channel as printed on the sensor's switch.
func (r Reading) DisplayChannel() int {
	return int(r.Channel) + 1
}

// Model returns the sensor model name.
func (r Reading) Model() string {
	return Model
}

func (r Reading) String() string {
	return fmt.Sprintf("id=%d ch=%d battery_ok=%t temp=%.1fC humidity=%d%%",
		r.ID, r.DisplayChannel(), r.BatteryOK, r.TemperatureC(), r.Humidity)
}

// Options controls interpretation of fields whose meaning is not settled.
type Options struct {
	// SignedTemperature reads the temperature field as 12 bit two's
	// complement. When false the field is an unsigned magnitude.
	SignedTemperature bool `toml:"signed_temperature"`
}

// Decode interprets a 36 bit payload. It is pure and cannot fail; the
// assembler guarantees the width.
func Decode(p ook.RawPayload, opts Options) Reading {
	field := func(offset, n int) uint64 {
		return p.Field(PayloadBits, offset, n)
	}

	temp := int16(field(12, 12))
	if opts.SignedTemperature && temp >= 1<<11 {
		temp -= 1 << 12
	}

	humidity := field(28, 8)
	if humidity > MaxHumidity {
		humidity = MaxHumidity
	}

	return Reading{
		ID:              uint8(field(0, 8)),
		BatteryOK:       field(8, 1) == 1,
		Reserved:        uint8(field(9, 1)),
		Channel:         uint8(field(10, 2)),
		TemperatureDeci: temp,
		Unknown:         uint8(field(24, 4)),
		Humidity:        uint8(humidity),
		Raw:             p,
	}
}

// Encode builds the payload for a reading. Humidity is written as given, so
// values above 100 survive for testing the clamp.
func Encode(r Reading) ook.RawPayload {
	var v uint64
	put := func(value uint64, n int) {
		v = v<<uint(n) | value&(1<<uint(n)-1)
	}
	put(uint64(r.ID), 8)
	if r.BatteryOK {
		put(1, 1)
	} else {
		put(0, 1)
	}
	put(uint64(r.Reserved), 1)
	put(uint64(r.Channel), 2)
	put(uint64(uint16(r.TemperatureDeci)), 12)
	put(uint64(r.Unknown), 4)
	put(uint64(r.Humidity), 8)
	return ook.RawPayload(v)
}
