package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
)

// Category identifies a kind of sensor.
type Category uint32

const (
	Temperature Category = iota
	Humidity
	Pressure
	Illuminance
	Voltage
	categoryCount
)

var categoryNames = [...]string{
	Temperature: "temperature",
	Humidity:    "humidity",
	Pressure:    "pressure",
	Illuminance: "illuminance",
	Voltage:     "voltage",
}

// Valid reports whether c names a known category.
func (c Category) Valid() bool {
	return c < categoryCount
}

func (c Category) String() string {
	if c.Valid() {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint32(c))
}

// ParseCategory resolves a category by name, case-insensitively.
func ParseCategory(name string) (Category, error) {
	for i, n := range categoryNames {
		if strings.EqualFold(n, name) {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown sensor category %q", name)
}

// Reading is a fixed-point sensor value: Value * 10^Scaling Unit.
type Reading struct {
	Value   int32
	Scaling int8
	Unit    string
}

func (r Reading) String() string {
	v := float64(r.Value)
	for s := r.Scaling; s < 0; s++ {
		v /= 10
	}
	for s := r.Scaling; s > 0; s-- {
		v *= 10
	}
	return fmt.Sprintf("%g %s", v, r.Unit)
}

// SensorSource answers sensor reads for guests.
type SensorSource interface {
	Read(ctx context.Context, c Category) (Reading, error)
}

// FakeSensors returns a fixed base reading per category with optional
// bounded jitter. The zero value has no readings.
type FakeSensors struct {
	mu       sync.Mutex
	readings map[Category]Reading
	jitter   int32
	rng      *rand.Rand
}

// NewFakeSensors creates a source with plausible indoor readings.
// Jitter perturbs each value by up to ±jitter raw units; seed fixes the
// sequence.
func NewFakeSensors(jitter int32, seed uint64) *FakeSensors {
	return &FakeSensors{
		readings: map[Category]Reading{
			Temperature: {Value: 215, Scaling: -1, Unit: "Cel"},
			Humidity:    {Value: 45, Scaling: 0, Unit: "%RH"},
			Pressure:    {Value: 10132, Scaling: -1, Unit: "hPa"},
			Illuminance: {Value: 300, Scaling: 0, Unit: "lx"},
			Voltage:     {Value: 3300, Scaling: -3, Unit: "V"},
		},
		jitter: max(jitter, 0),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Set overrides the base reading for c.
func (f *FakeSensors) Set(c Category, r Reading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readings == nil {
		f.readings = make(map[Category]Reading)
	}
	f.readings[c] = r
}

func (f *FakeSensors) Read(_ context.Context, c Category) (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.readings[c]
	if !ok {
		return Reading{}, fmt.Errorf("no %s sensor", c)
	}
	if f.jitter > 0 && f.rng != nil {
		r.Value += f.rng.Int32N(2*f.jitter+1) - f.jitter
	}
	return r, nil
}

var _ SensorSource = (*FakeSensors)(nil)
