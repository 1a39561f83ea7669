// Package profile holds the fixed catalog of simulated sensors and the seed
// derivation that makes every sensor's value stream reproducible.
package profile

import (
	"fmt"
	"strings"
	"time"
)

// Class is the emergency/importance quadrant attached to every payload.
type Class int

const (
	// EmergencyImportant covers life-critical readings
	EmergencyImportant Class = 1
	// EmergencyNotImportant covers urgent but non-critical readings
	EmergencyNotImportant Class = 2
	// ImportantNotEmergency covers routine clinical readings
	ImportantNotEmergency Class = 3
	// Background covers environmental and administrative traffic
	Background Class = 4
)

// Profile is the immutable description of one simulated sensor.
type Profile struct {
	Key      string
	Class    Class
	Values   []string // enumerated domain; empty for numeric sensors
	Min      float64
	Max      float64
	Unit     string
	Interval time.Duration
}

// Enumerated reports whether the sensor samples from a closed set of strings.
func (p Profile) Enumerated() bool {
	return len(p.Values) > 0
}

func (p Profile) String() string {
	if p.Enumerated() {
		return fmt.Sprintf("%s(class=%d values=%v interval=%s)", p.Key, p.Class, p.Values, p.Interval)
	}
	return fmt.Sprintf("%s(class=%d range=[%g,%g]%s interval=%s)", p.Key, p.Class, p.Min, p.Max, p.Unit, p.Interval)
}

// DefaultKey is the profile returned when a requested name is unknown.
const DefaultKey = "humidity_sensor"

// Catalog resolves sensor names to profiles. A Catalog is never mutated after
// construction and is safe for concurrent use.
type Catalog struct {
	order    []string
	profiles map[string]Profile
	aliases  map[string]string
	fallback string
}

// NewCatalog builds a catalog from profiles in declared order. Every alias
// must point at a declared key and fallback must be declared.
func NewCatalog(profiles []Profile, aliases map[string]string, fallback string) (*Catalog, error) {
	c := &Catalog{
		profiles: make(map[string]Profile, len(profiles)),
		aliases:  make(map[string]string, len(aliases)),
		fallback: fallback,
	}
	for _, p := range profiles {
		if p.Key == "" {
			return nil, fmt.Errorf("profile with empty key")
		}
		if _, dup := c.profiles[p.Key]; dup {
			return nil, fmt.Errorf("duplicate profile key %q", p.Key)
		}
		if p.Class < EmergencyImportant || p.Class > Background {
			return nil, fmt.Errorf("profile %q: class %d out of range 1-4", p.Key, p.Class)
		}
		if !p.Enumerated() && p.Min > p.Max {
			return nil, fmt.Errorf("profile %q: min %g greater than max %g", p.Key, p.Min, p.Max)
		}
		if p.Interval <= 0 {
			return nil, fmt.Errorf("profile %q: interval must be positive", p.Key)
		}
		p.Values = append([]string(nil), p.Values...)
		c.profiles[p.Key] = p
		c.order = append(c.order, p.Key)
	}
	for alias, key := range aliases {
		if _, ok := c.profiles[key]; !ok {
			return nil, fmt.Errorf("alias %q points at unknown key %q", alias, key)
		}
		c.aliases[alias] = key
	}
	if _, ok := c.profiles[fallback]; !ok {
		return nil, fmt.Errorf("fallback key %q is not in the catalog", fallback)
	}
	return c, nil
}

// Resolve maps a sensor name or alias to its profile. Unknown names resolve
// to the fallback profile and ok is false so the caller can warn; one bad name
// never fails a run.
func (c *Catalog) Resolve(name string) (p Profile, ok bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if key, aliased := c.aliases[name]; aliased {
		name = key
	}
	if p, found := c.profiles[name]; found {
		return p, true
	}
	return c.profiles[c.fallback], false
}

// Lookup returns the profile stored under a canonical key, without fallback.
func (c *Catalog) Lookup(key string) (Profile, bool) {
	p, ok := c.profiles[key]
	return p, ok
}

// AllKeys returns the canonical keys in declared order.
func (c *Catalog) AllKeys() []string {
	return append([]string(nil), c.order...)
}

// Aliases returns a copy of the alias table.
func (c *Catalog) Aliases() map[string]string {
	out := make(map[string]string, len(c.aliases))
	for k, v := range c.aliases {
		out[k] = v
	}
	return out
}

// Topics returns every primary and admin topic of the catalog, in declared order.
func (c *Catalog) Topics() []string {
	topics := make([]string, 0, 2*len(c.order))
	for _, key := range c.order {
		topics = append(topics, SensorTopic(key), AdminTopic(key))
	}
	return topics
}

// SensorTopic is the topic primary readings of key are published on.
func SensorTopic(key string) string {
	return "sensor/" + key
}

// AdminTopic is the topic admin heartbeats of key are published on.
func AdminTopic(key string) string {
	return "admin/" + key
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DefaultCatalog returns the fixed ICU sensor catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultProfiles(), defaultAliases(), DefaultKey)
	if err != nil {
		panic(fmt.Sprintf("default catalog is invalid: %v", err))
	}
	return c
}

func defaultProfiles() []Profile {
	return []Profile{
		// Class 1 - Emergency & Important
		{Key: "ecg_monitor", Class: EmergencyImportant, Unit: "bpm", Min: 60, Max: 120, Interval: seconds(1.0)},
		{Key: "pulse_oximeter", Class: EmergencyImportant, Unit: "%", Min: 85, Max: 100, Interval: seconds(1.0)},
		{Key: "bp_sensor", Class: EmergencyImportant, Unit: "mmHg", Min: 90, Max: 180, Interval: seconds(1.5)},
		{Key: "fire_sensor", Class: EmergencyImportant, Values: []string{"OK", "SMOKE_DETECTED", "FIRE_ALERT"}, Interval: seconds(1.0)},

		// Class 2 - Emergency but Not Important
		{Key: "emg_sensor", Class: EmergencyNotImportant, Unit: "mV", Min: 0, Max: 10, Interval: seconds(1.5)},
		{Key: "airflow_sensor", Class: EmergencyNotImportant, Unit: "L/s", Min: 0, Max: 5, Interval: seconds(2.0)},
		{Key: "barometer", Class: EmergencyNotImportant, Unit: "hPa", Min: 990, Max: 1030, Interval: seconds(2.0)},
		{Key: "smoke_sensor", Class: EmergencyNotImportant, Values: []string{"CLEAR", "SMOKE_DETECTED"}, Interval: seconds(2.0)},

		// Class 3 - Not Emergency but Important
		{Key: "infusion_pump", Class: ImportantNotEmergency, Unit: "mL/hr", Min: 5, Max: 120, Interval: seconds(2.5)},
		{Key: "glucometer", Class: ImportantNotEmergency, Unit: "mg/dL", Min: 70, Max: 180, Interval: seconds(2.5)},
		{Key: "gsr_sensor", Class: ImportantNotEmergency, Unit: "µS", Min: 0.1, Max: 10, Interval: seconds(2.5)},

		// Class 4 - Not Emergency & Not Important
		{Key: "humidity_sensor", Class: Background, Unit: "%", Min: 20, Max: 80, Interval: seconds(3.0)},
		{Key: "temperature_sensor", Class: Background, Unit: "°C", Min: 20, Max: 35, Interval: seconds(3.0)},
		{Key: "co_sensor", Class: Background, Unit: "ppm", Min: 0, Max: 50, Interval: seconds(3.0)},
	}
}

func defaultAliases() map[string]string {
	return map[string]string{
		"ecg":      "ecg_monitor",
		"bp":       "bp_sensor",
		"oxygen":   "pulse_oximeter",
		"emg":      "emg_sensor",
		"airflow":  "airflow_sensor",
		"baro":     "barometer",
		"smoke":    "smoke_sensor",
		"infusion": "infusion_pump",
		"glucose":  "glucometer",
		"gsr":      "gsr_sensor",
		"humidity": "humidity_sensor",
		"temp":     "temperature_sensor",
		"co":       "co_sensor",
	}
}
