package device

import (
	"airbridge/pkg/sink"
)

// Facet identifiers pushed to the update sink. Each facet is one externally
// observable characteristic derived from current snapshot state.
const (
	FacetActive       = "active"
	FacetState        = "state"
	FacetTargetMode   = "target_mode"
	FacetSpeed        = "speed"
	FacetFilterLife   = "filter_life"
	FacetFilterChange = "filter_change"
	FacetTemperature  = "temperature"
	FacetHumidity     = "humidity"
	FacetAirQuality   = "air_quality"
	FacetPM25         = "pm25"
	FacetLock         = "lock"
	FacetLED          = "led"
	FacetBuzzer       = "buzzer"
)

// Update action identifiers. One action derives and pushes one facet.
const (
	ActionActive       ActionID = FacetActive
	ActionState        ActionID = FacetState
	ActionTargetMode   ActionID = FacetTargetMode
	ActionSpeed        ActionID = FacetSpeed
	ActionFilterLife   ActionID = FacetFilterLife
	ActionFilterChange ActionID = FacetFilterChange
	ActionTemperature  ActionID = FacetTemperature
	ActionHumidity     ActionID = FacetHumidity
	ActionAirQuality   ActionID = FacetAirQuality
	ActionPM25         ActionID = FacetPM25
	ActionLock         ActionID = FacetLock
	ActionLED          ActionID = FacetLED
	ActionBuzzer       ActionID = FacetBuzzer
)

// FavoriteLevelMax is the device's top favorite-mode fan level; speed
// percentages scale against it.
const FavoriteLevelMax = 16

// filterChangeThreshold is the remaining-life percentage below which the
// filter-change facet reports true.
const filterChangeThreshold = 5

// Action reads current snapshot state and pushes one derived facet value.
// Actions are idempotent: pushing an unchanged value is harmless.
type Action func(snap Snapshot, out sink.Sink)

// actionFuncs holds the implementation of every declared action.
var actionFuncs = map[ActionID]Action{
	ActionActive: func(snap Snapshot, out sink.Sink) {
		out.Push(FacetActive, snap.Str(PropPower) == "on")
	},
	ActionState: func(snap Snapshot, out sink.Sink) {
		out.Push(FacetState, deriveState(snap))
	},
	ActionTargetMode: func(snap Snapshot, out sink.Sink) {
		out.Push(FacetTargetMode, deriveTargetMode(snap))
	},
	ActionSpeed: func(snap Snapshot, out sink.Sink) {
		level, _ := snap.Int(PropFavoriteLevel)
		out.Push(FacetSpeed, LevelToPercent(level))
	},
	ActionFilterLife: func(snap Snapshot, out sink.Sink) {
		life, _ := snap.Int(PropFilterLife)
		out.Push(FacetFilterLife, life)
	},
	ActionFilterChange: func(snap Snapshot, out sink.Sink) {
		life, _ := snap.Int(PropFilterLife)
		out.Push(FacetFilterChange, life < filterChangeThreshold)
	},
	ActionTemperature: func(snap Snapshot, out sink.Sink) {
		if dec, ok := snap.Int(PropTempDec); ok {
			out.Push(FacetTemperature, float64(dec)/10)
		}
	},
	ActionHumidity: func(snap Snapshot, out sink.Sink) {
		if hum, ok := snap.Int(PropHumidity); ok {
			out.Push(FacetHumidity, hum)
		}
	},
	ActionAirQuality: func(snap Snapshot, out sink.Sink) {
		if aqi, ok := snap.Int(PropAQI); ok {
			out.Push(FacetAirQuality, aqiBand(aqi))
		}
	},
	ActionPM25: func(snap Snapshot, out sink.Sink) {
		if aqi, ok := snap.Int(PropAQI); ok {
			out.Push(FacetPM25, clampInt(aqi, 0, 1000))
		}
	},
	ActionLock: func(snap Snapshot, out sink.Sink) {
		out.Push(FacetLock, snap.Str(PropChildLock) == "on")
	},
	ActionLED: func(snap Snapshot, out sink.Sink) {
		out.Push(FacetLED, snap.Str(PropLED) == "on")
	},
	ActionBuzzer: func(snap Snapshot, out sink.Sink) {
		out.Push(FacetBuzzer, snap.Str(PropBuzzer) == "on")
	},
}

// ActionFunc returns the implementation for id, or nil if unknown.
func ActionFunc(id ActionID) Action {
	return actionFuncs[id]
}

// DefaultTable builds the standard dispatch table for the reference device.
// Keys with no presentation-facing effect carry no entry.
func DefaultTable() *Table {
	t := NewTable()
	t.Set(PropPower, ActionActive, ActionState)
	t.Set(PropMode, ActionTargetMode, ActionState)
	t.Set(PropFavoriteLevel, ActionSpeed)
	t.Set(PropFilterLife, ActionFilterLife, ActionFilterChange)
	t.Set(PropTempDec, ActionTemperature)
	t.Set(PropHumidity, ActionHumidity)
	t.Set(PropAQI, ActionAirQuality, ActionPM25)
	t.Set(PropChildLock, ActionLock)
	t.Set(PropLED, ActionLED)
	t.Set(PropBuzzer, ActionBuzzer)
	return t
}

// deriveState maps power and mode onto a coarse running state.
func deriveState(snap Snapshot) string {
	if snap.Str(PropPower) != "on" {
		return "off"
	}
	if snap.Str(PropMode) == ModeIdle {
		return "idle"
	}
	return "purifying"
}

// deriveTargetMode folds the four device modes into the two the presentation
// layer distinguishes.
func deriveTargetMode(snap Snapshot) string {
	switch snap.Str(PropMode) {
	case ModeAuto, ModeSilent:
		return "auto"
	default:
		return "manual"
	}
}

// LevelToPercent scales a favorite-mode fan level onto 0-100.
func LevelToPercent(level int64) int64 {
	return clampInt(level*100/FavoriteLevelMax, 0, 100)
}

// PercentToLevel scales a 0-100 percentage onto the device's fan levels,
// rounding to the nearest level.
func PercentToLevel(percent float64) int64 {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return int64(percent*FavoriteLevelMax/100 + 0.5)
}

// aqiBand maps a raw PM2.5 reading onto the five-band quality scale.
func aqiBand(aqi int64) int64 {
	switch {
	case aqi <= 50:
		return 1
	case aqi <= 100:
		return 2
	case aqi <= 150:
		return 3
	case aqi <= 200:
		return 4
	default:
		return 5
	}
}

func clampInt(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
