// Package device implements the state synchronization core for a
// property-based air purifier: the declared property set, snapshot store and
// diffing, chunked property fetching, the key-to-action dispatch table, and
// the timer-driven poll loop.
package device

// PropKey identifies one device-exposed property. The set of keys is fixed;
// declaration order in AllProps is the protocol read order and the dispatch
// order for changed keys.
type PropKey string

// All device properties for the reference purifier model.
const (
	PropPower         PropKey = "power"
	PropMode          PropKey = "mode"
	PropTempDec       PropKey = "temp_dec"
	PropHumidity      PropKey = "humidity"
	PropAQI           PropKey = "aqi"
	PropAverageAQI    PropKey = "average_aqi"
	PropBright        PropKey = "bright"
	PropLED           PropKey = "led"
	PropLEDBrightness PropKey = "led_b"
	PropBuzzer        PropKey = "buzzer"
	PropChildLock     PropKey = "child_lock"
	PropVolume        PropKey = "volume"
	PropFavoriteLevel PropKey = "favorite_level"
	PropMotor1Speed   PropKey = "motor1_speed"
	PropMotor2Speed   PropKey = "motor2_speed"
	PropFilterLife    PropKey = "filter1_life"
	PropFilterHours   PropKey = "f1_hour_used"
	PropFilterMaxHour PropKey = "f1_hour"
	PropUseTime       PropKey = "use_time"
	PropPurifyVolume  PropKey = "purify_volume"
	PropSleepMode     PropKey = "sleep_mode"
	PropSleepTime     PropKey = "sleep_time"
	PropSleepDataNum  PropKey = "sleep_data_num"
	PropAppExtra      PropKey = "app_extra"
	PropActDet        PropKey = "act_det"
	PropButtonPressed PropKey = "button_pressed"
	PropRPM           PropKey = "rpm"
)

// Mode values for the mode property.
const (
	ModeAuto     = "auto"
	ModeSilent   = "silent"
	ModeFavorite = "favorite"
	ModeIdle     = "idle"
)

// PropKind is the declared value domain of a property.
type PropKind string

const (
	KindString       PropKind = "string"
	KindInt          PropKind = "int"
	KindNullableInt  PropKind = "nullable_int"
	KindNullableStr  PropKind = "nullable_string"
	KindNullableBool PropKind = "nullable_bool"
)

// Prop declares one property: its key, value domain, and the default used
// until the first successful poll.
type Prop struct {
	Key     PropKey
	Kind    PropKind
	Default any
}

// AllProps is the full ordered property list. The fetcher reads properties in
// this order and the poll loop dispatches changed keys in this order.
// Defaults model an idle powered-off device; nullable telemetry starts nil
// until the device reports it.
var AllProps = []Prop{
	{Key: PropPower, Kind: KindString, Default: "off"},
	{Key: PropMode, Kind: KindString, Default: ModeIdle},
	{Key: PropTempDec, Kind: KindNullableInt, Default: nil},
	{Key: PropHumidity, Kind: KindNullableInt, Default: nil},
	{Key: PropAQI, Kind: KindNullableInt, Default: nil},
	{Key: PropAverageAQI, Kind: KindNullableInt, Default: nil},
	{Key: PropBright, Kind: KindNullableInt, Default: nil},
	{Key: PropLED, Kind: KindString, Default: "off"},
	{Key: PropLEDBrightness, Kind: KindNullableInt, Default: nil},
	{Key: PropBuzzer, Kind: KindNullableStr, Default: nil},
	{Key: PropChildLock, Kind: KindString, Default: "off"},
	{Key: PropVolume, Kind: KindNullableInt, Default: nil},
	{Key: PropFavoriteLevel, Kind: KindInt, Default: int64(0)},
	{Key: PropMotor1Speed, Kind: KindNullableInt, Default: nil},
	{Key: PropMotor2Speed, Kind: KindNullableInt, Default: nil},
	{Key: PropFilterLife, Kind: KindInt, Default: int64(100)},
	{Key: PropFilterHours, Kind: KindInt, Default: int64(0)},
	{Key: PropFilterMaxHour, Kind: KindInt, Default: int64(0)},
	{Key: PropUseTime, Kind: KindInt, Default: int64(0)},
	{Key: PropPurifyVolume, Kind: KindInt, Default: int64(0)},
	{Key: PropSleepMode, Kind: KindNullableStr, Default: nil},
	{Key: PropSleepTime, Kind: KindNullableInt, Default: nil},
	{Key: PropSleepDataNum, Kind: KindNullableInt, Default: nil},
	{Key: PropAppExtra, Kind: KindNullableInt, Default: nil},
	{Key: PropActDet, Kind: KindNullableBool, Default: nil},
	{Key: PropButtonPressed, Kind: KindNullableStr, Default: nil},
	{Key: PropRPM, Kind: KindNullableInt, Default: nil},
}

// PropKeys returns the declared keys in order.
func PropKeys() []PropKey {
	keys := make([]PropKey, len(AllProps))
	for i, p := range AllProps {
		keys[i] = p.Key
	}
	return keys
}

// PropsByKey indexes the declarations by key.
func PropsByKey() map[PropKey]Prop {
	props := make(map[PropKey]Prop, len(AllProps))
	for _, p := range AllProps {
		props[p.Key] = p
	}
	return props
}
