package sensors

// Index is the position of a sensor in the shared memory segment. It is the
// only durable identity of a sensor; names exist for lookup convenience.
type Index uint

// Order is the binary layout shared by the writer and every reader. Changing
// it breaks all consumers.
const (
	SteeringWheel Index = iota
	IMUAccelX
	IMUAccelY
	IMUAccelZ
	IMUGyroX
	IMUGyroY
	IMUGyroZ
	IMUMagnetX
	IMUMagnetY
	IMUMagnetZ

	WSFrontLeft
	WSFrontRight
	WSBackLeft
	WSBackRight

	MotorPlaceholder
	MotorCBTemp
	MotorCoolantTemp
	MotorHeatsinkTemp
	MotorTemp
	Pedal1Position
	Pedal2Position
	MotorAngle
	MotorSpeed
	DCCurrent
	DCVoltage
	VSMState
	InverterState
	Direction
	Torque
	Timer

	BMSVolt1
	BMSVolt2
	BMSRes1
	BMSRes2
	BMSOV1
	BMSOV2
	BMSResAvg
	BMSOVAvg

	Count int = iota
)

const (
	MotorStart = MotorPlaceholder
	BMSStart   = BMSVolt1
)

// SlotSize is the width in bytes of one float32 slot.
const SlotSize = 4

type Sensor struct {
	Index Index
	Name  string
	Unit  string
}

var table = [Count]Sensor{
	{SteeringWheel, "SteeringWheel", "deg"},
	{IMUAccelX, "IMUAccelX", "m/s^2"},
	{IMUAccelY, "IMUAccelY", "m/s^2"},
	{IMUAccelZ, "IMUAccelZ", "m/s^2"},
	{IMUGyroX, "IMUGyroX", "deg/s"},
	{IMUGyroY, "IMUGyroY", "deg/s"},
	{IMUGyroZ, "IMUGyroZ", "deg/s"},
	{IMUMagnetX, "IMUMagnetX", "uT"},
	{IMUMagnetY, "IMUMagnetY", "uT"},
	{IMUMagnetZ, "IMUMagnetZ", "uT"},

	{WSFrontLeft, "WSFrontLeft", "rpm"},
	{WSFrontRight, "WSFrontRight", "rpm"},
	{WSBackLeft, "WSBackLeft", "rpm"},
	{WSBackRight, "WSBackRight", "rpm"},

	{MotorPlaceholder, "MotorPlaceholder", ""},
	{MotorCBTemp, "MotorCBTemp", "C"},
	{MotorCoolantTemp, "MotorCoolantTemp", "C"},
	{MotorHeatsinkTemp, "MotorHeatsinkTemp", "C"},
	{MotorTemp, "MotorTemp", "C"},
	{Pedal1Position, "Pedal1Position", ""},
	{Pedal2Position, "Pedal2Position", ""},
	{MotorAngle, "MotorAngle", "deg"},
	{MotorSpeed, "MotorSpeed", "rpm"},
	{DCCurrent, "DCCurrent", "A"},
	{DCVoltage, "DCVoltage", "V"},
	{VSMState, "VSMState", ""},
	{InverterState, "InverterState", ""},
	{Direction, "Direction", ""},
	{Torque, "Torque", "Nm"},
	{Timer, "Timer", ""},

	{BMSVolt1, "BMSVolt1", "mV"},
	{BMSVolt2, "BMSVolt2", "mV"},
	{BMSRes1, "BMSRes1", "mOhm"},
	{BMSRes2, "BMSRes2", "mOhm"},
	{BMSOV1, "BMSOV1", "mV"},
	{BMSOV2, "BMSOV2", "mV"},
	{BMSResAvg, "BMSResAvg", "mOhm"},
	{BMSOVAvg, "BMSOVAvg", "mV"},
}

var byName = func() map[string]Index {
	m := make(map[string]Index, Count)
	for _, s := range table {
		m[s.Name] = s.Index
	}
	return m
}()

// All returns a copy of the registry in slot order.
func All() []Sensor {
	out := make([]Sensor, Count)
	copy(out, table[:])
	return out
}

// Get returns the registry entry for i. ok is false if i is out of range.
func Get(i Index) (s Sensor, ok bool) {
	if int(i) >= Count {
		return Sensor{}, false
	}
	return table[i], true
}

// Lookup maps a sensor name to its slot index.
func Lookup(name string) (Index, bool) {
	i, ok := byName[name]
	return i, ok
}

func (i Index) String() string {
	if s, ok := Get(i); ok {
		return s.Name
	}
	return "Unknown"
}

// StoreSize is the byte length of a segment holding every registry slot.
func StoreSize() int {
	return SizeFor(Count)
}

func SizeFor(slots int) int {
	return slots * SlotSize
}
