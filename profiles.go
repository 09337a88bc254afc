package modbus

import (
	"fmt"
	"sort"
)

func f64(v float64) *float64 { return &v }

// Built-in device profiles. Addresses are zero-based protocol addresses.
var profiles = map[string]RegisterMap{
	// Inverter exposing SunSpec-style float registers (model 113 layout).
	"sunspec-inverter": {
		Name: "sunspec-inverter",
		Registers: []RegisterDescriptor{
			{Name: "ac_current", Address: 40071, Type: RegisterHolding, DataType: TypeFloat32, Unit: "A"},
			{Name: "ac_voltage_an", Address: 40079, Type: RegisterHolding, DataType: TypeFloat32, Unit: "V"},
			{Name: "ac_power", Address: 40087, Type: RegisterHolding, DataType: TypeFloat32, Unit: "W"},
			{Name: "ac_frequency", Address: 40089, Type: RegisterHolding, DataType: TypeFloat32, Unit: "Hz"},
			{Name: "ac_energy", Address: 40095, Type: RegisterHolding, DataType: TypeFloat32, Scale: f64(0.001), Unit: "kWh"},
			{Name: "dc_power", Address: 40103, Type: RegisterHolding, DataType: TypeFloat32, Unit: "W"},
			{Name: "cabinet_temperature", Address: 40105, Type: RegisterHolding, DataType: TypeFloat32, Unit: "C"},
			{Name: "operating_state", Address: 40117, Type: RegisterHolding, DataType: TypeUint16},
		},
	},
	"three-phase-meter": {
		Name: "three-phase-meter",
		Registers: []RegisterDescriptor{
			{Name: "voltage_l1", Address: 0, Type: RegisterInput, DataType: TypeFloat32, Unit: "V"},
			{Name: "voltage_l2", Address: 2, Type: RegisterInput, DataType: TypeFloat32, Unit: "V"},
			{Name: "voltage_l3", Address: 4, Type: RegisterInput, DataType: TypeFloat32, Unit: "V"},
			{Name: "current_l1", Address: 6, Type: RegisterInput, DataType: TypeFloat32, Unit: "A"},
			{Name: "current_l2", Address: 8, Type: RegisterInput, DataType: TypeFloat32, Unit: "A"},
			{Name: "current_l3", Address: 10, Type: RegisterInput, DataType: TypeFloat32, Unit: "A"},
			{Name: "total_power", Address: 52, Type: RegisterInput, DataType: TypeFloat32, Unit: "W"},
			{Name: "frequency", Address: 70, Type: RegisterInput, DataType: TypeFloat32, Unit: "Hz"},
			{Name: "import_energy", Address: 72, Type: RegisterInput, DataType: TypeFloat32, Unit: "kWh"},
			{Name: "export_energy", Address: 74, Type: RegisterInput, DataType: TypeFloat32, Unit: "kWh"},
		},
	},
	"battery-inverter": {
		Name: "battery-inverter",
		Registers: []RegisterDescriptor{
			{Name: "pv_power", Address: 100, Type: RegisterInput, DataType: TypeUint32, Unit: "W"},
			{Name: "grid_power", Address: 102, Type: RegisterInput, DataType: TypeInt32, Unit: "W"},
			{Name: "battery_power", Address: 104, Type: RegisterInput, DataType: TypeInt32, Unit: "W"},
			{Name: "battery_soc", Address: 106, Type: RegisterInput, DataType: TypeUint16, Unit: "%"},
			{Name: "battery_voltage", Address: 107, Type: RegisterInput, DataType: TypeUint16, Scale: f64(0.1), Unit: "V"},
			{Name: "battery_temperature", Address: 108, Type: RegisterInput, DataType: TypeInt16, Scale: f64(0.1), Unit: "C"},
			{Name: "daily_yield", Address: 110, Type: RegisterInput, DataType: TypeUint32, Scale: f64(0.01), Unit: "kWh"},
			{Name: "serial_number", Address: 200, Length: 8, Type: RegisterHolding, DataType: TypeString},
			{Name: "grid_connected", Address: 0, Type: RegisterDiscrete, DataType: TypeBoolean},
			{Name: "fault_flags", Address: 16, Length: 8, Type: RegisterDiscrete, DataType: TypeBoolean},
			{Name: "remote_enable", Address: 0, Type: RegisterCoil, DataType: TypeBoolean},
		},
	},
}

// Profile returns a copy of a built-in register map.
func Profile(name string) (*RegisterMap, error) {
	p, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q (known: %v)", name, ProfileNames())
	}
	m := RegisterMap{Name: p.Name, Registers: append([]RegisterDescriptor(nil), p.Registers...)}
	return &m, nil
}

// ProfileNames lists the built-in profiles in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
