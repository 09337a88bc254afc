package modbus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

const meterYAML = `
name: meter
registers:
  - name: voltage_l1
    address: 0
    type: input
    data_type: float32
    unit: V
  - name: energy
    address: 10
    type: holding
    data_type: uint32
    scale: 0.01
    unit: kWh
  - name: alarm
    address: 3
    type: discrete
`

func TestLoadRegisterMap(t *testing.T) {
	m, err := LoadRegisterMap(strings.NewReader(meterYAML))
	require.NoError(t, err)

	assert.Equal(t, "meter", m.Name)
	require.Len(t, m.Registers, 3)

	energy, ok := m.Lookup("energy")
	require.True(t, ok)
	assert.Equal(t, uint16(2), energy.Count())
	require.NotNil(t, energy.Scale)
	assert.Equal(t, 0.01, *energy.Scale)

	alarm, ok := m.Lookup("alarm")
	require.True(t, ok)
	assert.Equal(t, uint16(1), alarm.Count())

	_, ok = m.Lookup("nope")
	assert.False(t, ok)
}

func TestLoadRegisterMapRejectsUnknownFields(t *testing.T) {
	_, err := LoadRegisterMap(strings.NewReader("name: x\nregisters:\n  - name: a\n    adress: 1\n"))
	assert.Error(t, err)
}

func TestRegisterMapValidateAggregates(t *testing.T) {
	m := RegisterMap{Name: "broken", Registers: []RegisterDescriptor{
		{Name: "a", Address: 0, Type: RegisterHolding, DataType: TypeUint16},
		{Name: "a", Address: 1, Type: RegisterHolding, DataType: TypeUint16},
		{Name: "", Address: 2, Type: RegisterInput, DataType: TypeInt16},
		{Name: "wide", Address: 0, Length: 200, Type: RegisterInput, DataType: TypeString},
		{Name: "untyped", Address: 5, Type: RegisterHolding},
		{Name: "bad_space", Address: 5, Type: "eeprom", DataType: TypeInt16},
	}}

	err := m.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 5)
	assert.ErrorContains(t, err, `"a": duplicate name`)
	assert.ErrorContains(t, err, "name is required")
	assert.ErrorContains(t, err, "data_type is required")
}

func TestRegisterMapValidateEmpty(t *testing.T) {
	assert.Error(t, (&RegisterMap{Name: "empty"}).Validate())
}

func TestLoadRegisterMapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(meterYAML), 0o600))

	m, err := LoadRegisterMapFile(path)
	require.NoError(t, err)
	assert.Len(t, m.Registers, 3)

	_, err = LoadRegisterMapFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestProfilesAreValid(t *testing.T) {
	names := ProfileNames()
	assert.Equal(t, []string{"battery-inverter", "sunspec-inverter", "three-phase-meter"}, names)
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			m, err := Profile(name)
			require.NoError(t, err)
			assert.NoError(t, m.Validate())
		})
	}
}

func TestProfileReturnsCopy(t *testing.T) {
	a, err := Profile("three-phase-meter")
	require.NoError(t, err)
	a.Registers[0].Name = "mutated"

	b, err := Profile("three-phase-meter")
	require.NoError(t, err)
	assert.Equal(t, "voltage_l1", b.Registers[0].Name)

	_, err = Profile("toaster")
	assert.ErrorContains(t, err, "unknown profile")
}

func TestReadBatteryProfile(t *testing.T) {
	sim := newSimulator(t)
	sim.setRegister(RegisterInput, 100, 0)
	sim.setRegister(RegisterInput, 101, 4200)
	sim.setRegister(RegisterInput, 102, 0xFFFF)
	sim.setRegister(RegisterInput, 103, 0xFC18) // -1000
	sim.setRegister(RegisterInput, 106, 87)
	sim.setRegister(RegisterInput, 108, 0xFF9C) // -100
	sim.setRegister(RegisterHolding, 200, 0x534E)
	sim.setRegister(RegisterHolding, 201, 0x3132)
	sim.setBit(RegisterDiscrete, 0, true)
	sim.setBit(RegisterDiscrete, 21, true)

	c, err := NewClient(sim.endpoint(1))
	require.NoError(t, err)
	defer c.Close()

	m, err := Profile("battery-inverter")
	require.NoError(t, err)
	results := c.ReadMultipleRegisters(context.Background(), m.Registers)
	require.Len(t, results, len(m.Registers))

	values := make(map[string]any, len(results))
	for _, r := range results {
		values[r.Descriptor.Name] = r.Value
	}
	assert.Equal(t, uint32(4200), values["pv_power"])
	assert.Equal(t, int32(-1000), values["grid_power"])
	assert.Equal(t, uint16(87), values["battery_soc"])
	assert.InDelta(t, -10.0, values["battery_temperature"], 1e-9)
	assert.Equal(t, "SN12", values["serial_number"])
	assert.Equal(t, true, values["grid_connected"])
	assert.Equal(t, true, values["fault_flags"])
	assert.Equal(t, false, values["remote_enable"])
}
