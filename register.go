package modbus

import (
	"fmt"
	"time"
)

// RegisterType selects the Modbus address space a descriptor reads from.
type RegisterType string

const (
	RegisterHolding  RegisterType = "holding"
	RegisterInput    RegisterType = "input"
	RegisterCoil     RegisterType = "coil"
	RegisterDiscrete RegisterType = "discrete"
)

// IsBit reports whether the register type is a single-bit space.
func (t RegisterType) IsBit() bool {
	return t == RegisterCoil || t == RegisterDiscrete
}

// DataType is how raw register words are interpreted.
type DataType string

const (
	TypeInt16   DataType = "int16"
	TypeUint16  DataType = "uint16"
	TypeInt32   DataType = "int32"
	TypeUint32  DataType = "uint32"
	TypeFloat32 DataType = "float32"
	TypeFloat64 DataType = "float64"
	TypeString  DataType = "string"
	TypeBoolean DataType = "boolean"
)

// Words returns the number of registers the data type occupies.
// Strings have no fixed width and report 1.
func (d DataType) Words() int {
	switch d {
	case TypeInt32, TypeUint32, TypeFloat32:
		return 2
	case TypeFloat64:
		return 4
	default:
		return 1
	}
}

// IsNumeric reports whether scale and offset apply to the data type.
func (d DataType) IsNumeric() bool {
	switch d {
	case TypeString, TypeBoolean:
		return false
	}
	return true
}

// RegisterDescriptor describes one value on a device.
type RegisterDescriptor struct {
	Name     string       `yaml:"name" json:"name"`
	Address  uint16       `yaml:"address" json:"address"`
	Length   uint16       `yaml:"length,omitempty" json:"length,omitempty"`
	Type     RegisterType `yaml:"type" json:"type"`
	DataType DataType     `yaml:"data_type" json:"data_type"`
	Scale    *float64     `yaml:"scale,omitempty" json:"scale,omitempty"`
	Offset   *float64     `yaml:"offset,omitempty" json:"offset,omitempty"`
	Unit     string       `yaml:"unit,omitempty" json:"unit,omitempty"`
}

// Count returns the number of registers or bits to request. A zero Length
// falls back to the width of the data type.
func (d RegisterDescriptor) Count() uint16 {
	if d.Length > 0 {
		return d.Length
	}
	if d.Type.IsBit() {
		return 1
	}
	return uint16(d.DataType.Words())
}

// Validate checks that the descriptor can be read.
func (d RegisterDescriptor) Validate() error {
	switch d.Type {
	case RegisterHolding, RegisterInput:
		if int(d.Count()) > MaxReadRegisters {
			return &QuantityError{Quantity: int(d.Count()), Min: 1, Max: MaxReadRegisters}
		}
	case RegisterCoil, RegisterDiscrete:
		if int(d.Count()) > MaxReadBits {
			return &QuantityError{Quantity: int(d.Count()), Min: 1, Max: MaxReadBits}
		}
	default:
		return fmt.Errorf("register %q: unknown register type %q", d.Name, d.Type)
	}
	if int(d.Address)+int(d.Count()) > 0x10000 {
		return fmt.Errorf("register %q: address range %d+%d exceeds 65535", d.Name, d.Address, d.Count())
	}
	return nil
}

// ReadResult is the outcome of reading one descriptor.
type ReadResult struct {
	Descriptor RegisterDescriptor
	// Raw holds the words as received. Bit reads store 0 or 1 per bit.
	Raw []uint16
	// Bits holds the per-bit values of coil and discrete reads.
	Bits      []bool
	Value     any
	Timestamp time.Time
}

// Float64 returns the value as a float64 when it is numeric or boolean.
func (r ReadResult) Float64() (float64, bool) {
	switch v := r.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int16:
		return float64(v), true
	case uint16:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint32:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
