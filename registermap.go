package modbus

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// RegisterMap is a named list of descriptors for one kind of device.
type RegisterMap struct {
	Name      string               `yaml:"name" json:"name"`
	Registers []RegisterDescriptor `yaml:"registers" json:"registers"`
}

// LoadRegisterMap decodes a YAML register map and validates it. Unknown
// fields are rejected.
//
//	name: meter
//	registers:
//	  - name: voltage_l1
//	    address: 0
//	    type: input
//	    data_type: float32
//	    unit: V
func LoadRegisterMap(r io.Reader) (*RegisterMap, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var m RegisterMap
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode register map: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadRegisterMapFile reads a register map from path.
func LoadRegisterMapFile(path string) (*RegisterMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := LoadRegisterMap(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Validate reports every invalid or duplicate descriptor at once.
func (m *RegisterMap) Validate() error {
	var err error
	if len(m.Registers) == 0 {
		err = multierr.Append(err, fmt.Errorf("register map %q has no registers", m.Name))
	}
	seen := make(map[string]struct{}, len(m.Registers))
	for i, d := range m.Registers {
		if d.Name == "" {
			err = multierr.Append(err, fmt.Errorf("register #%d: name is required", i))
		} else if _, dup := seen[d.Name]; dup {
			err = multierr.Append(err, fmt.Errorf("register %q: duplicate name", d.Name))
		}
		seen[d.Name] = struct{}{}
		if verr := d.Validate(); verr != nil {
			err = multierr.Append(err, verr)
		}
		if !d.Type.IsBit() && d.DataType == "" {
			err = multierr.Append(err, fmt.Errorf("register %q: data_type is required", d.Name))
		}
	}
	return err
}

// Lookup returns the descriptor called name.
func (m *RegisterMap) Lookup(name string) (RegisterDescriptor, bool) {
	for _, d := range m.Registers {
		if d.Name == name {
			return d, true
		}
	}
	return RegisterDescriptor{}, false
}
