// Package profile loads device profiles : ini files declaring the
// variables a device exposes over PK Command, together with some
// identity information.
//
//	[Device]
//	Name=sensor-board
//	ProtocolVersion=1.0
//
//	[Variable.VARIA]
//	Value=variable value
//
//	[Variable.SERNO]
//	Value=hex:0011223344
//	ReadOnly=true
package profile

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/lingrottin/go-pkcommand/pkg/command"
	"github.com/lingrottin/go-pkcommand/pkg/store"
	"gopkg.in/ini.v1"
)

const (
	deviceSection  = "Device"
	variablePrefix = "Variable."
	hexValuePrefix = "hex:"
	defaultVersion = "1.0"
)

var ErrBadVariableName = errors.New("profile: variable names must be exactly 5 ASCII characters")

// Info is the identity block of a profile.
type Info struct {
	Name            string
	ProtocolVersion string
}

// Load reads a profile, from disk or from memory.
// file can be either a path, an *os.File or a []byte.
func Load(file any) (*store.MapVariables, Info, error) {
	cfg, err := ini.Load(file)
	if err != nil {
		return nil, Info{}, fmt.Errorf("profile: load failed: %w", err)
	}
	return fromIni(cfg)
}

func fromIni(cfg *ini.File) (*store.MapVariables, Info, error) {
	info := Info{ProtocolVersion: defaultVersion}
	if section, err := cfg.GetSection(deviceSection); err == nil {
		info.Name = section.Key("Name").String()
		if version := section.Key("ProtocolVersion").String(); version != "" {
			info.ProtocolVersion = version
		}
	}

	vars := store.NewMapVariables()
	for _, section := range cfg.Sections() {
		if !strings.HasPrefix(section.Name(), variablePrefix) {
			continue
		}
		name := strings.TrimPrefix(section.Name(), variablePrefix)
		if len(name) != command.ObjectLength {
			return nil, Info{}, fmt.Errorf("%w: %q", ErrBadVariableName, name)
		}
		value, err := decodeValue(section.Key("Value").String())
		if err != nil {
			return nil, Info{}, fmt.Errorf("profile: variable %s: %w", name, err)
		}
		if section.Key("ReadOnly").MustBool(false) {
			vars.AddReadOnly(name, value)
		} else {
			vars.Add(name, value)
		}
	}
	return vars, info, nil
}

// decodeValue interprets a profile value : either a literal string or
// hex encoded bytes with a "hex:" prefix.
func decodeValue(raw string) ([]byte, error) {
	if strings.HasPrefix(raw, hexValuePrefix) {
		decoded, err := hex.DecodeString(strings.TrimPrefix(raw, hexValuePrefix))
		if err != nil {
			return nil, fmt.Errorf("invalid hex value: %w", err)
		}
		return decoded, nil
	}
	return []byte(raw), nil
}
