package profile

import (
	"testing"

	"github.com/lingrottin/go-pkcommand/pkg/store"
	"github.com/stretchr/testify/assert"
)

const testProfile = `
[Device]
Name=test-device
ProtocolVersion=2.1

[Variable.VARIA]
Value=variable value

[Variable.SERNO]
Value=hex:0011223344
ReadOnly=true
`

func TestLoadProfile(t *testing.T) {
	vars, info, err := Load([]byte(testProfile))
	assert.Nil(t, err)
	assert.Equal(t, "test-device", info.Name)
	assert.Equal(t, "2.1", info.ProtocolVersion)

	value, ok := vars.Get("VARIA")
	assert.True(t, ok)
	assert.Equal(t, []byte("variable value"), value)

	serial, ok := vars.Get("SERNO")
	assert.True(t, ok)
	assert.Equal(t, []byte{0x00, 0x11, 0x22, 0x33, 0x44}, serial)
	assert.Equal(t, store.ErrReadOnly, vars.Set("SERNO", []byte("x")))
}

func TestLoadProfileDefaults(t *testing.T) {
	_, info, err := Load([]byte("[Variable.VARIA]\nValue=x\n"))
	assert.Nil(t, err)
	assert.Equal(t, "1.0", info.ProtocolVersion)
	assert.Empty(t, info.Name)
}

func TestLoadProfileBadVariableName(t *testing.T) {
	_, _, err := Load([]byte("[Variable.TOOLONG]\nValue=x\n"))
	assert.ErrorIs(t, err, ErrBadVariableName)
}

func TestLoadProfileBadHex(t *testing.T) {
	_, _, err := Load([]byte("[Variable.VARIA]\nValue=hex:zz\n"))
	assert.NotNil(t, err)
}
