package command

import (
	"testing"

	"github.com/lingrottin/go-pkcommand/internal/msgid"
	"github.com/stretchr/testify/assert"
)

func TestParseValidSimple(t *testing.T) {
	cmd, err := Parse([]byte("!!START"))
	assert.Nil(t, err)
	assert.EqualValues(t, 0, cmd.MsgId)
	assert.Equal(t, Start, cmd.Operation)
	assert.Empty(t, cmd.Object)
	assert.Nil(t, cmd.Data)
}

func TestParseValidWithObject(t *testing.T) {
	cmd, err := Parse([]byte(`!"SENDV VARIA`))
	assert.Nil(t, err)
	expectedId, _ := msgid.ToUint16([]byte(`!"`))
	assert.Equal(t, expectedId, cmd.MsgId)
	assert.Equal(t, SendVariable, cmd.Operation)
	assert.Equal(t, "VARIA", cmd.Object)
	assert.Nil(t, cmd.Data)
}

func TestParseValidWithObjectAndData(t *testing.T) {
	cmd, err := Parse([]byte("!#SENDV VARIA data_payload"))
	assert.Nil(t, err)
	assert.Equal(t, SendVariable, cmd.Operation)
	assert.Equal(t, "VARIA", cmd.Object)
	assert.Equal(t, []byte("data_payload"), cmd.Data)
}

func TestParseBinaryData(t *testing.T) {
	raw := append([]byte("!#SDATA REQUV "), 0x00, 0xFF, 0x80, ' ', 0x01)
	cmd, err := Parse(raw)
	assert.Nil(t, err)
	assert.Equal(t, Data, cmd.Operation)
	assert.Equal(t, []byte{0x00, 0xFF, 0x80, ' ', 0x01}, cmd.Data)
}

func TestParseErrorFrame(t *testing.T) {
	cmd, err := Parse([]byte("  ERROR ERROR Some error description"))
	assert.Nil(t, err)
	assert.EqualValues(t, 0, cmd.MsgId)
	assert.Equal(t, Error, cmd.Operation)
	assert.Equal(t, "ERROR", cmd.Object)
	assert.Equal(t, []byte("Some error description"), cmd.Data)
}

func TestParseAcknoErrorFrame(t *testing.T) {
	cmd, err := Parse([]byte("  ACKNO ERROR"))
	assert.Nil(t, err)
	assert.EqualValues(t, 0, cmd.MsgId)
	assert.Equal(t, Acknowledge, cmd.Operation)
	assert.Equal(t, "ERROR", cmd.Object)
	assert.Nil(t, cmd.Data)
}

func TestParseInvalid(t *testing.T) {
	// space ids are only allowed for ERROR and ACKNO ERROR frames
	_, err := Parse([]byte("  START"))
	assert.ErrorIs(t, err, ErrInvalidErrorFrame)

	_, err = Parse([]byte("!!STA"))
	assert.ErrorIs(t, err, ErrTooShort)

	// LF(0x0A) and CR(0x0D) are not in the charset
	_, err = Parse([]byte("\n\rSTART"))
	assert.ErrorIs(t, err, ErrInvalidMsgId)

	_, err = Parse([]byte("!!NOOPE"))
	assert.ErrorIs(t, err, ErrUnknownOperation)

	// length 8..12 and 14 are illegal
	_, err = Parse([]byte("!!START V"))
	assert.ErrorIs(t, err, ErrInvalidLength)
	_, err = Parse([]byte("!!SENDV VARIA "))
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = Parse([]byte("!!SENDV-VARIA"))
	assert.ErrorIs(t, err, ErrMalformedSeparator)
	_, err = Parse([]byte("!!SENDV VARIA-data"))
	assert.ErrorIs(t, err, ErrMalformedSeparator)

	// non-ASCII object bytes
	_, err = Parse([]byte("!!SENDV VAR\x00A"))
	assert.ErrorIs(t, err, ErrInvalidEncoding)

	// malformed ERROR family
	_, err = Parse([]byte("  ERROR ERROR "))
	assert.ErrorIs(t, err, ErrInvalidErrorFrame)
	_, err = Parse([]byte("  ERROR OTHER"))
	assert.ErrorIs(t, err, ErrInvalidErrorFrame)
}

func TestBytesSimple(t *testing.T) {
	cmd := Command{MsgId: 0, Operation: Start}
	assert.Equal(t, []byte("!!START"), cmd.Bytes())
}

func TestBytesWithObjectAndData(t *testing.T) {
	id, _ := msgid.ToUint16([]byte("!#"))
	cmd := Command{MsgId: id, Operation: SendVariable, Object: "VARIA", Data: []byte("payload")}
	assert.Equal(t, []byte("!#SENDV VARIA payload"), cmd.Bytes())
}

func TestBytesErrorFrame(t *testing.T) {
	// msg id is ignored for ERROR frames
	cmd := Command{MsgId: 42, Operation: Error, Object: "ERROR", Data: []byte("Test error")}
	assert.Equal(t, []byte("  ERROR ERROR Test error"), cmd.Bytes())

	ack := Command{MsgId: 42, Operation: Acknowledge, Object: "ERROR"}
	assert.Equal(t, []byte("  ACKNO ERROR"), ack.Bytes())
}

func TestBytesPanicsOnProgrammerError(t *testing.T) {
	assert.Panics(t, func() {
		cmd := Command{MsgId: msgid.MaxId + 1, Operation: Start}
		cmd.Bytes()
	})
	assert.Panics(t, func() {
		cmd := Command{MsgId: 0, Operation: Data, Data: []byte("x")}
		cmd.Bytes()
	})
}

func TestRoundTrip(t *testing.T) {
	commands := []Command{
		{MsgId: 0, Operation: Start},
		{MsgId: 8835, Operation: Query},
		{MsgId: 17, Operation: Acknowledge, Object: "START"},
		{MsgId: 120, Operation: RequireVariable, Object: "VARIA"},
		{MsgId: 3000, Operation: Data, Object: "REQUV", Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		{MsgId: 0, Operation: Error, Object: "ERROR", Data: []byte("boom")},
		{MsgId: 0, Operation: Acknowledge, Object: "ERROR"},
	}
	for _, cmd := range commands {
		parsed, err := Parse(cmd.Bytes())
		assert.Nil(t, err)
		assert.True(t, parsed.Equal(&cmd), "round trip mismatch for %v", cmd)
	}
}
