package control

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for control-channel messages.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for control-channel messages.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder creates a CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// EncodeCombinatorMessage encodes an inbound control message (SpoolTask or
// PauseTask) to CBOR bytes.
func EncodeCombinatorMessage(msg *CombinatorMessage) ([]byte, error) {
	return Marshal(msg)
}

// DecodeCombinatorMessage decodes CBOR bytes into a CombinatorMessage.
func DecodeCombinatorMessage(data []byte) (*CombinatorMessage, error) {
	var msg CombinatorMessage
	if err := Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("control: decode combinator message: %w", err)
	}
	if msg.SpoolTask == nil && msg.PauseTask == nil {
		return nil, fmt.Errorf("control: combinator message has no payload")
	}
	return &msg, nil
}

// EncodeMachineMessage encodes an outbound Feedback snapshot to CBOR bytes.
func EncodeMachineMessage(msg *MachineMessage) ([]byte, error) {
	return Marshal(msg)
}

// DecodeMachineMessage decodes CBOR bytes into a MachineMessage.
func DecodeMachineMessage(data []byte) (*MachineMessage, error) {
	var msg MachineMessage
	if err := Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("control: decode machine message: %w", err)
	}
	return &msg, nil
}
