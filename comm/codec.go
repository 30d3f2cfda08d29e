package comm

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Constants

// CodecName is the content-subtype envelopes travel
// under on the gRPC fabric.
const CodecName = "cbor"

// Variables

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

// Structs

// Codec marshals envelopes and payloads with CBOR. It
// fulfils gRPC's encoding.Codec interface.
type Codec struct{}

// Functions

func init() {

	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 27,
		MaxMapPairs:      1 << 27,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v deterministically.
func Marshal(v interface{}) ([]byte, error) {

	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %T", v)
	}

	return data, nil
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v interface{}) error {

	if err := decMode.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "failed to unmarshal into %T", v)
	}

	return nil
}

// Marshal fulfils the encoding.Codec interface.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	return Marshal(v)
}

// Unmarshal fulfils the encoding.Codec interface.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	return Unmarshal(data, v)
}

// Name fulfils the encoding.Codec interface.
func (Codec) Name() string {
	return CodecName
}
