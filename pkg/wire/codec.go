package wire

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for ITP messages.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for ITP messages.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnixMicro,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient decoding for forward compatibility.
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

// NewEncoder creates a new CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a new CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// EncodePublishRequest encodes a publish request to CBOR bytes.
func EncodePublishRequest(req *PublishRequest) ([]byte, error) {
	return Marshal(req)
}

// DecodePublishRequest decodes CBOR bytes into a publish request.
func DecodePublishRequest(data []byte) (*PublishRequest, error) {
	var req PublishRequest
	if err := Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode publish request: %w", err)
	}
	return &req, nil
}

// EncodePublishResponse encodes a publish response to CBOR bytes.
func EncodePublishResponse(resp *PublishResponse) ([]byte, error) {
	return Marshal(resp)
}

// DecodePublishResponse decodes CBOR bytes into a publish response.
func DecodePublishResponse(data []byte) (*PublishResponse, error) {
	var resp PublishResponse
	if err := Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode publish response: %w", err)
	}
	return &resp, nil
}

// EncodeNotificationMessage encodes a notification message to CBOR bytes.
func EncodeNotificationMessage(msg *NotificationMessage) ([]byte, error) {
	return Marshal(msg)
}

// DecodeNotificationMessage decodes CBOR bytes into a notification message.
func DecodeNotificationMessage(data []byte) (*NotificationMessage, error) {
	var msg NotificationMessage
	if err := Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode notification message: %w", err)
	}
	return &msg, nil
}
