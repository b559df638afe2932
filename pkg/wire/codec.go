package wire

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec encodes frames. Name doubles as the websocket subprotocol.
type Codec interface {
	Name() string
	// Binary reports whether frames go out as binary websocket messages.
	Binary() bool
	Marshal(v any) ([]byte, error)
	// Encode writes v to w, letting the gateway reuse pooled buffers.
	Encode(w io.Writer, v any) error
	Unmarshal(data []byte, v any) error
}

const (
	JSONName = "chatsync.json"
	CBORName = "chatsync.cbor"
)

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return JSONName }
func (jsonCodec) Binary() bool                       { return false }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Encode(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func (cborCodec) Name() string                         { return CBORName }
func (cborCodec) Binary() bool                         { return true }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
func (c cborCodec) Encode(w io.Writer, v any) error    { return c.enc.NewEncoder(w).Encode(v) }

var (
	JSON Codec = jsonCodec{}
	CBOR Codec = newCBOR()
)

func newCBOR() Codec {
	enc, err := cbor.EncOptions{Sort: cbor.SortCoreDeterministic}.EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: enc, dec: dec}
}

// Codecs lists the codecs in server preference order.
var Codecs = []Codec{CBOR, JSON}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, bool) {
	for _, c := range Codecs {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Names returns the subprotocol names of the given codecs.
func Names(codecs []Codec) []string {
	out := make([]string, len(codecs))
	for i, c := range codecs {
		out[i] = c.Name()
	}
	return out
}

// DecodeHeader reads just the routing fields of a frame.
func DecodeHeader(c Codec, data []byte) (Header, error) {
	var h Header
	if err := c.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("decode frame header: %w", err)
	}
	if h.Type == "" {
		return h, fmt.Errorf("frame has no type")
	}
	return h, nil
}

// Decode reads a full frame with a typed payload.
func Decode[T any](c Codec, data []byte) (Frame[T], error) {
	var f Frame[T]
	if err := c.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode %T frame: %w", f.Data, err)
	}
	return f, nil
}

// Encode builds and marshals a frame.
func Encode(c Codec, typ, ref, room string, ts int64, data any) ([]byte, error) {
	return c.Marshal(Frame[any]{Type: typ, Ref: ref, Room: room, TS: ts, Data: data})
}
