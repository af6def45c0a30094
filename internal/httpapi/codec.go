package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxRequestBody caps the request body for every encoding. A heartbeat
// from a fully populated room is well under 2 KiB in JSON.
const maxRequestBody = 64 << 10

var errBodyTooLarge = errors.New("request body too large")

// codec is the wire encoding of a request; the response uses the same one.
type codec int

const (
	codecJSON codec = iota
	codecCBOR
	codecProto
)

func (c codec) contentType() string {
	switch c {
	case codecCBOR:
		return "application/cbor"
	case codecProto:
		return "application/x-protobuf"
	default:
		return "application/json"
	}
}

// negotiate picks the codec from the request's Content-Type. Controllers
// that send protobuf use "application/x-protobuf"; anything unrecognised is
// treated as JSON.
func negotiate(r *http.Request) codec {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return codecJSON
	}
	switch mt {
	case "application/cbor":
		return codecCBOR
	case "application/x-protobuf", "application/protobuf", "application/octet-stream":
		return codecProto
	default:
		return codecJSON
	}
}

// CBOR maps decode with string keys so they can be re-encoded as JSON.
var cborDec = func() cbor.DecMode {
	dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// decodeBody reads the request body and decodes it into v. CBOR and
// protobuf (a google.protobuf.Struct) bodies carry the same shape as the
// JSON form and are normalised to JSON before decoding.
func decodeBody(r *http.Request, c codec, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return err
	}
	if len(body) > maxRequestBody {
		return errBodyTooLarge
	}

	switch c {
	case codecCBOR:
		var generic any
		if err := cborDec.Unmarshal(body, &generic); err != nil {
			return fmt.Errorf("cbor: %w", err)
		}
		if body, err = json.Marshal(generic); err != nil {
			return fmt.Errorf("cbor: %w", err)
		}
	case codecProto:
		var st structpb.Struct
		if err := proto.Unmarshal(body, &st); err != nil {
			return fmt.Errorf("protobuf: %w", err)
		}
		if body, err = protojson.Marshal(&st); err != nil {
			return fmt.Errorf("protobuf: %w", err)
		}
	}
	return json.Unmarshal(body, v)
}

// encode marshals v in the codec's wire form.
func encode(c codec, v any) ([]byte, error) {
	switch c {
	case codecCBOR:
		return cbor.Marshal(v)
	case codecProto:
		js, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		st := &structpb.Struct{}
		if err := protojson.Unmarshal(js, st); err != nil {
			return nil, err
		}
		return proto.Marshal(st)
	default:
		return json.Marshal(v)
	}
}

// writeBody marshals v and writes it with the given HTTP status.
func writeBody(w http.ResponseWriter, c codec, status int, v any) {
	data, err := encode(c, v)
	if err != nil {
		// Fall back to a plain-text error if marshalling fails.
		http.Error(w, "response encoding error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", c.contentType())
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
