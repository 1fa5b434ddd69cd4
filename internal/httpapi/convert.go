package httpapi

import (
	"bytes"
	"encoding/json"

	"google.golang.org/protobuf/types/known/structpb"
)

// Protobuf clients exchange google.protobuf.Struct messages whose fields
// mirror the JSON bodies one to one, so both encodings go through the same
// DTOs.

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(st *structpb.Struct, v any) error {
	raw, err := json.Marshal(st.AsMap())
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
