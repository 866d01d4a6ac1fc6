package engine

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	tcerrors "github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// JSONCodec is the default wire codec for typed values
type JSONCodec struct{}

// Encode marshals v to JSON
func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, tcerrors.WrapError(tcerrors.ErrCodeSerialization, "failed to encode value", err)
	}
	return data, nil
}

// Decode unmarshals JSON data into v
func (JSONCodec) Decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return tcerrors.WrapError(tcerrors.ErrCodeSerialization, "failed to decode value", err)
	}
	return nil
}

// ReadObject reads the key and decodes the payload into v. A malformed
// stored payload is treated as a miss and logged, never surfaced.
func (e *Engine) ReadObject(ctx context.Context, key string, v interface{}, opts ReadOptions) (types.ReadResult, error) {
	result, err := e.Read(ctx, key, opts)
	if err != nil || !result.Success {
		return result, err
	}

	if err := e.codec.Decode(result.Data, v); err != nil {
		e.logger.Error("malformed stored payload",
			zap.String("key", key),
			zap.String("source", string(result.Source)),
			zap.Error(err))
		return types.ReadResult{Success: false, Source: result.Source}, nil
	}
	return result, nil
}

// WriteObject encodes v and writes it under the key. An encoding failure is
// a caller error and is surfaced.
func (e *Engine) WriteObject(ctx context.Context, key string, v interface{}, opts WriteOptions) (bool, error) {
	data, err := e.codec.Encode(v)
	if err != nil {
		return false, err
	}
	return e.Write(ctx, key, data, opts)
}
