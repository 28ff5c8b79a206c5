package utils

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
)

type JSONBufferPool struct {
	pool sync.Pool
}

func (p *JSONBufferPool) Get() *bytes.Buffer {
	if buf := p.pool.Get(); buf != nil {
		return buf.(*bytes.Buffer)
	}
	return bytes.NewBuffer(make([]byte, 0, 1024))
}

func (p *JSONBufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	if buf.Cap() < 16*1024 {
		p.pool.Put(buf)
	}
}

var jsonPool = &JSONBufferPool{}

func MarshalToBuffer(data interface{}, buf *bytes.Buffer) error {
	buf.Reset()
	encoder := sonic.ConfigDefault.NewEncoder(buf)
	return encoder.Encode(data)
}

func Marshal(data interface{}) ([]byte, error) {
	buf := jsonPool.Get()
	defer jsonPool.Put(buf)

	if err := MarshalToBuffer(data, buf); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}

	configBytes, err := sonic.ConfigDefault.Marshal(config)
	if err != nil {
		return err
	}

	return sonic.ConfigDefault.Unmarshal(configBytes, target)
}

// MarshalCanonical encodes data as JSON with object keys sorted at every
// level, so equal values always produce equal bytes.
func MarshalCanonical(data interface{}) ([]byte, error) {
	if data == nil {
		return nil, nil
	}

	raw, ok := data.([]byte)
	if !ok {
		var err error
		raw, err = sonic.ConfigStd.Marshal(data)
		if err != nil {
			return nil, err
		}
	}

	var generic interface{}
	if err := sonic.ConfigStd.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	return sonic.ConfigStd.Marshal(generic)
}

// StripFields removes the named top-level keys from a JSON object.
func StripFields(data interface{}, fields ...string) (map[string]interface{}, error) {
	raw, err := sonic.ConfigStd.Marshal(data)
	if err != nil {
		return nil, err
	}

	out := make(map[string]interface{})
	if err := sonic.ConfigStd.Unmarshal(raw, &out); err != nil {
		return nil, err
	}

	for _, f := range fields {
		delete(out, f)
	}

	return out, nil
}
