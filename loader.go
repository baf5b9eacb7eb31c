package eapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/oapi-codegen/runtime"
)

// LoadPayInitReq reads a prepared payment/init request from a JSON file.
// Fields in defaults, itself a JSON object, apply where the file leaves them
// out. The merchant id is ignored; the client injects its own.
func LoadPayInitReq(path string, defaults []byte) (*PayInitReq, error) {
	var req PayInitReq
	if err := loadRequest(path, defaults, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// LoadPayOneclickInitReq reads a prepared payment/oneclick/init request the
// same way as [LoadPayInitReq].
func LoadPayOneclickInitReq(path string, defaults []byte) (*PayOneclickInitReq, error) {
	var req PayOneclickInitReq
	if err := loadRequest(path, defaults, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func loadRequest(path string, defaults []byte, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("eapi: read request file: %w", err)
	}
	if len(bytes.TrimSpace(defaults)) > 0 {
		raw, err = runtime.JSONMerge(defaults, raw)
		if err != nil {
			return fmt.Errorf("eapi: merge request defaults into %s: %w", path, err)
		}
	}
	if err := decodeStrict(raw, v); err != nil {
		return fmt.Errorf("eapi: decode request file %s: %w", path, err)
	}
	return nil
}

// decodeStrict rejects unknown fields so typos in hand-written request files
// surface instead of being silently dropped.
func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
