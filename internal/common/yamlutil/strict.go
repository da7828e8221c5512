package yamlutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyDocument is returned when the input holds no YAML document
var ErrEmptyDocument = errors.New("yaml document is empty")

// UnmarshalStrict decodes data into v, rejecting fields v does not declare
func UnmarshalStrict(data []byte, v interface{}) error {
	return DecodeStrict(bytes.NewReader(data), v)
}

// DecodeStrict is UnmarshalStrict for a reader. Only the first document is read.
func DecodeStrict(r io.Reader, v interface{}) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyDocument
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("unknown configuration field (check for typos): %w", err)
		}
		return err
	}
	return nil
}
