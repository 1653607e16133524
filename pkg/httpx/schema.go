package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dmehra2102/orderflow/pkg/apperr"
)

const maxBodyBytes = 1 << 20

// Schema is a compiled JSON schema for request bodies.
type Schema struct {
	schema *gojsonschema.Schema
}

func MustSchema(src string) *Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid json schema: %v", err))
	}
	return &Schema{schema: s}
}

// DecodeJSON reads the request body, checks it against schema and decodes
// it into dst. Every failure is an InvalidRequest error.
func DecodeJSON(r *http.Request, schema *Schema, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.InvalidRequest("request body too large")
		}
		return apperr.InvalidRequest("failed to read request body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return apperr.InvalidRequest("request body is required")
	}

	result, err := schema.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return apperr.InvalidRequest("malformed JSON body")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return apperr.InvalidRequest(strings.Join(msgs, "; "))
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.InvalidRequest("malformed JSON body")
	}
	return nil
}
