package api

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"taskboard/domain"
)

const maxBodySize = 64 << 10

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	taskCreateSchema = mustCompileSchema("task-create.json")
	taskPatchSchema  = mustCompileSchema("task-patch.json")
	registerSchema   = mustCompileSchema("register.json")
	loginSchema      = mustCompileSchema("login.json")
)

var errBodyTooLarge = errors.New("request body too large")

func mustCompileSchema(name string) *jsonschema.Schema {
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(fmt.Sprintf("read schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

// readBody reads at most maxBodySize bytes and checks them against schema.
// Schema violations come back as *domain.ValidationError.
func readBody(r io.Reader, schema *jsonschema.Schema) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodySize {
		return nil, errBodyTooLarge
	}

	var doc any
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return nil, &domain.ValidationError{Message: "invalid body"}
	}
	if err := schema.Validate(doc); err != nil {
		return nil, schemaError(err)
	}
	return data, nil
}

func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &domain.ValidationError{Message: err.Error()}
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return &domain.ValidationError{
		Field:   strings.TrimPrefix(ve.InstanceLocation, "/"),
		Message: ve.Message,
	}
}
