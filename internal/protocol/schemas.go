package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://marketprobe.local/schemas/"

const (
	schemaInit           = "init.schema.json"
	schemaListingDisplay = "listing_display.schema.json"
)

var (
	schemasOnce sync.Once
	schemasErr  error
	schemas     map[string]*jsonschema.Schema
)

func loadSchemas() {
	c := jsonschema.NewCompiler()
	names := []string{schemaInit, schemaListingDisplay}
	for _, name := range names {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			schemasErr = err
			return
		}
		if err := c.AddResource(schemaBase+name, bytes.NewReader(b)); err != nil {
			schemasErr = fmt.Errorf("schema %s: %w", name, err)
			return
		}
	}
	schemas = make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			schemasErr = fmt.Errorf("compile %s: %w", name, err)
			return
		}
		schemas[name] = s
	}
}

func validate(name string, raw []byte) error {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return schemasErr
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := schemas[name].Validate(v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// ValidateInit checks a raw init frame.
func ValidateInit(raw []byte) error {
	return validate(schemaInit, raw)
}

// ValidateListingDisplay checks that a listing, as the server sent it,
// carries the fields a browsing player needs (label, unit price, seller,
// expiry). The creator's own acknowledgement does not need to carry them.
func ValidateListingDisplay(l Listing) error {
	if len(l.Raw) == 0 {
		return fmt.Errorf("%s: listing %q was not decoded from a frame", schemaListingDisplay, l.ID)
	}
	return validate(schemaListingDisplay, l.Raw)
}
