package validation

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Priya8975/epcis-repository/internal/domain"
)

// ContextURI is the context URI the envelope schema requires.
const ContextURI = domain.ContextURI

//go:embed schema/epcis-document.json
var schemaFS embed.FS

var (
	documentSchema     *gojsonschema.Schema
	documentSchemaOnce sync.Once
	documentSchemaErr  error
)

func loadDocumentSchema() (*gojsonschema.Schema, error) {
	documentSchemaOnce.Do(func() {
		raw, err := schemaFS.ReadFile("schema/epcis-document.json")
		if err != nil {
			documentSchemaErr = fmt.Errorf("reading document schema: %w", err)
			return
		}
		documentSchema, documentSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if documentSchemaErr != nil {
			documentSchemaErr = fmt.Errorf("compiling document schema: %w", documentSchemaErr)
		}
	})
	return documentSchema, documentSchemaErr
}

// Document is the part of an EPCISDocument the capture pipeline consumes.
type Document struct {
	EventList []json.RawMessage
}

type documentEnvelope struct {
	EpcisBody struct {
		EventList []json.RawMessage `json:"eventList"`
	} `json:"epcisBody"`
}

// ParseDocument checks the document envelope: it must carry an event list
// and reference the EPCIS context. Event contents are not inspected.
func ParseDocument(raw []byte) (*Document, error) {
	schema, err := loadDocumentSchema()
	if err != nil {
		return nil, err
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, domain.Invalidf("invalid EPCIS document: %v", err)
	}
	if !result.Valid() {
		var reasons []string
		seen := make(map[string]bool)
		for _, re := range result.Errors() {
			d := describe(re)
			if !seen[d] {
				seen[d] = true
				reasons = append(reasons, d)
			}
		}
		return nil, domain.Invalidf("invalid EPCIS document: %s", strings.Join(reasons, "; "))
	}

	var env documentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, domain.Invalidf("invalid EPCIS document: %v", err)
	}
	return &Document{EventList: env.EpcisBody.EventList}, nil
}

func describe(re gojsonschema.ResultError) string {
	if re.Field() == "(root)" {
		return re.Description()
	}
	if re.Field() == "@context" {
		return "@context must be or include " + ContextURI
	}
	return re.Field() + ": " + re.Description()
}
