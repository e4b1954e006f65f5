// Package query compiles EPCIS query parameters into a predicate Spec that
// stores can translate or evaluate directly.
package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Priya8975/epcis-repository/internal/domain"
)

// Params is the EPCIS 2.0 query parameter object. Slice fields are nil when
// absent and non-nil when present, so an explicit empty array is preserved.
type Params struct {
	EventTypes []string `json:"eventTypes,omitempty"`

	GEEventTime            *string `json:"GE_eventTime,omitempty"`
	LTEventTime            *string `json:"LT_eventTime,omitempty"`
	GERecordTime           *string `json:"GE_recordTime,omitempty"`
	LTRecordTime           *string `json:"LT_recordTime,omitempty"`
	GEErrorDeclarationTime *string `json:"GE_errorDeclarationTime,omitempty"`
	LTErrorDeclarationTime *string `json:"LT_errorDeclarationTime,omitempty"`

	EQAction           []string `json:"EQ_action,omitempty"`
	EQBizStep          []string `json:"EQ_bizStep,omitempty"`
	EQDisposition      []string `json:"EQ_disposition,omitempty"`
	EQReadPoint        []string `json:"EQ_readPoint,omitempty"`
	EQBizLocation      []string `json:"EQ_bizLocation,omitempty"`
	EQTransformationID []string `json:"EQ_transformationID,omitempty"`
	EQEventID          []string `json:"EQ_eventID,omitempty"`
	EQErrorReason      []string `json:"EQ_errorReason,omitempty"`

	MatchEPC            []string `json:"MATCH_epc,omitempty"`
	MatchParentID       []string `json:"MATCH_parentID,omitempty"`
	MatchInputEPC       []string `json:"MATCH_inputEPC,omitempty"`
	MatchOutputEPC      []string `json:"MATCH_outputEPC,omitempty"`
	MatchAnyEPC         []string `json:"MATCH_anyEPC,omitempty"`
	MatchEPCClass       []string `json:"MATCH_epcClass,omitempty"`
	MatchInputEPCClass  []string `json:"MATCH_inputEPCClass,omitempty"`
	MatchOutputEPCClass []string `json:"MATCH_outputEPCClass,omitempty"`
	MatchAnyEPCClass    []string `json:"MATCH_anyEPCClass,omitempty"`

	ExistsErrorDeclaration *bool    `json:"EXISTS_errorDeclaration,omitempty"`
	EQDeviceID             []string `json:"EQ_deviceID,omitempty"`
	EQDataProcessingMethod []string `json:"EQ_dataProcessingMethod,omitempty"`

	OrderBy         string `json:"orderBy,omitempty"`
	OrderDirection  string `json:"orderDirection,omitempty"`
	EventCountLimit *int   `json:"eventCountLimit,omitempty"`
	MaxEventCount   *int   `json:"maxEventCount,omitempty"`
	PerPage         *int   `json:"perPage,omitempty"`
	NextPageToken   string `json:"nextPageToken,omitempty"`
}

// Decode parses a raw parameter object. Unknown parameter names are
// rejected. An empty or null input yields an empty Params.
func Decode(raw json.RawMessage) (*Params, error) {
	var p Params
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &p, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, domain.Invalidf("invalid query parameters: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, domain.Invalidf("invalid query parameters: trailing data")
	}
	return &p, nil
}

// Merge overlays the top-level keys of overrides onto base. Either side may
// be empty. Both must be JSON objects.
func Merge(base, overrides json.RawMessage) (json.RawMessage, error) {
	merged := make(map[string]json.RawMessage)
	for _, part := range []json.RawMessage{base, overrides} {
		part = bytes.TrimSpace(part)
		if len(part) == 0 || bytes.Equal(part, []byte("null")) {
			continue
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(part, &m); err != nil {
			return nil, domain.Invalidf("query parameters must be a JSON object: %v", err)
		}
		for k, v := range m {
			merged[k] = v
		}
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding merged parameters: %w", err)
	}
	return out, nil
}

// With is Merge for overrides built in code.
func With(base json.RawMessage, overrides map[string]any) (json.RawMessage, error) {
	raw, err := json.Marshal(overrides)
	if err != nil {
		return nil, fmt.Errorf("encoding parameter overrides: %w", err)
	}
	return Merge(base, raw)
}
