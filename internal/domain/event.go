package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	ObjectEventType         EventType = "ObjectEvent"
	AggregationEventType    EventType = "AggregationEvent"
	TransactionEventType    EventType = "TransactionEvent"
	TransformationEventType EventType = "TransformationEvent"
	AssociationEventType    EventType = "AssociationEvent"
)

type Action string

const (
	ActionAdd     Action = "ADD"
	ActionObserve Action = "OBSERVE"
	ActionDelete  Action = "DELETE"
)

// Valid reports whether a is one of the three EPCIS actions.
func (a Action) Valid() bool {
	switch a {
	case ActionAdd, ActionObserve, ActionDelete:
		return true
	}
	return false
}

type Location struct {
	ID string `json:"id"`
}

type QuantityElement struct {
	EPCClass string   `json:"epcClass"`
	Quantity *float64 `json:"quantity,omitempty"`
	UOM      string   `json:"uom,omitempty"`
}

type BizTransaction struct {
	Type           string `json:"type,omitempty"`
	BizTransaction string `json:"bizTransaction"`
}

type Source struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

type Destination struct {
	Type        string `json:"type"`
	Destination string `json:"destination"`
}

type SensorMetadata struct {
	Time                 *time.Time `json:"time,omitempty"`
	StartTime            *time.Time `json:"startTime,omitempty"`
	EndTime              *time.Time `json:"endTime,omitempty"`
	DeviceID             string     `json:"deviceID,omitempty"`
	DeviceMetadata       string     `json:"deviceMetadata,omitempty"`
	RawData              string     `json:"rawData,omitempty"`
	DataProcessingMethod string     `json:"dataProcessingMethod,omitempty"`
	BizRules             string     `json:"bizRules,omitempty"`
}

type SensorReport struct {
	Type                 string     `json:"type,omitempty"`
	DeviceID             string     `json:"deviceID,omitempty"`
	DataProcessingMethod string     `json:"dataProcessingMethod,omitempty"`
	Time                 *time.Time `json:"time,omitempty"`
	Value                *float64   `json:"value,omitempty"`
	MinValue             *float64   `json:"minValue,omitempty"`
	MaxValue             *float64   `json:"maxValue,omitempty"`
	StringValue          string     `json:"stringValue,omitempty"`
	BooleanValue         *bool      `json:"booleanValue,omitempty"`
	UOM                  string     `json:"uom,omitempty"`
	Component            string     `json:"component,omitempty"`
}

type SensorElement struct {
	SensorMetadata *SensorMetadata `json:"sensorMetadata,omitempty"`
	SensorReport   []SensorReport  `json:"sensorReport"`
}

type ErrorDeclaration struct {
	DeclarationTime    time.Time `json:"declarationTime"`
	Reason             string    `json:"reason,omitempty"`
	CorrectiveEventIDs []string  `json:"correctiveEventIDs,omitempty"`
}

// Event is a captured EPCIS event. Fields shared by every event type live
// on Event itself; the type-specific fields live in Body, which is always
// one of the five concrete body types below.
type Event struct {
	EventID             string            `json:"eventID"`
	Type                EventType         `json:"type"`
	EventTime           time.Time         `json:"eventTime"`
	EventTimeZoneOffset string            `json:"eventTimeZoneOffset"`
	RecordTime          time.Time         `json:"recordTime,omitzero"`
	Action              Action            `json:"action,omitempty"`
	BizStep             string            `json:"bizStep,omitempty"`
	Disposition         string            `json:"disposition,omitempty"`
	ReadPoint           *Location         `json:"readPoint,omitempty"`
	BizLocation         *Location         `json:"bizLocation,omitempty"`
	BizTransactionList  []BizTransaction  `json:"bizTransactionList,omitempty"`
	SourceList          []Source          `json:"sourceList,omitempty"`
	DestinationList     []Destination     `json:"destinationList,omitempty"`
	SensorElementList   []SensorElement   `json:"sensorElementList,omitempty"`
	ErrorDeclaration    *ErrorDeclaration `json:"errorDeclaration,omitempty"`
	TenantID            string            `json:"tenantId"`
	CaptureID           string            `json:"captureID,omitempty"`

	Body EventBody `json:"-"`
}

// EventBody is implemented only by the body types in this package.
type EventBody interface {
	isEventBody()
}

type ObjectEvent struct {
	EPCList      []string          `json:"epcList,omitempty"`
	QuantityList []QuantityElement `json:"quantityList,omitempty"`
}

type AggregationEvent struct {
	ParentID          string            `json:"parentID,omitempty"`
	ChildEPCs         []string          `json:"childEPCs,omitempty"`
	ChildQuantityList []QuantityElement `json:"childQuantityList,omitempty"`
}

type TransactionEvent struct {
	ParentID     string            `json:"parentID,omitempty"`
	EPCList      []string          `json:"epcList,omitempty"`
	QuantityList []QuantityElement `json:"quantityList,omitempty"`
}

type TransformationEvent struct {
	InputEPCList       []string          `json:"inputEPCList,omitempty"`
	InputQuantityList  []QuantityElement `json:"inputQuantityList,omitempty"`
	OutputEPCList      []string          `json:"outputEPCList,omitempty"`
	OutputQuantityList []QuantityElement `json:"outputQuantityList,omitempty"`
	TransformationID   string            `json:"transformationID,omitempty"`
}

type AssociationEvent struct {
	ParentID          string            `json:"parentID"`
	ChildEPCs         []string          `json:"childEPCs,omitempty"`
	ChildQuantityList []QuantityElement `json:"childQuantityList,omitempty"`
}

func (*ObjectEvent) isEventBody()         {}
func (*AggregationEvent) isEventBody()    {}
func (*TransactionEvent) isEventBody()    {}
func (*TransformationEvent) isEventBody() {}
func (*AssociationEvent) isEventBody()    {}

// NewBody returns an empty body for the given event type.
func NewBody(t EventType) (EventBody, error) {
	switch t {
	case ObjectEventType:
		return &ObjectEvent{}, nil
	case AggregationEventType:
		return &AggregationEvent{}, nil
	case TransactionEventType:
		return &TransactionEvent{}, nil
	case TransformationEventType:
		return &TransformationEvent{}, nil
	case AssociationEventType:
		return &AssociationEvent{}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", t)
}

// eventFields has Event's layout without its methods.
type eventFields Event

func (e Event) MarshalJSON() ([]byte, error) {
	f := eventFields(e)
	switch b := e.Body.(type) {
	case *ObjectEvent:
		return json.Marshal(struct {
			eventFields
			*ObjectEvent
		}{f, b})
	case *AggregationEvent:
		return json.Marshal(struct {
			eventFields
			*AggregationEvent
		}{f, b})
	case *TransactionEvent:
		return json.Marshal(struct {
			eventFields
			*TransactionEvent
		}{f, b})
	case *TransformationEvent:
		return json.Marshal(struct {
			eventFields
			*TransformationEvent
		}{f, b})
	case *AssociationEvent:
		return json.Marshal(struct {
			eventFields
			*AssociationEvent
		}{f, b})
	case nil:
		return json.Marshal(f)
	}
	return nil, fmt.Errorf("unsupported event body %T", e.Body)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var f eventFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	body, err := NewBody(f.Type)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, body); err != nil {
		return fmt.Errorf("decoding %s body: %w", f.Type, err)
	}
	*e = Event(f)
	e.Body = body
	return nil
}

// EPCs returns the instance-level identifiers matched by MATCH_epc.
func (e *Event) EPCs() []string {
	switch b := e.Body.(type) {
	case *ObjectEvent:
		return b.EPCList
	case *TransactionEvent:
		return b.EPCList
	case *AggregationEvent:
		return b.ChildEPCs
	case *AssociationEvent:
		return b.ChildEPCs
	}
	return nil
}

func (e *Event) ParentIDs() []string {
	var id string
	switch b := e.Body.(type) {
	case *AggregationEvent:
		id = b.ParentID
	case *TransactionEvent:
		id = b.ParentID
	case *AssociationEvent:
		id = b.ParentID
	}
	if id == "" {
		return nil
	}
	return []string{id}
}

func (e *Event) InputEPCs() []string {
	if b, ok := e.Body.(*TransformationEvent); ok {
		return b.InputEPCList
	}
	return nil
}

func (e *Event) OutputEPCs() []string {
	if b, ok := e.Body.(*TransformationEvent); ok {
		return b.OutputEPCList
	}
	return nil
}

// AnyEPCs is the union matched by MATCH_anyEPC.
func (e *Event) AnyEPCs() []string {
	return concat(e.EPCs(), e.ParentIDs(), e.InputEPCs(), e.OutputEPCs())
}

func (e *Event) EPCClasses() []string {
	switch b := e.Body.(type) {
	case *ObjectEvent:
		return classes(b.QuantityList)
	case *TransactionEvent:
		return classes(b.QuantityList)
	case *AggregationEvent:
		return classes(b.ChildQuantityList)
	case *AssociationEvent:
		return classes(b.ChildQuantityList)
	}
	return nil
}

func (e *Event) InputEPCClasses() []string {
	if b, ok := e.Body.(*TransformationEvent); ok {
		return classes(b.InputQuantityList)
	}
	return nil
}

func (e *Event) OutputEPCClasses() []string {
	if b, ok := e.Body.(*TransformationEvent); ok {
		return classes(b.OutputQuantityList)
	}
	return nil
}

func (e *Event) AnyEPCClasses() []string {
	return concat(e.EPCClasses(), e.InputEPCClasses(), e.OutputEPCClasses())
}

func (e *Event) TransformationID() string {
	if b, ok := e.Body.(*TransformationEvent); ok {
		return b.TransformationID
	}
	return ""
}

// DeviceIDs collects device ids from sensor metadata and sensor reports.
func (e *Event) DeviceIDs() []string {
	var ids []string
	for _, el := range e.SensorElementList {
		if el.SensorMetadata != nil && el.SensorMetadata.DeviceID != "" {
			ids = append(ids, el.SensorMetadata.DeviceID)
		}
		for _, r := range el.SensorReport {
			if r.DeviceID != "" {
				ids = append(ids, r.DeviceID)
			}
		}
	}
	return ids
}

func (e *Event) DataProcessingMethods() []string {
	var methods []string
	for _, el := range e.SensorElementList {
		if el.SensorMetadata != nil && el.SensorMetadata.DataProcessingMethod != "" {
			methods = append(methods, el.SensorMetadata.DataProcessingMethod)
		}
		for _, r := range el.SensorReport {
			if r.DataProcessingMethod != "" {
				methods = append(methods, r.DataProcessingMethod)
			}
		}
	}
	return methods
}

func (e *Event) ReadPointID() string {
	if e.ReadPoint == nil {
		return ""
	}
	return e.ReadPoint.ID
}

func (e *Event) BizLocationID() string {
	if e.BizLocation == nil {
		return ""
	}
	return e.BizLocation.ID
}

func classes(list []QuantityElement) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, q := range list {
		out = append(out, q.EPCClass)
	}
	return out
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
