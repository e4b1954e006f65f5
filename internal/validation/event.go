// Package validation checks inbound EPCIS documents and events before they
// reach the capture pipeline's store. Nothing here performs I/O.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/Priya8975/epcis-repository/internal/domain"
)

var timezoneOffsetPattern = regexp.MustCompile(`^[+-]\d{2}:\d{2}$`)

// EventError is returned for an event that fails validation. EventID is
// empty when the event did not carry a readable identifier.
type EventError struct {
	EventID string
	Reason  string
}

func (e *EventError) Error() string {
	if e.EventID == "" {
		return e.Reason
	}
	return fmt.Sprintf("event %s: %s", e.EventID, e.Reason)
}

func (e *EventError) Unwrap() error {
	return &domain.ValidationError{Reason: e.Reason}
}

// wireEvent mirrors the common event fields with times kept as strings so
// that bad values are reported per field instead of failing the decode.
type wireEvent struct {
	EventID             string                  `json:"eventID"`
	Type                domain.EventType        `json:"type"`
	EventTime           string                  `json:"eventTime"`
	EventTimeZoneOffset string                  `json:"eventTimeZoneOffset"`
	Action              domain.Action           `json:"action"`
	BizStep             string                  `json:"bizStep"`
	Disposition         string                  `json:"disposition"`
	ReadPoint           *domain.Location        `json:"readPoint"`
	BizLocation         *domain.Location        `json:"bizLocation"`
	BizTransactionList  []domain.BizTransaction `json:"bizTransactionList"`
	SourceList          []domain.Source         `json:"sourceList"`
	DestinationList     []domain.Destination    `json:"destinationList"`
	SensorElementList   []domain.SensorElement  `json:"sensorElementList"`
	ErrorDeclaration    *wireErrorDeclaration   `json:"errorDeclaration"`
	TenantID            string                  `json:"tenantId"`
}

type wireErrorDeclaration struct {
	DeclarationTime    string   `json:"declarationTime"`
	Reason             string   `json:"reason"`
	CorrectiveEventIDs []string `json:"correctiveEventIDs"`
}

// Event validates one raw event against the rules of its declared type and
// returns the decoded event. The failure reason lists every failed check.
func Event(raw json.RawMessage) (*domain.Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &EventError{Reason: "event must be a JSON object"}
	}

	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &EventError{EventID: peekEventID(raw), Reason: "malformed event: " + err.Error()}
	}

	var errs multierror.Error
	errs.ErrorFormat = joinReasons

	if strings.TrimSpace(w.EventID) == "" {
		errs.Errors = append(errs.Errors, errors.New("eventID is required"))
	}
	if w.TenantID == "" {
		errs.Errors = append(errs.Errors, errors.New("tenantId is required"))
	}

	eventTime, err := checkInstant("eventTime", w.EventTime)
	if err != nil {
		errs.Errors = append(errs.Errors, err)
	}
	if err := checkTimezoneOffset(w.EventTimeZoneOffset); err != nil {
		errs.Errors = append(errs.Errors, err)
	}

	switch {
	case w.Action == "":
		errs.Errors = append(errs.Errors, errors.New("action is required"))
	case !w.Action.Valid():
		errs.Errors = append(errs.Errors, fmt.Errorf("action must be one of ADD, OBSERVE, DELETE, got %q", w.Action))
	}

	for i, bt := range w.BizTransactionList {
		if bt.BizTransaction == "" {
			errs.Errors = append(errs.Errors, fmt.Errorf("bizTransactionList[%d].bizTransaction is required", i))
		}
	}

	var declaration *domain.ErrorDeclaration
	if w.ErrorDeclaration != nil {
		declared, err := checkInstant("errorDeclaration.declarationTime", w.ErrorDeclaration.DeclarationTime)
		if err != nil {
			errs.Errors = append(errs.Errors, err)
		}
		declaration = &domain.ErrorDeclaration{
			DeclarationTime:    declared,
			Reason:             w.ErrorDeclaration.Reason,
			CorrectiveEventIDs: w.ErrorDeclaration.CorrectiveEventIDs,
		}
	}

	body, err := domain.NewBody(w.Type)
	switch {
	case w.Type == "":
		errs.Errors = append(errs.Errors, errors.New("type is required"))
	case err != nil:
		errs.Errors = append(errs.Errors, fmt.Errorf("type must be one of ObjectEvent, AggregationEvent, TransactionEvent, TransformationEvent, AssociationEvent, got %q", w.Type))
	default:
		if err := json.Unmarshal(raw, body); err != nil {
			errs.Errors = append(errs.Errors, fmt.Errorf("malformed %s fields: %v", w.Type, err))
		} else {
			errs.Errors = append(errs.Errors, checkBody(&w, body)...)
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, &EventError{EventID: w.EventID, Reason: err.Error()}
	}

	return &domain.Event{
		EventID:             w.EventID,
		Type:                w.Type,
		EventTime:           eventTime,
		EventTimeZoneOffset: w.EventTimeZoneOffset,
		Action:              w.Action,
		BizStep:             w.BizStep,
		Disposition:         w.Disposition,
		ReadPoint:           w.ReadPoint,
		BizLocation:         w.BizLocation,
		BizTransactionList:  w.BizTransactionList,
		SourceList:          w.SourceList,
		DestinationList:     w.DestinationList,
		SensorElementList:   w.SensorElementList,
		ErrorDeclaration:    declaration,
		TenantID:            w.TenantID,
		Body:                body,
	}, nil
}

// checkBody applies the per-type required field rules.
func checkBody(w *wireEvent, body domain.EventBody) []error {
	var errs []error
	switch b := body.(type) {
	case *domain.ObjectEvent:
		errs = append(errs, checkQuantities("quantityList", b.QuantityList)...)
	case *domain.AggregationEvent:
		if b.ParentID == "" && w.Action != domain.ActionObserve {
			errs = append(errs, fmt.Errorf("parentID is required for AggregationEvent with action %s", w.Action))
		}
		errs = append(errs, checkQuantities("childQuantityList", b.ChildQuantityList)...)
	case *domain.TransactionEvent:
		if len(w.BizTransactionList) == 0 {
			errs = append(errs, errors.New("bizTransactionList must not be empty for TransactionEvent"))
		}
		errs = append(errs, checkQuantities("quantityList", b.QuantityList)...)
	case *domain.TransformationEvent:
		errs = append(errs, checkQuantities("inputQuantityList", b.InputQuantityList)...)
		errs = append(errs, checkQuantities("outputQuantityList", b.OutputQuantityList)...)
	case *domain.AssociationEvent:
		if b.ParentID == "" {
			errs = append(errs, errors.New("parentID is required for AssociationEvent"))
		}
		errs = append(errs, checkQuantities("childQuantityList", b.ChildQuantityList)...)
	}
	return errs
}

func checkQuantities(field string, list []domain.QuantityElement) []error {
	var errs []error
	for i, q := range list {
		if q.EPCClass == "" {
			errs = append(errs, fmt.Errorf("%s[%d].epcClass is required", field, i))
		}
	}
	return errs
}

func checkInstant(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp, got %q", field, value)
	}
	return t, nil
}

func checkTimezoneOffset(offset string) error {
	if offset == "" {
		return errors.New("eventTimeZoneOffset is required")
	}
	if !timezoneOffsetPattern.MatchString(offset) {
		return fmt.Errorf("eventTimeZoneOffset must match ±HH:MM, got %q", offset)
	}
	hours, _ := strconv.Atoi(offset[1:3])
	minutes, _ := strconv.Atoi(offset[4:6])
	if hours > 14 || minutes > 59 {
		return fmt.Errorf("eventTimeZoneOffset out of range: %q", offset)
	}
	return nil
}

// peekEventID recovers the eventID from an event whose other fields fail to decode.
func peekEventID(raw json.RawMessage) string {
	var probe struct {
		EventID any `json:"eventID"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	if s, ok := probe.EventID.(string); ok {
		return s
	}
	return ""
}

func joinReasons(errs []error) string {
	reasons := make([]string, len(errs))
	for i, err := range errs {
		reasons[i] = err.Error()
	}
	return strings.Join(reasons, "; ")
}
