package query

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Priya8975/epcis-repository/internal/domain"
)

var ErrTooComplex = errors.New("query too complex")

type Op string

const (
	OpGE       Op = "GE"
	OpLT       Op = "LT"
	OpEqSet    Op = "EQ_SET"
	OpMatchAny Op = "MATCH_ANY"
	OpExists   Op = "EXISTS"
)

// Field names an event attribute a predicate applies to.
type Field string

const (
	FieldEventTime            Field = "eventTime"
	FieldRecordTime           Field = "recordTime"
	FieldErrorDeclarationTime Field = "errorDeclarationTime"
	FieldType                 Field = "type"
	FieldAction               Field = "action"
	FieldBizStep              Field = "bizStep"
	FieldDisposition          Field = "disposition"
	FieldReadPoint            Field = "readPoint"
	FieldBizLocation          Field = "bizLocation"
	FieldTransformationID     Field = "transformationID"
	FieldEventID              Field = "eventID"
	FieldErrorReason          Field = "errorReason"
	FieldEPC                  Field = "epc"
	FieldParentID             Field = "parentID"
	FieldInputEPC             Field = "inputEPC"
	FieldOutputEPC            Field = "outputEPC"
	FieldAnyEPC               Field = "anyEPC"
	FieldEPCClass             Field = "epcClass"
	FieldInputEPCClass        Field = "inputEPCClass"
	FieldOutputEPCClass       Field = "outputEPCClass"
	FieldAnyEPCClass          Field = "anyEPCClass"
	FieldErrorDeclaration     Field = "errorDeclaration"
	FieldDeviceID             Field = "deviceID"
	FieldDataProcessingMethod Field = "dataProcessingMethod"
)

// Node is a single predicate. Range nodes use Time, set nodes use Values and
// EXISTS nodes use Exists.
type Node struct {
	Field  Field
	Op     Op
	Values []string
	Time   time.Time
	Exists bool
}

type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

type Order struct {
	Key       Field
	Direction Direction
}

type Page struct {
	Offset int
	Size   int
}

// Spec is a compiled query. Nodes are AND-combined. When MatchesNothing is
// set the query cannot match any event and need not be executed.
type Spec struct {
	Nodes          []Node
	Order          Order
	Page           Page
	MatchesNothing bool
}

// Limits bounds the pages and predicate sizes Compile will produce.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
	MaxValues       int
}

func DefaultLimits() Limits {
	return Limits{DefaultPageSize: 100, MaxPageSize: 1000, MaxValues: 1000}
}

// Compile turns p into a Spec. It is pure: equal inputs produce equal Specs.
func Compile(p *Params, limits Limits) (*Spec, error) {
	if p == nil {
		p = &Params{}
	}
	limits = withDefaults(limits)
	c := &compiler{spec: &Spec{}}

	c.set(FieldType, OpEqSet, p.EventTypes)

	c.timeRange(FieldEventTime, p.GEEventTime, p.LTEventTime)
	c.timeRange(FieldRecordTime, p.GERecordTime, p.LTRecordTime)
	c.timeRange(FieldErrorDeclarationTime, p.GEErrorDeclarationTime, p.LTErrorDeclarationTime)

	c.set(FieldAction, OpEqSet, p.EQAction)
	c.set(FieldBizStep, OpEqSet, p.EQBizStep)
	c.set(FieldDisposition, OpEqSet, p.EQDisposition)
	c.set(FieldReadPoint, OpEqSet, p.EQReadPoint)
	c.set(FieldBizLocation, OpEqSet, p.EQBizLocation)
	c.set(FieldTransformationID, OpEqSet, p.EQTransformationID)
	c.set(FieldEventID, OpEqSet, p.EQEventID)
	c.set(FieldErrorReason, OpEqSet, p.EQErrorReason)

	c.set(FieldEPC, OpMatchAny, p.MatchEPC)
	c.set(FieldParentID, OpMatchAny, p.MatchParentID)
	c.set(FieldInputEPC, OpMatchAny, p.MatchInputEPC)
	c.set(FieldOutputEPC, OpMatchAny, p.MatchOutputEPC)
	c.set(FieldAnyEPC, OpMatchAny, p.MatchAnyEPC)
	c.set(FieldEPCClass, OpMatchAny, p.MatchEPCClass)
	c.set(FieldInputEPCClass, OpMatchAny, p.MatchInputEPCClass)
	c.set(FieldOutputEPCClass, OpMatchAny, p.MatchOutputEPCClass)
	c.set(FieldAnyEPCClass, OpMatchAny, p.MatchAnyEPCClass)

	if p.ExistsErrorDeclaration != nil {
		c.spec.Nodes = append(c.spec.Nodes, Node{Field: FieldErrorDeclaration, Op: OpExists, Exists: *p.ExistsErrorDeclaration})
	}
	c.set(FieldDeviceID, OpMatchAny, p.EQDeviceID)
	c.set(FieldDataProcessingMethod, OpMatchAny, p.EQDataProcessingMethod)

	if len(c.errs) > 0 {
		return nil, domain.Invalidf("%s", strings.Join(c.errs, "; "))
	}
	if c.values > limits.MaxValues {
		return nil, fmt.Errorf("%w: %d predicate values exceed the limit of %d", ErrTooComplex, c.values, limits.MaxValues)
	}

	order, err := compileOrder(p.OrderBy, p.OrderDirection)
	if err != nil {
		return nil, err
	}
	c.spec.Order = order

	page, err := compilePage(p, limits)
	if err != nil {
		return nil, err
	}
	c.spec.Page = page

	return c.spec, nil
}

type compiler struct {
	spec   *Spec
	errs   []string
	values int
}

func (c *compiler) set(field Field, op Op, values []string) {
	if values == nil {
		return
	}
	normalized := slices.Clone(values)
	slices.Sort(normalized)
	normalized = slices.Compact(normalized)
	if len(normalized) == 0 {
		c.spec.MatchesNothing = true
	}
	c.values += len(normalized)
	c.spec.Nodes = append(c.spec.Nodes, Node{Field: field, Op: op, Values: normalized})
}

func (c *compiler) timeRange(field Field, ge, lt *string) {
	for _, bound := range []struct {
		op    Op
		value *string
	}{{OpGE, ge}, {OpLT, lt}} {
		if bound.value == nil {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, *bound.value)
		if err != nil {
			c.errs = append(c.errs, fmt.Sprintf("%s_%s must be an RFC 3339 timestamp, got %q", bound.op, field, *bound.value))
			continue
		}
		c.spec.Nodes = append(c.spec.Nodes, Node{Field: field, Op: bound.op, Time: t.UTC()})
	}
}

func compileOrder(orderBy, direction string) (Order, error) {
	order := Order{Key: FieldEventTime, Direction: Desc}
	switch Field(orderBy) {
	case "":
	case FieldEventTime, FieldRecordTime:
		order.Key = Field(orderBy)
	default:
		return Order{}, domain.Invalidf("orderBy must be eventTime or recordTime, got %q", orderBy)
	}
	switch Direction(direction) {
	case "":
	case Asc, Desc:
		order.Direction = Direction(direction)
	default:
		return Order{}, domain.Invalidf("orderDirection must be ASC or DESC, got %q", direction)
	}
	return order, nil
}

func compilePage(p *Params, limits Limits) (Page, error) {
	size := limits.DefaultPageSize
	for _, v := range []struct {
		name  string
		value *int
	}{{"maxEventCount", p.MaxEventCount}, {"eventCountLimit", p.EventCountLimit}, {"perPage", p.PerPage}} {
		if v.value != nil && *v.value < 1 {
			return Page{}, domain.Invalidf("%s must be a positive integer, got %d", v.name, *v.value)
		}
	}
	switch {
	case p.PerPage != nil:
		size = *p.PerPage
	case p.EventCountLimit != nil:
		size = *p.EventCountLimit
	}
	if p.MaxEventCount != nil {
		size = min(size, *p.MaxEventCount)
	}
	size = min(size, limits.MaxPageSize)

	offset := 0
	if p.NextPageToken != "" {
		n, err := strconv.Atoi(p.NextPageToken)
		if err != nil || n < 0 {
			return Page{}, domain.Invalidf("invalid nextPageToken %q", p.NextPageToken)
		}
		offset = n
	}
	return Page{Offset: offset, Size: size}, nil
}

func withDefaults(l Limits) Limits {
	d := DefaultLimits()
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = d.DefaultPageSize
	}
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = d.MaxPageSize
	}
	if l.MaxValues <= 0 {
		l.MaxValues = d.MaxValues
	}
	return l
}

// NextPageToken returns the token for the page after the one described by
// page, given that more results exist.
func NextPageToken(page Page) string {
	return strconv.Itoa(page.Offset + page.Size)
}
