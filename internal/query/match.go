package query

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/Priya8975/epcis-repository/internal/domain"
)

// Matches evaluates the predicate nodes against ev. Ordering and paging are
// not applied.
func (s *Spec) Matches(ev *domain.Event) bool {
	if s.MatchesNothing {
		return false
	}
	for _, n := range s.Nodes {
		if !n.matches(ev) {
			return false
		}
	}
	return true
}

func (n Node) matches(ev *domain.Event) bool {
	switch n.Op {
	case OpGE, OpLT:
		t, ok := FieldTime(ev, n.Field)
		if !ok {
			return false
		}
		if n.Op == OpGE {
			return !t.Before(n.Time)
		}
		return t.Before(n.Time)
	case OpEqSet, OpMatchAny:
		for _, v := range FieldValues(ev, n.Field) {
			if _, found := slices.BinarySearch(n.Values, v); found {
				return true
			}
		}
		return false
	case OpExists:
		return (ev.ErrorDeclaration != nil) == n.Exists
	}
	return false
}

// FieldTime returns the instant a range predicate on f compares against.
func FieldTime(ev *domain.Event, f Field) (time.Time, bool) {
	switch f {
	case FieldEventTime:
		return ev.EventTime, true
	case FieldRecordTime:
		return ev.RecordTime, !ev.RecordTime.IsZero()
	case FieldErrorDeclarationTime:
		if ev.ErrorDeclaration == nil {
			return time.Time{}, false
		}
		return ev.ErrorDeclaration.DeclarationTime, true
	}
	return time.Time{}, false
}

// FieldValues returns the values of ev an equality or containment predicate
// on f compares against. Single-valued fields yield at most one value.
func FieldValues(ev *domain.Event, f Field) []string {
	switch f {
	case FieldType:
		return single(string(ev.Type))
	case FieldAction:
		return single(string(ev.Action))
	case FieldBizStep:
		return single(ev.BizStep)
	case FieldDisposition:
		return single(ev.Disposition)
	case FieldReadPoint:
		return single(ev.ReadPointID())
	case FieldBizLocation:
		return single(ev.BizLocationID())
	case FieldTransformationID:
		return single(ev.TransformationID())
	case FieldEventID:
		return single(ev.EventID)
	case FieldErrorReason:
		if ev.ErrorDeclaration == nil {
			return nil
		}
		return single(ev.ErrorDeclaration.Reason)
	case FieldEPC:
		return ev.EPCs()
	case FieldParentID:
		return ev.ParentIDs()
	case FieldInputEPC:
		return ev.InputEPCs()
	case FieldOutputEPC:
		return ev.OutputEPCs()
	case FieldAnyEPC:
		return ev.AnyEPCs()
	case FieldEPCClass:
		return ev.EPCClasses()
	case FieldInputEPCClass:
		return ev.InputEPCClasses()
	case FieldOutputEPCClass:
		return ev.OutputEPCClasses()
	case FieldAnyEPCClass:
		return ev.AnyEPCClasses()
	case FieldDeviceID:
		return ev.DeviceIDs()
	case FieldDataProcessingMethod:
		return ev.DataProcessingMethods()
	}
	return nil
}

func single(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

// Compare orders two events by o, breaking ties by ascending eventID.
func (o Order) Compare(a, b *domain.Event) int {
	ta, _ := FieldTime(a, o.Key)
	tb, _ := FieldTime(b, o.Key)
	c := ta.Compare(tb)
	if o.Direction == Desc {
		c = -c
	}
	if c != 0 {
		return c
	}
	return cmp.Compare(a.EventID, b.EventID)
}

// Apply filters, orders and pages events in memory. It returns the page and
// whether more matching events follow it.
func (s *Spec) Apply(events []*domain.Event) ([]*domain.Event, bool) {
	var matched []*domain.Event
	for _, ev := range events {
		if s.Matches(ev) {
			matched = append(matched, ev)
		}
	}
	slices.SortFunc(matched, s.Order.Compare)

	if s.Page.Offset >= len(matched) {
		return []*domain.Event{}, false
	}
	end := s.Page.Offset + s.Page.Size
	if end >= len(matched) {
		return matched[s.Page.Offset:], false
	}
	return matched[s.Page.Offset:end], true
}

func (s *Spec) String() string {
	var b strings.Builder
	for i, n := range s.Nodes {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(string(n.Op))
		b.WriteByte('_')
		b.WriteString(string(n.Field))
		switch n.Op {
		case OpGE, OpLT:
			b.WriteString(" " + n.Time.Format(time.RFC3339Nano))
		case OpExists:
			if n.Exists {
				b.WriteString(" true")
			} else {
				b.WriteString(" false")
			}
		default:
			b.WriteString(" [" + strings.Join(n.Values, ",") + "]")
		}
	}
	return b.String()
}
