package domain

import (
	"encoding/json"
	"time"
)

// QueryDefinition is a named, reusable query. Query holds the raw query
// parameter object so that present-but-empty arrays survive storage.
type QueryDefinition struct {
	Name      string          `json:"name"`
	Query     json.RawMessage `json:"query"`
	CreatedAt time.Time       `json:"createdAt,omitzero"`
}

// ContextURI is the linked-data context every EPCIS 2.0 document declares.
const ContextURI = "https://ref.gs1.org/standards/epcis/2.0.0/epcis-context.jsonld"

// QueryDocument is an EPCISQueryDocument carrying the results of one query
// execution. SubscriptionID is empty for direct query calls.
type QueryDocument struct {
	Context       []string          `json:"@context"`
	Type          string            `json:"type"`
	SchemaVersion string            `json:"schemaVersion"`
	CreationDate  time.Time         `json:"creationDate"`
	EPCISBody     QueryDocumentBody `json:"epcisBody"`
}

type QueryDocumentBody struct {
	QueryName      string       `json:"queryName"`
	SubscriptionID string       `json:"subscriptionID,omitempty"`
	QueryResults   QueryResults `json:"queryResults"`
}

type QueryResults struct {
	QueryName      string      `json:"queryName"`
	SubscriptionID string      `json:"subscriptionID,omitempty"`
	ResultsBody    ResultsBody `json:"resultsBody"`
}

type ResultsBody struct {
	EventList []*Event `json:"eventList"`
}

func NewQueryDocument(queryName, subscriptionID string, events []*Event, created time.Time) QueryDocument {
	if events == nil {
		events = []*Event{}
	}
	return QueryDocument{
		Context:       []string{ContextURI},
		Type:          "EPCISQueryDocument",
		SchemaVersion: "2.0",
		CreationDate:  created.UTC(),
		EPCISBody: QueryDocumentBody{
			QueryName:      queryName,
			SubscriptionID: subscriptionID,
			QueryResults: QueryResults{
				QueryName:      queryName,
				SubscriptionID: subscriptionID,
				ResultsBody:    ResultsBody{EventList: events},
			},
		},
	}
}
