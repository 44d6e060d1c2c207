// Package validator checks ingestion events and document requests before
// they reach the indexer, returning per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/ingestion"
)

const (
	maxIDLength    = 255
	maxFieldName   = 128
	maxFieldLength = 1048576
	maxFields      = 64
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func checkID(errs map[string]string, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		errs["id"] = "id is required"
	} else if len(id) > maxIDLength {
		errs["id"] = fmt.Sprintf("id must be at most %d characters", maxIDLength)
	}
}

func checkFields(errs map[string]string, fields map[string]string) {
	if len(fields) == 0 {
		errs["fields"] = "at least one field is required"
		return
	}
	if len(fields) > maxFields {
		errs["fields"] = fmt.Sprintf("at most %d fields are allowed", maxFields)
		return
	}
	for name, text := range fields {
		switch {
		case strings.TrimSpace(name) == "":
			errs["fields"] = "field names must not be empty"
		case len(name) > maxFieldName:
			errs["fields."+name] = fmt.Sprintf("field name must be at most %d characters", maxFieldName)
		case len(text) > maxFieldLength:
			errs["fields."+name] = fmt.Sprintf("field must be at most %d bytes", maxFieldLength)
		}
	}
}

func result(errs map[string]string) error {
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateDocument checks a document add request.
func ValidateDocument(req *ingestion.DocumentRequest) error {
	errs := make(map[string]string)
	checkID(errs, req.ID)
	checkFields(errs, req.Fields)
	return result(errs)
}

// ValidateEvent checks that an event carries what its operation needs.
func ValidateEvent(ev *ingestion.IngestEvent) error {
	errs := make(map[string]string)
	checkID(errs, ev.DocumentID)
	switch ev.Op {
	case ingestion.OpAdd:
		checkFields(errs, ev.Fields)
	case ingestion.OpDelete:
	case ingestion.OpBoosts:
		if len(ev.Boosts) == 0 {
			errs["boosts"] = "boosts are required"
		}
	case ingestion.OpCategories:
		if len(ev.Categories) == 0 {
			errs["categories"] = "categories are required"
		}
	case ingestion.OpTimestamp:
		if ev.Timestamp <= 0 {
			errs["timestamp"] = "timestamp must be positive"
		}
	default:
		errs["op"] = fmt.Sprintf("unknown operation %q", ev.Op)
	}
	return result(errs)
}
