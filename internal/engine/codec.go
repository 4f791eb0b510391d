package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/query"
)

// EncodeBody serializes a record payload for backends that store documents.
func EncodeBody(r *Record) ([]byte, error) {
	if r.Relationship != nil {
		return json.Marshal(r.Relationship)
	}
	return json.Marshal(r.Entity)
}

// DecodeBody rebuilds a record from its stored document.
func DecodeBody(group query.Group, seq int64, recordedAt time.Time, body []byte) (*Record, error) {
	rec := &Record{Seq: seq, RecordedAt: recordedAt}
	switch group {
	case query.Relationships:
		rec.Relationship = new(model.Relationship)
		if err := json.Unmarshal(body, rec.Relationship); err != nil {
			return nil, fmt.Errorf("decode relationship record %d: %w", seq, err)
		}
		rec.Relationship.RecordedAt = recordedAt
	default:
		rec.Entity = new(model.Entity)
		if err := json.Unmarshal(body, rec.Entity); err != nil {
			return nil, fmt.Errorf("decode entity record %d: %w", seq, err)
		}
		rec.Entity.RecordedAt = recordedAt
	}
	return rec, nil
}

// ClassificationColumn renders the live classification names as "|A|B|" so a
// substring test on "|Name|" is exact.
func ClassificationColumn(r *Record) string {
	names := LiveClassifications(r)
	if len(names) == 0 {
		return ""
	}
	return "|" + strings.Join(names, "|") + "|"
}

// LiveClassifications lists the names of the non-deleted classifications of
// an entity record, sorted.
func LiveClassifications(r *Record) []string {
	if r.Entity == nil {
		return nil
	}
	var names []string
	for _, c := range r.Entity.Classifications {
		if c.Status != model.StatusDeleted {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

// CheckBatch rejects malformed batches before a backend touches storage.
func CheckBatch(muts []Mutation) error {
	if len(muts) == 0 {
		return fmt.Errorf("engine: empty batch")
	}
	seen := map[string]bool{}
	for _, m := range muts {
		key := string(m.Group) + "/" + m.GUID
		if m.GUID == "" || seen[key] {
			return fmt.Errorf("engine: batch names %q twice or without a guid", m.GUID)
		}
		seen[key] = true
		if m.Entity != nil && m.Relationship != nil {
			return fmt.Errorf("engine: mutation %s carries two payloads", m.GUID)
		}
		if (m.Entity != nil && m.Group != query.Entities) || (m.Relationship != nil && m.Group != query.Relationships) {
			return fmt.Errorf("engine: mutation %s payload does not match group %s", m.GUID, m.Group)
		}
	}
	return nil
}
