package storage

import (
	"encoding/json"
	"math"
	"strconv"
)

// ID returns the numeric id of the document, accepting the shapes JSON
// decoding and callers produce.
func (d Document) ID() (int64, bool) {
	switch v := d["id"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Clone returns a deep copy through a JSON round trip so stored documents
// never alias caller maps.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		out := make(Document, len(d))
		for k, v := range d {
			out[k] = v
		}
		return out
	}
	var out Document
	_ = json.Unmarshal(raw, &out)
	return out
}

// WithID returns a copy of d whose "id" is set to id.
func (d Document) WithID(id int64) Document {
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	out["id"] = id
	return out
}

// Merge returns a copy of d with the top-level keys of patch applied. The id
// is never changed by a patch.
func (d Document) Merge(patch Document) Document {
	out := d.Clone()
	id := out["id"]
	for k, v := range patch.Clone() {
		out[k] = v
	}
	out["id"] = id
	return out
}

// NextDocumentID returns max(id)+1 over docs, starting at 1.
func NextDocumentID(docs []Document) int64 {
	var last int64
	for _, doc := range docs {
		if id, ok := doc.ID(); ok && id > last {
			last = id
		}
	}
	return last + 1
}
