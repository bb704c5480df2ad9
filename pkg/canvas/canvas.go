// Package canvas holds the shared drawing document model: elements with
// stable identity and per-element version counters, plus the content
// fingerprint used to tell real edits apart from selection noise.
package canvas

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Element is one drawable item. Only the fields the sync engine cares about
// are typed; everything else the widget puts on an element round-trips
// through Extra untouched.
type Element struct {
	ID      string
	Type    string
	X       float64
	Y       float64
	Width   float64
	Height  float64
	Version int64
	Deleted bool
	Extra   map[string]interface{}
}

// Document is the full canvas state for one session.
type Document struct {
	Elements []Element              `json:"elements"`
	AppState map[string]interface{} `json:"appState,omitempty"`
}

// knownKeys are the element fields lifted out of the raw JSON object.
// Everything else stays in Extra.
var knownKeys = map[string]struct{}{
	"id": {}, "type": {}, "x": {}, "y": {}, "width": {}, "height": {},
	"version": {}, "isDeleted": {},
}

func (e Element) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.Extra)+8)
	for k, v := range e.Extra {
		if _, known := knownKeys[k]; known {
			continue
		}
		out[k] = v
	}
	out["id"] = e.ID
	out["type"] = e.Type
	out["x"] = e.X
	out["y"] = e.Y
	out["width"] = e.Width
	out["height"] = e.Height
	out["version"] = e.Version
	out["isDeleted"] = e.Deleted
	return json.Marshal(out)
}

func (e *Element) UnmarshalJSON(data []byte) error {
	raw := map[string]interface{}{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode element: %w", err)
	}
	if v, ok := raw["id"].(string); ok {
		e.ID = v
	}
	if v, ok := raw["type"].(string); ok {
		e.Type = v
	}
	if v, ok := raw["x"].(float64); ok {
		e.X = v
	}
	if v, ok := raw["y"].(float64); ok {
		e.Y = v
	}
	if v, ok := raw["width"].(float64); ok {
		e.Width = v
	}
	if v, ok := raw["height"].(float64); ok {
		e.Height = v
	}
	if v, ok := raw["version"].(float64); ok {
		e.Version = int64(v)
	}
	if v, ok := raw["isDeleted"].(bool); ok {
		e.Deleted = v
	}
	for k := range knownKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		e.Extra = raw
	} else {
		e.Extra = nil
	}
	return nil
}

// Fingerprint summarizes the content of the document as the sorted join of
// id:version pairs over non-deleted elements. Selection and viewport state
// never contribute, so two documents with equal fingerprints are
// content-identical even when their appState or soft-deleted elements differ.
func (d Document) Fingerprint() string {
	parts := make([]string, 0, len(d.Elements))
	for _, el := range d.Elements {
		if el.Deleted {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%d", el.ID, el.Version))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// Clone returns a deep-enough copy for handing a document across goroutine
// boundaries: the element slice is copied, Extra maps are shared read-only.
func (d Document) Clone() Document {
	out := Document{AppState: d.AppState}
	if d.Elements != nil {
		out.Elements = make([]Element, len(d.Elements))
		copy(out.Elements, d.Elements)
	}
	return out
}

// Empty returns a well-formed document with no elements.
func Empty() Document {
	return Document{Elements: []Element{}}
}
