package canvas

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestFingerprintIgnoresOrderAndSelection(t *testing.T) {
	a := Document{Elements: []Element{
		{ID: "a", Type: "rectangle", Version: 3},
		{ID: "b", Type: "ellipse", Version: 1},
	}}
	b := Document{
		Elements: []Element{
			{ID: "b", Type: "ellipse", Version: 1, Extra: map[string]interface{}{"selected": true}},
			{ID: "a", Type: "rectangle", Version: 3},
		},
		AppState: map[string]interface{}{"zoom": 2.0, "scrollX": 130.0},
	}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintIgnoresDeletedElements(t *testing.T) {
	a := Document{Elements: []Element{
		{ID: "a", Version: 1},
	}}
	b := Document{Elements: []Element{
		{ID: "a", Version: 1},
		{ID: "b", Version: 7, Deleted: true},
	}}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintTracksVersionAndMembership(t *testing.T) {
	base := Document{Elements: []Element{{ID: "a", Version: 1}}}

	bumped := Document{Elements: []Element{{ID: "a", Version: 2}}}
	assert.NotEqual(t, base.Fingerprint(), bumped.Fingerprint())

	grown := Document{Elements: []Element{{ID: "a", Version: 1}, {ID: "b", Version: 1}}}
	assert.NotEqual(t, base.Fingerprint(), grown.Fingerprint())

	empty := Document{Elements: []Element{}}
	assert.NotEqual(t, base.Fingerprint(), empty.Fingerprint())
}

func TestElementRoundTripsUnknownFields(t *testing.T) {
	raw := []byte(`{"id":"e1","type":"rectangle","x":10,"y":20,"width":100,"height":50,` +
		`"version":4,"isDeleted":false,"strokeColor":"#ff0000","roughness":1,"points":[[0,0],[1,2]]}`)

	var el Element
	assert.Equal(t, json.Unmarshal(raw, &el), nil)
	assert.Equal(t, el.ID, "e1")
	assert.Equal(t, el.Version, int64(4))
	assert.Equal(t, el.Extra["strokeColor"], "#ff0000")

	out, err := json.Marshal(el)
	assert.Equal(t, err, nil)

	var decoded map[string]interface{}
	assert.Equal(t, json.Unmarshal(out, &decoded), nil)
	assert.Equal(t, decoded["strokeColor"], "#ff0000")
	assert.Equal(t, decoded["roughness"], 1.0)
	assert.Equal(t, decoded["width"], 100.0)
}

func TestMergeKeepsLocalCopyWhenVersionUnchanged(t *testing.T) {
	local := []Element{
		{ID: "a", Version: 2, Extra: map[string]interface{}{"boundTextCache": "warm"}},
		{ID: "b", Version: 1},
	}
	remote := []Element{
		{ID: "a", Version: 2},
		{ID: "b", Version: 3, X: 50},
		{ID: "c", Version: 1},
	}

	merged, refreshed := Merge(local, remote)
	assert.Equal(t, len(merged), 3)
	assert.Equal(t, merged[0].Extra["boundTextCache"], "warm")
	assert.Equal(t, merged[1].X, 50.0)
	assert.Equal(t, refreshed, []string{"b", "c"})
}

func TestMergeDropsElementsAbsentFromRemote(t *testing.T) {
	local := []Element{{ID: "a", Version: 1}, {ID: "gone", Version: 5}}
	remote := []Element{{ID: "a", Version: 1}}

	merged, refreshed := Merge(local, remote)
	assert.Equal(t, len(merged), 1)
	assert.Equal(t, merged[0].ID, "a")
	assert.Equal(t, len(refreshed), 0)
}
