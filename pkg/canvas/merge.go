package canvas

// Merge folds a remote element list into the locally known one. The remote
// side is authoritative for membership, but for any element whose remote
// version did not advance past the local copy we keep the local element so
// that rendering metadata the widget attached to it survives the merge.
// The returned ids name the elements that were actually refreshed from the
// remote side.
func Merge(local []Element, remote []Element) ([]Element, []string) {
	byID := make(map[string]Element, len(local))
	for _, el := range local {
		byID[el.ID] = el
	}
	merged := make([]Element, 0, len(remote))
	refreshed := make([]string, 0)
	for _, rel := range remote {
		if lel, ok := byID[rel.ID]; ok && lel.Version >= rel.Version {
			merged = append(merged, lel)
			continue
		}
		merged = append(merged, rel)
		refreshed = append(refreshed, rel.ID)
	}
	return merged, refreshed
}
