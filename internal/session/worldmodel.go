package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
)

// worldModel is the externally maintained frequent-paths map. The core
// only consumes it: the top paths feed the intent cache fingerprint.
type worldModel struct {
	Paths map[string]int `json:"paths"`
}

// topWorldPaths reads world_model.json under the state root and returns
// the n most frequent paths. Missing or corrupt files yield nil.
func topWorldPaths(root string, n int) []string {
	data, err := os.ReadFile(filepath.Join(root, "world_model.json"))
	if err != nil {
		return nil
	}
	var wm worldModel
	if err := json.Unmarshal(data, &wm); err != nil {
		return nil
	}

	type pathCount struct {
		path  string
		count int
	}
	all := make([]pathCount, 0, len(wm.Paths))
	for p, c := range wm.Paths {
		all = append(all, pathCount{p, c})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].path < all[j].path
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, len(all))
	for i, pc := range all {
		out[i] = pc.path
	}
	return out
}
