package google

import (
	"fmt"
	"strings"

	"github.com/houfu/lavender-ledger/internal/core"
)

// parseCategories turns a values matrix into categories. Column A is the
// name, column B the optional kind. A first row reading "Name" is a header.
// Blank rows, "#" comments and repeated names are skipped.
func parseCategories(values [][]interface{}) []core.Category {
	var out []core.Category
	seen := map[string]struct{}{}
	for i, row := range values {
		cells := toStrings(row)
		name := safeGet(cells, 0)
		if i == 0 && strings.EqualFold(name, "name") {
			continue
		}
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, core.Category{Name: name, Kind: strings.ToLower(safeGet(cells, 1))})
	}
	return out
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx >= 0 && idx < len(arr) {
		return arr[idx]
	}
	return ""
}
