package expression

import (
	"slices"
	"strconv"

	"github.com/dukex/canvasflow/pkg/compare"
	"github.com/dukex/canvasflow/pkg/models"
)

const (
	describeDepth = 4
	previewLimit  = 40
)

// Describe lists every addressable path of a node payload for the template picker.
// Arrays are described through their first element and their length.
func Describe(nodeName, nodeID string, payload any) models.VariableGroup {
	base := RootSentinel + nodeID
	if nodeName != "" {
		base = RootSentinel + nodeName + "#" + nodeID
	}

	group := models.VariableGroup{NodeID: nodeID, NodeName: nodeName}
	describe(&group.Variables, "", base, payload, 0)

	return group
}

func describe(out *[]models.Variable, key, path string, v any, depth int) {
	if key != "" {
		*out = append(*out, models.Variable{
			Key:     key,
			Path:    path,
			Type:    compare.InferKind(v).String(),
			Preview: preview(v),
		})
	}

	if depth >= describeDepth {
		return
	}

	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}

		slices.Sort(keys)

		for _, k := range keys {
			describe(out, k, path+"."+k, t[k], depth+1)
		}
	case []any:
		*out = append(*out, models.Variable{
			Key:     "length",
			Path:    path + ".length",
			Type:    compare.KindNumber.String(),
			Preview: strconv.Itoa(len(t)),
		})

		if len(t) > 0 {
			describe(out, "[0]", path+"[0]", t[0], depth+1)
		}
	}
}

func preview(v any) string {
	s := []rune(compare.Stringify(v))
	if len(s) > previewLimit {
		return string(s[:previewLimit-1]) + "…"
	}

	return string(s)
}
