package memory

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// fencedThreshold is the character length above which a scalar string
// leaf is rendered as a fenced code block instead of a backtick-quoted
// inline span (spec §4.5 stage 1 format contract).
const fencedThreshold = 60

// RenderMarkdown renders the stage-1 format contract: each shard becomes
// a heading "## 记忆 [i]: <path>" followed by a recursive bullet dump of
// its payload. Missing/empty shard lists contribute nothing.
func RenderMarkdown(shards []*Shard, paths []string) string {
	var sb strings.Builder
	for i, shard := range shards {
		if shard == nil {
			continue
		}
		path := shard.Category + "." + shard.Key
		if i < len(paths) && paths[i] != "" {
			path = paths[i]
		}
		fmt.Fprintf(&sb, "## 记忆 [%d]: %s\n", i, path)
		sb.WriteString(renderValue(shard.Payload, 0))
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderValue recursively dumps a payload value as markdown bullets:
// maps as "- **key**: …", lists as "- [i]: …", leaves as backtick-quoted
// scalars (or fenced blocks for long/backtick-bearing strings).
func renderValue(v any, depth int) string {
	indent := strings.Repeat("  ", depth)
	switch value := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for _, k := range keys {
			sb.WriteString(indent)
			sb.WriteString("- **")
			sb.WriteString(k)
			sb.WriteString("**: ")
			sb.WriteString(renderInline(value[k], depth))
		}
		return sb.String()
	case []any:
		var sb strings.Builder
		for i, item := range value {
			sb.WriteString(indent)
			sb.WriteString("- [")
			sb.WriteString(strconv.Itoa(i))
			sb.WriteString("]: ")
			sb.WriteString(renderInline(item, depth))
		}
		return sb.String()
	default:
		return indent + "- " + renderLeaf(value) + "\n"
	}
}

// renderInline decides, for a map/list/leaf nested under a bullet,
// whether to recurse onto new indented lines or render inline on the
// same line as the bullet.
func renderInline(v any, depth int) string {
	switch value := v.(type) {
	case map[string]any, []any:
		_ = value
		return "\n" + renderValue(v, depth+1)
	default:
		return renderLeaf(value) + "\n"
	}
}

// renderLeaf renders a scalar leaf: backtick-quoted unless it is a long
// or backtick-bearing string, in which case it is fenced.
func renderLeaf(v any) string {
	s, ok := v.(string)
	if !ok {
		return "`" + fmt.Sprintf("%v", v) + "`"
	}
	if len(s) > fencedThreshold || strings.Contains(s, "`") {
		return "\n```\n" + s + "\n```\n"
	}
	return "`" + s + "`"
}
