package diagram

import (
	"fmt"
	"strings"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case "completed":
		return "[OK]"
	case "failed":
		return "[FAIL]"
	case "running":
		return "[RUN]"
	case "skipped":
		return "[SKIP]"
	case "pending":
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a Model as an indented outline, one step per line.
func RenderASCII(model *Model) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}
	if model.Trigger != nil {
		fmt.Fprintf(&b, "trigger: %s%s\n", firstLine(model.Trigger.Label), overlayText(model.Trigger.Status))
	} else {
		b.WriteString("trigger: (none)\n")
	}
	writeOutline(&b, "", model.Nodes)
	return b.String()
}

func writeOutline(b *strings.Builder, indent string, nodes []*Node) {
	for i, node := range nodes {
		fmt.Fprintf(b, "%s%d. %s%s\n", indent, i+1, nodeText(node), overlayText(node.Status))
		for _, sg := range node.Children {
			fmt.Fprintf(b, "%s   [%s]\n", indent, sg.Label)
			writeOutline(b, indent+"     ", sg.Nodes)
		}
	}
}

func nodeText(node *Node) string {
	label := strings.ReplaceAll(node.Label, "\n", " ")
	switch node.Kind {
	case NodeKindConditional:
		return "if " + label
	case NodeKindLoop:
		return "loop " + label
	default:
		return label
	}
}

func overlayText(ov *StatusOverlay) string {
	if ov == nil {
		return ""
	}
	var parts []string
	if tag := statusTag(ov.Status); tag != "" {
		parts = append(parts, tag)
	}
	if ov.Executions > 1 {
		parts = append(parts, fmt.Sprintf("x%d", ov.Executions))
	}
	if ov.DurationMs > 0 {
		parts = append(parts, fmt.Sprintf("%dms", ov.DurationMs))
	}
	if ov.Error != "" {
		parts = append(parts, ov.Error)
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, " ")
}
