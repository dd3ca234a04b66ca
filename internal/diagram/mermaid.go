package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a Model as a Mermaid flowchart string. Sequential
// steps are chained; each child container becomes a subgraph entered from
// its parent.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	prev := ""
	if model.Trigger != nil {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(model.Trigger))
		prev = mermaidSafeID(model.Trigger.ID)
	}
	writeSequence(&b, "    ", prev, "", model.Nodes)

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	if model.Trigger != nil {
		writeClass(&b, model.Trigger)
	}
	walk(model.Nodes, func(n *Node) { writeClass(&b, n) })
	return b.String()
}

// writeSequence writes nodes in order, linking each to the previous one.
// The first link carries label, if any.
func writeSequence(b *strings.Builder, indent, prev, label string, nodes []*Node) {
	for _, node := range nodes {
		id := mermaidSafeID(node.ID)
		fmt.Fprintf(b, "%s%s\n", indent, mermaidNodeDef(node))
		if prev != "" {
			fmt.Fprintf(b, "%s%s -->%s %s\n", indent, prev, edgeLabel(label), id)
		}
		label = ""

		for _, sg := range node.Children {
			fmt.Fprintf(b, "%ssubgraph %s[\"%s\"]\n", indent, mermaidSafeID(node.ID+"_"+sg.Label), sg.Label)
			writeSequence(b, indent+"    ", id, sg.Label, sg.Nodes)
			fmt.Fprintf(b, "%send\n", indent)
		}
		prev = id
	}
}

func edgeLabel(label string) string {
	if label == "" {
		return ""
	}
	return fmt.Sprintf("|%s|", label)
}

func writeClass(b *strings.Builder, node *Node) {
	if node.Status == nil {
		return
	}
	if cls := mermaidStatusClass(node.Status.Status); cls != "" {
		fmt.Fprintf(b, "    class %s %s\n", mermaidSafeID(node.ID), cls)
	}
}

// walk visits nodes depth-first in execution order.
func walk(nodes []*Node, fn func(*Node)) {
	for _, n := range nodes {
		fn(n)
		for _, sg := range n.Children {
			walk(sg.Nodes, fn)
		}
	}
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := firstLine(node.Label)

	switch node.Kind {
	case NodeKindConditional:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindLoop:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindTrigger:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return "n_" + r.Replace(id)
}

func mermaidStatusClass(status string) string {
	switch status {
	case "completed", "failed", "running", "pending", "skipped":
		return status
	default:
		return ""
	}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
