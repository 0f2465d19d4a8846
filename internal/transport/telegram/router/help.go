package router

import (
	"strings"
)

// helpText renders plain-text help for the whole tree or for one command.
func (m *Router) helpText(args []string) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if len(args) == 0 {
		return helpTop(root)
	}
	node, path, _ := root.resolve(args)
	if node == nil {
		if leaf, ok := alias[strings.ToLower(strings.TrimPrefix(args[0], "/"))]; ok {
			node, path = leaf, splitRoute(leaf.cmd.Route)
		}
	}
	if node == nil {
		return "Unknown command. Send /help for the list."
	}
	return helpNode(node, path)
}

func helpTop(root *cmdNode) string {
	lines := []string{"Commands:"}
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		if n.cmd != nil && n.cmd.Hidden {
			continue
		}
		line := "/" + name
		if d := describe(n); d != "" {
			line += " - " + d
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "You can also paste post links directly to start a job.")
	return strings.Join(lines, "\n")
}

func helpNode(n *cmdNode, path []string) string {
	lines := []string{"/" + strings.Join(path, " ")}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			lines = append(lines, d)
		}
		if u := strings.TrimSpace(n.cmd.Usage); u != "" {
			lines = append(lines, "Usage: "+u)
		}
		if len(n.cmd.Aliases) > 0 {
			lines = append(lines, "Aliases: /"+strings.Join(n.cmd.Aliases, ", /"))
		}
	}
	for _, name := range n.childNames() {
		child, _ := n.child(name)
		line := "  " + strings.Join(append(append([]string(nil), path...), name), " ")
		if d := describe(child); d != "" {
			line += " - " + d
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func describe(n *cmdNode) string {
	if n.cmd != nil {
		return strings.TrimSpace(n.cmd.Description)
	}
	return "subcommands: " + strings.Join(n.childNames(), ", ")
}
