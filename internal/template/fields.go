package template

import (
	"slices"
	"strings"
	"text/template/parse"
)

// Literal escapes src so that it renders as itself.
func Literal(src string) string {
	return strings.ReplaceAll(src, "{{", `{{"{{"}}`)
}

// Fields returns the top-level keys the template reads, either as .name or
// as index . "name", sorted.
func (t *Input) Fields() []string {
	seen := map[string]bool{}
	walk(t.tmpl.Tree.Root, seen)
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func walk(n parse.Node, seen map[string]bool) {
	switch n := n.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walk(c, seen)
		}
	case *parse.ActionNode:
		walk(n.Pipe, seen)
	case *parse.IfNode:
		walkBranch(&n.BranchNode, seen)
	case *parse.RangeNode:
		walkBranch(&n.BranchNode, seen)
	case *parse.WithNode:
		walkBranch(&n.BranchNode, seen)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, c := range n.Cmds {
			walk(c, seen)
		}
	case *parse.CommandNode:
		if len(n.Args) == 3 {
			if id, ok := n.Args[0].(*parse.IdentifierNode); ok && id.Ident == "index" {
				if _, ok := n.Args[1].(*parse.DotNode); ok {
					if s, ok := n.Args[2].(*parse.StringNode); ok {
						seen[s.Text] = true
					}
				}
			}
		}
		for _, a := range n.Args {
			walk(a, seen)
		}
	case *parse.FieldNode:
		seen[n.Ident[0]] = true
	case *parse.ChainNode:
		walk(n.Node, seen)
	}
}

// walkBranch reads the pipeline and both lists. Fields inside range and with
// bodies are relative to a new dot, so they are only approximate.
func walkBranch(b *parse.BranchNode, seen map[string]bool) {
	walk(b.Pipe, seen)
	walk(b.List, seen)
	walk(b.ElseList, seen)
}
