package cfdi

import (
	"encoding/xml"
	"strings"
)

// node is a namespace-agnostic view of an XML element. Lookups ignore the
// namespace prefix and letter case so cfd:, cfdi: and bare names resolve
// alike across schema versions.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []node     `xml:",any"`
}

func (n *node) is(local string) bool {
	return strings.EqualFold(n.XMLName.Local, local)
}

func (n *node) attr(names ...string) string {
	for _, name := range names {
		for _, a := range n.Attrs {
			if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
				continue
			}
			if strings.EqualFold(a.Name.Local, name) {
				return strings.TrimSpace(a.Value)
			}
		}
	}
	return ""
}

func (n *node) child(local string) *node {
	for i := range n.Nodes {
		if n.Nodes[i].is(local) {
			return &n.Nodes[i]
		}
	}
	return nil
}

func (n *node) children(local string) []*node {
	var out []*node
	for i := range n.Nodes {
		if n.Nodes[i].is(local) {
			out = append(out, &n.Nodes[i])
		}
	}
	return out
}

// path walks direct children by local name. A nil receiver yields nil.
func (n *node) path(locals ...string) *node {
	cur := n
	for _, l := range locals {
		if cur == nil {
			return nil
		}
		cur = cur.child(l)
	}
	return cur
}

// find returns the first descendant with the given local name, depth first.
func (n *node) find(local string) *node {
	for i := range n.Nodes {
		if n.Nodes[i].is(local) {
			return &n.Nodes[i]
		}
		if found := n.Nodes[i].find(local); found != nil {
			return found
		}
	}
	return nil
}

func (n *node) attrMap() map[string]string {
	out := make(map[string]string, len(n.Attrs))
	for _, a := range n.Attrs {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" || a.Name.Space == "http://www.w3.org/2001/XMLSchema-instance" {
			continue
		}
		out[a.Name.Local] = a.Value
	}
	return out
}
