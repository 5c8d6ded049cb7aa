// Package xmldoc parses XML payloads into a small element tree that can be queried by tag name.
// Channel adapters use it instead of binding payloads to structs, so one malformed record
// never fails the whole unmarshal.
package xmldoc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Guizzs26/go-channel-sync/pkg/encoding"
)

// Node is one element of a parsed document
type Node struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Node
}

// Parse reads a whole document and returns its root element
func Parse(body []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = encoding.CharsetReader

	var root *Node
	var stack []*Node

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xml syntax: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name.Local}
			if len(t.Attr) > 0 {
				n.Attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					n.Attrs[a.Name.Local] = a.Value
				}
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("xml document has no root element")
	}
	return root, nil
}

// FindAll returns every descendant (depth-first) with the given tag, including n itself
func (n *Node) FindAll(tag string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	if strings.EqualFold(n.Name, tag) {
		out = append(out, n)
	}
	for _, c := range n.Children {
		out = append(out, c.FindAll(tag)...)
	}
	return out
}

// Find returns the first descendant with the given tag, or nil
func (n *Node) Find(tag string) *Node {
	if n == nil {
		return nil
	}
	if strings.EqualFold(n.Name, tag) {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(tag); found != nil {
			return found
		}
	}
	return nil
}

// Child returns the first direct child with the given tag, or nil
func (n *Node) Child(tag string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if strings.EqualFold(c.Name, tag) {
			return c
		}
	}
	return nil
}

// ChildText is the trimmed text of a direct child; "" when the child is missing
func (n *Node) ChildText(tag string) string {
	c := n.Child(tag)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text)
}

func (n *Node) Attr(name string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}
