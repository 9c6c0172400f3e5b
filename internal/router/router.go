// Package router implements the Router external collaborator (spec §6):
// match(method, path) -> Option<(RouteSpec, path_params)>. It is a plain
// segment trie rather than a generic net/http mux, grounded on the
// method+pattern style the teacher's own controlplane handlers register
// against http.ServeMux ("GET /functions/{name}") — the same pattern
// syntax, but compiled ahead of time into a tree the Executor's caller
// walks directly instead of handing requests to net/http itself.
package router

import (
	"strings"

	"github.com/oriys/zerver/internal/executor"
)

// RouteSpec names one registered route and the Route the Executor runs
// for it.
type RouteSpec struct {
	Method  string
	Pattern string
	Route   executor.Route
}

type node struct {
	literal  map[string]*node
	param    *node
	paramName string
	wildcard *node
	routes   map[string]RouteSpec // method -> spec, for a node that terminates a pattern
}

func newNode() *node {
	return &node{literal: make(map[string]*node), routes: make(map[string]RouteSpec)}
}

// Table is a compiled set of (method, pattern) -> RouteSpec entries.
// The zero value is not usable; construct with New.
type Table struct {
	root *node
}

// New builds an empty Table.
func New() *Table {
	return &Table{root: newNode()}
}

// Register adds one route. pattern segments wrapped in braces ("{name}")
// bind a path parameter; a trailing "*" segment matches the remainder of
// the path as a single wildcard parameter named "*".
func (t *Table) Register(method, pattern string, spec RouteSpec) {
	spec.Method = method
	spec.Pattern = pattern
	segments := splitPath(pattern)

	cur := t.root
	for _, seg := range segments {
		switch {
		case seg == "*":
			if cur.wildcard == nil {
				cur.wildcard = newNode()
			}
			cur = cur.wildcard
		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
			name := seg[1 : len(seg)-1]
			if cur.param == nil {
				cur.param = newNode()
			}
			cur.param.paramName = name
			cur = cur.param
		default:
			child, ok := cur.literal[seg]
			if !ok {
				child = newNode()
				cur.literal[seg] = child
			}
			cur = child
		}
	}
	cur.routes[method] = spec
}

// Match looks up the RouteSpec registered for method+path, returning the
// path parameters bound along the way. ok is false if no route matches
// either the path shape or the method at a matching path.
func (t *Table) Match(method, path string) (spec RouteSpec, params map[string]string, ok bool) {
	segments := splitPath(path)
	params = make(map[string]string)
	found, ok := match(t.root, segments, method, params)
	if !ok {
		return RouteSpec{}, nil, false
	}
	return found, params, true
}

func match(n *node, segments []string, method string, params map[string]string) (RouteSpec, bool) {
	if len(segments) == 0 {
		spec, ok := n.routes[method]
		return spec, ok
	}

	seg, rest := segments[0], segments[1:]

	if child, ok := n.literal[seg]; ok {
		if spec, ok := match(child, rest, method, params); ok {
			return spec, true
		}
	}

	if n.param != nil {
		params[n.param.paramName] = seg
		if spec, ok := match(n.param, rest, method, params); ok {
			return spec, true
		}
		delete(params, n.param.paramName)
	}

	if n.wildcard != nil {
		params["*"] = strings.Join(segments, "/")
		if spec, ok := n.wildcard.routes[method]; ok {
			return spec, true
		}
		delete(params, "*")
	}

	return RouteSpec{}, false
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
