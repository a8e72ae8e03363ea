// Package resolver implements the Plan Runner's reference resolution:
// substituting `${...}` placeholders in a value tree against a scope of
// vars, env, config, and node outputs. Shaped after the teacher's
// cmd/workflow-runner/resolver/resolver.go (recursive resolveValue /
// resolveMap / resolveArray / resolveString, tidwall/gjson for path
// extraction) generalized from the teacher's single "$nodes." namespace to
// the four namespaces of spec.md §4.2, and from the teacher's
// always-stringify rule to the sole-vs-embedded substitution rule.
package resolver

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lyzr/planrunner/common/planerr"
)

var placeholderRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// pendingType is the sentinel returned in place of a value whose reference
// cannot yet be resolved, when the caller opted into deferral (spec.md
// §4.2: "a sentinel Pending is returned and the node is re-queued").
type pendingType struct{}

func (pendingType) String() string { return "<pending>" }

// Pending is the well-known sentinel value. Compare with IsPending.
var Pending any = pendingType{}

// IsPending reports whether v is the Pending sentinel.
func IsPending(v any) bool {
	_, ok := v.(pendingType)
	return ok
}

// errPending is used internally to unwind out of recursive resolution
// without allocating a wrapped planerr.Error for the common deferral path.
var errPending = fmt.Errorf("resolver: reference pending")

// Scope supplies the four placeholder namespaces (spec.md §4.2). Outputs
// must distinguish "node id is not part of the graph" (ok=false, a
// validation-time error) from "node id is known but has no output yet"
// (ok=true, value=nil — resolved as Pending when deferral is allowed).
type Scope struct {
	Vars   map[string]any
	Env    func(key string) (string, bool)
	Config func(path string) (any, bool)
	// Outputs looks up the full output map previously recorded for a node
	// id. ok reports whether nodeID is a known node in the graph at all.
	Outputs func(nodeID string) (out map[string]any, ok bool)
}

// Resolver walks a value tree substituting placeholders against a Scope.
type Resolver struct{}

// New constructs a Resolver. Resolver carries no state of its own; every
// call takes the Scope to resolve against, mirroring the teacher's
// per-call runID parameter.
func New() *Resolver { return &Resolver{} }

// Resolve walks value, substituting every `${...}` placeholder it contains.
// When allowPending is true, a placeholder that names a known-but-not-yet-
// produced node output resolves the whole call to Pending instead of
// returning an error; this is the scheduler's deferral check (spec.md
// §4.2, §4.7.2).
func (r *Resolver) Resolve(scope Scope, value any, allowPending bool) (any, error) {
	out, err := r.resolveValue(scope, value, allowPending)
	if err == errPending {
		return Pending, nil
	}
	return out, err
}

func (r *Resolver) resolveValue(scope Scope, value any, allowPending bool) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(scope, v, allowPending)
	case map[string]any:
		return r.resolveMap(scope, v, allowPending)
	case []any:
		return r.resolveArray(scope, v, allowPending)
	default:
		return value, nil
	}
}

func (r *Resolver) resolveMap(scope Scope, m map[string]any, allowPending bool) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		rv, err := r.resolveValue(scope, v, allowPending)
		if err != nil {
			return nil, err
		}
		out[k] = rv
	}
	return out, nil
}

func (r *Resolver) resolveArray(scope Scope, a []any, allowPending bool) ([]any, error) {
	out := make([]any, len(a))
	for i, v := range a {
		rv, err := r.resolveValue(scope, v, allowPending)
		if err != nil {
			return nil, err
		}
		out[i] = rv
	}
	return out, nil
}

// resolveString implements the sole-vs-embedded rule: a string that is
// exactly one placeholder and nothing else substitutes with its native
// type; any other string has every placeholder it contains stringified and
// interpolated in place.
func (r *Resolver) resolveString(scope Scope, s string, allowPending bool) (any, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		expr := s[matches[0][2]:matches[0][3]]
		return r.lookup(scope, expr, allowPending)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end, exprStart, exprEnd := m[0], m[1], m[2], m[3]
		b.WriteString(s[last:start])
		val, err := r.lookup(scope, s[exprStart:exprEnd], allowPending)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(val))
		last = end
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

// Lookup resolves a single dotted expression ("vars.x", "node_a.result.0")
// against scope without the sole-vs-embedded string handling — used by
// common/guard to resolve bare identifier paths in guard expressions.
func (r *Resolver) Lookup(scope Scope, expr string, allowPending bool) (any, error) {
	v, err := r.lookup(scope, expr, allowPending)
	if err == errPending {
		return Pending, nil
	}
	return v, err
}

// lookup resolves one placeholder's inner expression ("vars.x",
// "env.HOME", "config.retries.max", "node_a.result.items.0") against scope.
func (r *Resolver) lookup(scope Scope, expr string, allowPending bool) (any, error) {
	namespace, path, _ := strings.Cut(expr, ".")

	switch namespace {
	case "vars":
		v, ok := lookupPath(scope.Vars, path)
		if !ok {
			return nil, planerr.New(planerr.CodeUnresolvedReference, fmt.Sprintf("unresolved reference ${%s}", expr))
		}
		return v, nil

	case "env":
		if scope.Env == nil || path == "" {
			return nil, planerr.New(planerr.CodeEnvKeyMissing, fmt.Sprintf("unresolved reference ${%s}", expr))
		}
		v, ok := scope.Env(path)
		if !ok {
			return nil, planerr.New(planerr.CodeEnvKeyMissing, fmt.Sprintf("environment key %q is not set", path))
		}
		return v, nil

	case "config":
		if scope.Config == nil || path == "" {
			return nil, planerr.New(planerr.CodeConfigKeyMissing, fmt.Sprintf("unresolved reference ${%s}", expr))
		}
		v, ok := scope.Config(path)
		if !ok {
			return nil, planerr.New(planerr.CodeConfigKeyMissing, fmt.Sprintf("config key %q is not set", path))
		}
		return v, nil

	default:
		return r.lookupNode(scope, namespace, path, expr, allowPending)
	}
}

func (r *Resolver) lookupNode(scope Scope, nodeID, path, expr string, allowPending bool) (any, error) {
	if scope.Outputs == nil {
		return nil, planerr.New(planerr.CodeUnresolvedReference, fmt.Sprintf("unresolved reference ${%s}", expr)).WithNode(nodeID)
	}
	out, known := scope.Outputs(nodeID)
	if !known {
		return nil, planerr.New(planerr.CodeUnresolvedReference, fmt.Sprintf("%q is not a known node, var, env, or config reference", nodeID))
	}
	if out == nil {
		if allowPending {
			return nil, errPending
		}
		return nil, planerr.New(planerr.CodeUnresolvedReference, fmt.Sprintf("unresolved reference ${%s}", expr)).WithNode(nodeID)
	}
	if path == "" {
		return out, nil
	}
	v, ok := lookupPath(out, path)
	if !ok {
		if allowPending {
			return nil, errPending
		}
		return nil, planerr.New(planerr.CodeUnresolvedReference, fmt.Sprintf("unresolved reference ${%s}", expr)).WithNode(nodeID)
	}
	return v, nil
}

// lookupPath extracts path from root (a map or slice tree). It walks
// map[string]any / []any directly so the value keeps its native Go type,
// matching each key case-sensitively first and then case-insensitively to
// tolerate serialization variance (spec.md §4.2). Trees of other Go types
// fall back to gjson over their JSON encoding, whose numbers come back as
// float64.
func lookupPath(root any, path string) (any, bool) {
	if path == "" {
		return root, true
	}

	if v, ok := lookupPathCaseInsensitive(root, strings.Split(path, ".")); ok {
		return v, true
	}

	data, err := json.Marshal(root)
	if err == nil {
		res := gjson.GetBytes(data, path)
		if res.Exists() {
			return res.Value(), true
		}
	}
	return nil, false
}

func lookupPathCaseInsensitive(cur any, segments []string) (any, bool) {
	for _, seg := range segments {
		switch c := cur.(type) {
		case map[string]any:
			if v, ok := c[seg]; ok {
				cur = v
				continue
			}
			found := false
			for k, v := range c {
				if strings.EqualFold(k, seg) {
					cur, found = v, true
					break
				}
			}
			if !found {
				return nil, false
			}
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			cur = c[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
