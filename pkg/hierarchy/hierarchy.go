// Package hierarchy detects parent/child structure in a batch of input
// records via their `uid`/`Parent` fields and arranges them into
// creation-order levels, so the bulk engine can create parents before
// the children that reference them.
package hierarchy

import (
	"fmt"
	"strconv"
	"strings"

	jmlerrors "github.com/jira-magic-library/jml/pkg/errors"
)

// Node is one record in the hierarchy graph, held by slice index rather
// than by pointer: the graph is an index-based arena, and edges are
// recorded as indices into records, not linked nodes.
type Node struct {
	Index     int
	UID       string
	ParentUID string // empty when Parent is absent or not a known UID
	Level     int
}

// HierarchyLevel is one creation wave: every record in a level can be
// built concurrently once every prior level's UIDs are resolved.
type HierarchyLevel struct {
	Level   int
	Indices []int
}

// UIDMap tracks UID -> created JIRA issue key as the bulk engine
// advances through levels. It is intentionally a plain map the caller
// mutates directly; pkg/hierarchy only builds and reads it during
// preprocessing.
type UIDMap map[string]string

// Result is the outcome of preprocessing a batch of records.
type Result struct {
	HasHierarchy bool
	Levels       []HierarchyLevel
	UIDMap       UIDMap
	KnownUIDs    map[string]bool
	nodes        []Node
}

// Preprocess inspects records for a `uid` field and, if present in any
// row, builds the level graph. Records without a `uid` field still get
// a node and a level (level 0, or one below a known Parent UID), but
// cannot be referenced as a parent (HasHierarchy stays false if no row
// has one).
func Preprocess(records []map[string]any) (*Result, error) {
	uids := make([]string, len(records))
	hasAny := false

	seenAt := map[string]int{}
	for i, rec := range records {
		uid, ok := extractUID(rec)
		if !ok {
			continue
		}
		hasAny = true
		if prior, dup := seenAt[uid]; dup {
			return nil, jmlerrors.Validation(
				fmt.Sprintf("duplicate uid %q at rows %d and %d", uid, prior, i),
				nil,
			)
		}
		seenAt[uid] = i
		uids[i] = uid
	}

	if !hasAny {
		return &Result{HasHierarchy: false, UIDMap: UIDMap{}, KnownUIDs: map[string]bool{}}, nil
	}

	knownUIDs := make(map[string]bool, len(seenAt))
	for uid := range seenAt {
		knownUIDs[uid] = true
	}

	nodes := make([]Node, len(records))
	for i, rec := range records {
		parent, _ := rec["Parent"].(string)
		parent = strings.TrimSpace(parent)
		nodes[i] = Node{Index: i, UID: uids[i], Level: -1}
		if _, isUIDParent := seenAt[parent]; isUIDParent {
			nodes[i].ParentUID = parent
		}
	}

	if err := assignLevels(nodes); err != nil {
		return nil, err
	}

	maxLevel := 0
	for _, n := range nodes {
		if n.Level > maxLevel {
			maxLevel = n.Level
		}
	}
	levels := make([]HierarchyLevel, maxLevel+1)
	for l := range levels {
		levels[l].Level = l
	}
	for _, n := range nodes {
		levels[n.Level].Indices = append(levels[n.Level].Indices, n.Index)
	}

	return &Result{
		HasHierarchy: true,
		Levels:       levels,
		UIDMap:       UIDMap{},
		KnownUIDs:    knownUIDs,
		nodes:        nodes,
	}, nil
}

// assignLevels runs a fixed-point pass: level 0 is every node with no
// UID-parent; level L+1 is every node whose parent already has a level
// assigned at L. A node still unresolved after len(nodes) passes sits on
// a cycle.
func assignLevels(nodes []Node) error {
	byUID := make(map[string]int, len(nodes))
	for i, n := range nodes {
		byUID[n.UID] = i
	}

	remaining := len(nodes)
	for pass := 0; pass < len(nodes)+1 && remaining > 0; pass++ {
		progressed := false
		for i := range nodes {
			if nodes[i].Level != -1 {
				continue
			}
			if nodes[i].ParentUID == "" {
				nodes[i].Level = 0
				remaining--
				progressed = true
				continue
			}
			parentIdx, ok := byUID[nodes[i].ParentUID]
			if !ok {
				// Parent string didn't resolve to a known UID; treated
				// as an existing JIRA key passthrough, so this row has
				// no dependency and is level 0.
				nodes[i].Level = 0
				remaining--
				progressed = true
				continue
			}
			if nodes[parentIdx].Level != -1 {
				nodes[i].Level = nodes[parentIdx].Level + 1
				remaining--
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	if remaining > 0 {
		var stuck []string
		for _, n := range nodes {
			if n.Level == -1 {
				stuck = append(stuck, n.UID)
			}
		}
		return jmlerrors.Validation(
			fmt.Sprintf("cycle detected among uids: %s", strings.Join(stuck, ", ")),
			nil,
		)
	}
	return nil
}

func extractUID(rec map[string]any) (string, bool) {
	raw, ok := rec["uid"]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return "", false
		}
		return v, true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatInt(int64(v), 10), true
	default:
		return "", false
	}
}

// ResolveParent substitutes rec's Parent value with its resolved JIRA
// key from uidMap when Parent refers to a known UID. ok is false when
// Parent names a tracked UID that has not been resolved yet (the
// caller should treat this row as blocked). A Parent value that was
// never a tracked UID at all passes through unchanged as a literal
// JIRA key.
func ResolveParent(rec map[string]any, knownUIDs map[string]bool, uidMap UIDMap) (string, bool) {
	parent, _ := rec["Parent"].(string)
	parent = strings.TrimSpace(parent)
	if parent == "" {
		return "", true
	}
	if !knownUIDs[parent] {
		return parent, true
	}
	key, resolved := uidMap[parent]
	return key, resolved
}
