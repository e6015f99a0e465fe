// Package diff implements spec.md §4.3's streaming diff engine: a
// pre-order walk over two VFS node trees yielding Added/Removed/Modified
// events, plus a unified line diff for UTF-8 leaves. Grounded on the
// teacher's modules/zeta diff/merge tree-walking pattern
// (pkg/zeta/object tree comparison), generalised from raw Git entries to
// polymorphic vfs.Node so stage-run subtrees diff the same way base trees
// do.
package diff

import (
	"context"
	"sort"
	"unicode/utf8"

	"github.com/stagegraph/stagegraph/internal/vfs"
)

// EventKind is one of Event ∈ {Added, Removed, Modified} from spec.md §4.3.
type EventKind int

const (
	Added EventKind = iota
	Removed
	Modified
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "ADDED"
	case Removed:
		return "REMOVED"
	case Modified:
		return "MODIFIED"
	default:
		return "UNKNOWN"
	}
}

// Event is one diff record at a path.
type Event struct {
	Kind    EventKind
	Path    string
	Before  vfs.Node // nil for Added
	After   vfs.Node // nil for Removed
}

// DiffCommits walks before and after's VFS roots in lockstep and emits
// Events in stable pre-order by sorted name (spec.md §4.3's "yield order
// must be a stable pre-order walk by sorted name").
func DiffCommits(ctx context.Context, before, after vfs.Node) ([]Event, error) {
	var events []Event
	if err := diffNodes(ctx, before, after, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func diffNodes(ctx context.Context, before, after vfs.Node, events *[]Event) error {
	if before == nil && after == nil {
		return nil
	}
	if before == nil {
		return emitAdded(ctx, after, events)
	}
	if after == nil {
		return emitRemoved(ctx, before, events)
	}

	beforeIsLeaf := isLeaf(before)
	afterIsLeaf := isLeaf(after)

	if beforeIsLeaf && afterIsLeaf {
		bc, err := before.Content(ctx)
		if err != nil {
			return err
		}
		ac, err := after.Content(ctx)
		if err != nil {
			return err
		}
		if bc == nil || ac == nil || bc.Hash != ac.Hash {
			*events = append(*events, Event{Kind: Modified, Path: after.Path(), Before: before, After: after})
		}
		return nil
	}

	if beforeIsLeaf != afterIsLeaf {
		if err := emitRemoved(ctx, before, events); err != nil {
			return err
		}
		return emitAdded(ctx, after, events)
	}

	return diffChildren(ctx, before, after, events)
}

func diffChildren(ctx context.Context, before, after vfs.Node, events *[]Event) error {
	beforeChildren, err := before.Children(ctx)
	if err != nil {
		return err
	}
	afterChildren, err := after.Children(ctx)
	if err != nil {
		return err
	}

	beforeByName := make(map[string]vfs.Node, len(beforeChildren))
	for _, c := range beforeChildren {
		beforeByName[c.Name] = c.Node
	}
	afterByName := make(map[string]vfs.Node, len(afterChildren))
	for _, c := range afterChildren {
		afterByName[c.Name] = c.Node
	}

	names := make(map[string]struct{}, len(beforeChildren)+len(afterChildren))
	for _, c := range beforeChildren {
		names[c.Name] = struct{}{}
	}
	for _, c := range afterChildren {
		names[c.Name] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		b := beforeByName[name]
		a := afterByName[name]
		if err := diffNodes(ctx, b, a, events); err != nil {
			return err
		}
	}
	return nil
}

func emitAdded(ctx context.Context, n vfs.Node, events *[]Event) error {
	if isLeaf(n) {
		*events = append(*events, Event{Kind: Added, Path: n.Path(), After: n})
		return nil
	}
	*events = append(*events, Event{Kind: Added, Path: n.Path(), After: n})
	children, err := n.Children(ctx)
	if err != nil {
		return err
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	for _, c := range children {
		if err := emitAdded(ctx, c.Node, events); err != nil {
			return err
		}
	}
	return nil
}

func emitRemoved(ctx context.Context, n vfs.Node, events *[]Event) error {
	if isLeaf(n) {
		*events = append(*events, Event{Kind: Removed, Path: n.Path(), Before: n})
		return nil
	}
	*events = append(*events, Event{Kind: Removed, Path: n.Path(), Before: n})
	children, err := n.Children(ctx)
	if err != nil {
		return err
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	for _, c := range children {
		if err := emitRemoved(ctx, c.Node, events); err != nil {
			return err
		}
	}
	return nil
}

func isLeaf(n vfs.Node) bool {
	return n.Kind() == vfs.KindBlob || n.Kind() == vfs.KindStageFile
}

// LineKind is a DiffLine's kind∈{add,remove,context} from spec.md §4.3.
type LineKind int

const (
	Context LineKind = iota
	Add
	Remove
)

// DiffLine is one line of the unified text view for a Modified event.
type DiffLine struct {
	OldNo   int // 0 if not present on the before side
	NewNo   int // 0 if not present on the after side
	Content string
	Kind    LineKind
}

// UnifiedText produces the DiffLine sequence for a Modified event's blobs,
// or reports binary=true if either side fails to decode as UTF-8 (spec.md
// §4.3).
func UnifiedText(before, after []byte) (lines []DiffLine, binary bool) {
	if !utf8.Valid(before) || !utf8.Valid(after) {
		return nil, true
	}
	beforeLines := splitLines(before)
	afterLines := splitLines(after)
	ops := lcsOpcodes(beforeLines, afterLines)
	return opcodesToLines(ops, beforeLines, afterLines), false
}

func splitLines(b []byte) []string {
	s := string(b)
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

type opKind int

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

type opcode struct {
	kind opKind
	a, b string
}

// lcsOpcodes computes an LCS-based alignment between a and b, emitting
// equal/delete/insert opcodes. A "replace" (adjacent delete block followed
// by insert block) falls out naturally from walking the LCS table, per
// spec.md §4.3's "replace becomes a delete block followed by an insert
// block".
func lcsOpcodes(a, b []string) []opcode {
	n, m := len(a), len(b)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	var ops []opcode
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, opcode{kind: opEqual, a: a[i], b: b[j]})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			ops = append(ops, opcode{kind: opDelete, a: a[i]})
			i++
		default:
			ops = append(ops, opcode{kind: opInsert, b: b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, opcode{kind: opDelete, a: a[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, opcode{kind: opInsert, b: b[j]})
	}
	return ops
}

func opcodesToLines(ops []opcode, a, b []string) []DiffLine {
	var lines []DiffLine
	oldNo, newNo := 1, 1
	for _, op := range ops {
		switch op.kind {
		case opEqual:
			lines = append(lines, DiffLine{OldNo: oldNo, NewNo: newNo, Content: op.a, Kind: Context})
			oldNo++
			newNo++
		case opDelete:
			lines = append(lines, DiffLine{OldNo: oldNo, Content: op.a, Kind: Remove})
			oldNo++
		case opInsert:
			lines = append(lines, DiffLine{NewNo: newNo, Content: op.b, Kind: Add})
			newNo++
		}
	}
	_ = a
	_ = b
	return lines
}

// CommitAffectsPath implements spec.md §4.2's commit_affects_path: defined
// by the diff between commit and its parent touching any file whose path
// equals, or begins with, path + "/".
func CommitAffectsPath(ctx context.Context, parentRoot, commitRoot vfs.Node, path string) (bool, error) {
	events, err := DiffCommits(ctx, parentRoot, commitRoot)
	if err != nil {
		return false, err
	}
	for _, e := range events {
		if e.Path == path || hasPathPrefix(e.Path, path) {
			return true, nil
		}
	}
	return false, nil
}

func hasPathPrefix(p, prefix string) bool {
	return len(p) > len(prefix) && p[:len(prefix)] == prefix && p[len(prefix)] == '/'
}
