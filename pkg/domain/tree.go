package domain

// Leaf is an instance found by a tree walk, with its position.
type Leaf struct {
	Instance *Instance
	// Path holds child indexes from the root; the root's path is empty.
	Path   []int
	Worker bool
}

// ActiveLeaves returns every non-suspended instance without children, in
// left-to-right order. A suspended instance freezes its whole subtree.
func ActiveLeaves(root *Instance) []Leaf {
	var out []Leaf
	walk(root, nil, func(inst *Instance, path []int) bool {
		if inst.IsSuspended() {
			return false
		}
		if inst.IsLeaf() {
			out = append(out, Leaf{Instance: inst, Path: path, Worker: inst.IsWorker()})
		}
		return true
	})
	return out
}

// SuspendedInstances returns every suspended instance, in left-to-right order.
func SuspendedInstances(root *Instance) []Leaf {
	var out []Leaf
	walk(root, nil, func(inst *Instance, path []int) bool {
		if inst.IsSuspended() {
			out = append(out, Leaf{Instance: inst, Path: path, Worker: inst.IsWorker()})
		}
		return true
	})
	return out
}

// PrimaryLeaves filters leaves down to the non-worker ones.
func PrimaryLeaves(leaves []Leaf) []Leaf {
	var out []Leaf
	for _, l := range leaves {
		if !l.Worker {
			out = append(out, l)
		}
	}
	return out
}

// Walk visits every instance depth-first, parents before children.
func Walk(root *Instance, fn func(inst *Instance, path []int)) {
	walk(root, nil, func(inst *Instance, path []int) bool {
		fn(inst, path)
		return true
	})
}

func walk(inst *Instance, path []int, fn func(*Instance, []int) bool) {
	if inst == nil {
		return
	}
	p := append([]int(nil), path...)
	if !fn(inst, p) {
		return
	}
	for i, child := range inst.Children {
		walk(child, append(p, i), fn)
	}
}

// Find returns the instance with id and its path.
func Find(root *Instance, id string) (*Instance, []int, bool) {
	var (
		found *Instance
		where []int
	)
	Walk(root, func(inst *Instance, path []int) {
		if found == nil && inst.ID == id {
			found, where = inst, path
		}
	})
	return found, where, found != nil
}

// At returns the instance at path.
func At(root *Instance, path []int) (*Instance, bool) {
	cur := root
	for _, idx := range path {
		if cur == nil || idx < 0 || idx >= len(cur.Children) {
			return nil, false
		}
		cur = cur.Children[idx]
	}
	return cur, cur != nil
}

// Ancestors returns the chain from the root down to, but excluding, the
// instance at path.
func Ancestors(root *Instance, path []int) []*Instance {
	chain := make([]*Instance, 0, len(path))
	cur := root
	for _, idx := range path {
		if cur == nil || idx >= len(cur.Children) {
			return chain
		}
		chain = append(chain, cur)
		cur = cur.Children[idx]
	}
	return chain
}

// Count returns the number of instances in the tree.
func Count(root *Instance) int {
	n := 0
	Walk(root, func(*Instance, []int) { n++ })
	return n
}
