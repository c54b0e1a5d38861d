// Package ilist implements the intrusive doubly linked list vocabulary the
// rest of the kernel is built on: every TCB, timer, and wait-list entry
// embeds a Node rather than being boxed into a container, so moving an
// entity between lists never allocates.
//
// Each Node carries a real Go pointer back to its owner and a pointer to
// the List it currently belongs to (nil when detached). That pointer
// doubles as a "membership in at most one list" typestate: Remove is
// idempotent, and a Node knows whether it is currently linked without the
// caller tracking it separately.
package ilist

// Node is an intrusive list element. Embed it in any struct that needs to
// be a member of an ilist.List.
type Node struct {
	prev, next *Node
	list       *List
	owner      any
}

// NewNode creates a detached node carrying owner as its back-reference.
func NewNode(owner any) *Node {
	return &Node{owner: owner}
}

// Owner returns the value passed to NewNode.
func (n *Node) Owner() any { return n.owner }

// InList reports whether the node currently belongs to a list.
func (n *Node) InList() bool { return n.list != nil }

// List is a doubly linked circular list with a sentinel head node,
// used for ready buckets, wait lists, and the suspend list.
type List struct {
	head Node
	n    int
}

// New returns an empty, ready-to-use list.
func New() *List {
	l := &List{}
	l.head.next = &l.head
	l.head.prev = &l.head
	return l
}

// Len returns the number of nodes currently linked into l.
func (l *List) Len() int { return l.n }

// Empty reports whether l has no members.
func (l *List) Empty() bool { return l.n == 0 }

// PushBack links n at the tail of l. n must be detached.
func (l *List) PushBack(n *Node) {
	l.insertAfter(n, l.head.prev)
}

// PushFront links n at the head of l. n must be detached.
func (l *List) PushFront(n *Node) {
	l.insertAfter(n, &l.head)
}

// InsertAfter links n immediately after at, both of which must already be
// members of l (at) and detached (n) respectively.
func (l *List) InsertAfter(n, at *Node) {
	l.insertAfter(n, at)
}

func (l *List) insertAfter(n, at *Node) {
	if n.list != nil {
		panic("ilist: node already linked")
	}
	n.prev = at
	n.next = at.next
	at.next.prev = n
	at.next = n
	n.list = l
	l.n++
}

// Remove unlinks n from whatever list it belongs to. It is a no-op if n is
// already detached, matching the kernel's habit of unconditionally
// removing a TCB from lists it may or may not be on (e.g. the timed-block
// list when only a finite-timeout wait would have added it there).
func Remove(n *Node) {
	if n.list == nil {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.list.n--
	n.prev, n.next, n.list = nil, nil, nil
}

// MoveToBack relinks n at the tail of its own list — the round-robin
// rotation primitive.
func MoveToBack(l *List, n *Node) {
	Remove(n)
	l.PushBack(n)
}

// Front returns the first node in l, or nil if l is empty.
func (l *List) Front() *Node {
	if l.n == 0 {
		return nil
	}
	return l.head.next
}

// Back returns the last node in l, or nil if l is empty.
func (l *List) Back() *Node {
	if l.n == 0 {
		return nil
	}
	return l.head.prev
}

// Next returns the node after n within its list, or nil if n is the last
// member or is detached.
func (n *Node) Next() *Node {
	if n.list == nil || n.next == &n.list.head {
		return nil
	}
	return n.next
}

// Each calls fn for every node currently in l, front to back. fn must not
// mutate l.
func (l *List) Each(fn func(*Node)) {
	for n := l.Front(); n != nil; n = n.Next() {
		fn(n)
	}
}
