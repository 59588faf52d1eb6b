package cache

// node is an element of the recency list. It carries its key so that the
// evicted tail can be removed from the map.
type node[K comparable, V any] struct {
	key        K
	value      V
	prev, next *node[K, V]
}

// recency is a doubly-linked list ordered from most to least recently
// used. It is not safe for concurrent use.
type recency[K comparable, V any] struct {
	head, tail *node[K, V]
	n          int
}

func (l *recency[K, V]) pushFront(nd *node[K, V]) {
	nd.prev = nil
	nd.next = l.head
	if l.head != nil {
		l.head.prev = nd
	}
	l.head = nd
	if l.tail == nil {
		l.tail = nd
	}
	l.n++
}

func (l *recency[K, V]) touch(nd *node[K, V]) {
	if nd == l.head {
		return
	}
	l.unlink(nd)
	l.pushFront(nd)
}

// popBack removes and returns the least recently used node, or nil.
func (l *recency[K, V]) popBack() *node[K, V] {
	nd := l.tail
	if nd != nil {
		l.unlink(nd)
	}
	return nd
}

func (l *recency[K, V]) unlink(nd *node[K, V]) {
	if nd.prev != nil {
		nd.prev.next = nd.next
	} else {
		l.head = nd.next
	}
	if nd.next != nil {
		nd.next.prev = nd.prev
	} else {
		l.tail = nd.prev
	}
	nd.prev, nd.next = nil, nil
	l.n--
}
