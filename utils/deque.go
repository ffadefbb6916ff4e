package utils

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

type Node[T any] struct {
	data T
	next *Node[T]
	prev *Node[T]
}

// Deque is a doubly linked list usable on its own or as the Container of a
// BQueue. It never reserves memory up front. Every method takes the Deque's
// own lock, including when a BQueue already holds its lock around the call;
// that second lock is uncontended there and keeps standalone use safe.
type Deque[T any] struct {
	mu     sync.RWMutex // synchronizes access to the list
	head   *Node[T]
	tail   *Node[T]
	length int64
}

func NewDeque[T any]() *Deque[T] {
	return &Deque[T]{}
}

func (qs *Deque[T]) Length() int64 {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	return qs.length
}

func (qs *Deque[T]) Len() int {
	return int(qs.Length())
}

func (qs *Deque[T]) PushFront(v T) {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	node := &Node[T]{data: v}
	qs.length += 1
	if qs.head == nil {
		qs.head = node
		qs.tail = node
		return
	}

	node.next = qs.head
	qs.head.prev = node
	qs.head = node
}

func (qs *Deque[T]) PushBack(v T) {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	node := &Node[T]{data: v}
	qs.length += 1
	if qs.tail == nil {
		qs.head = node
		qs.tail = node
		return
	}

	qs.tail.next = node
	node.prev = qs.tail
	qs.tail = node
}

func (qs *Deque[T]) PopFront() T {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	if qs.head == nil {
		var zeroVal T
		return zeroVal
	}

	qs.length -= 1
	node := qs.head
	qs.head = node.next
	if qs.head == nil {
		qs.tail = nil
	} else {
		qs.head.prev = nil
	}
	node.next = nil //  break the chain
	return node.data
}

func (qs *Deque[T]) PopBack() T {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	if qs.tail == nil {
		var zeroVal T
		return zeroVal
	}

	qs.length -= 1
	node := qs.tail
	qs.tail = node.prev
	if qs.tail == nil {
		qs.head = nil
	} else {
		qs.tail.next = nil
	}
	node.prev = nil
	return node.data
}

// Back returns the tail value without removing it.
func (qs *Deque[T]) Back() T {
	qs.mu.RLock()
	defer qs.mu.RUnlock()

	if qs.tail == nil {
		var zeroVal T
		return zeroVal
	}
	return qs.tail.data
}

func (qs *Deque[T]) Print(w io.Writer) {
	qs.mu.RLock()
	defer qs.mu.RUnlock()

	buffer := bytes.NewBufferString("")
	for current := qs.head; current != nil; current = current.next {
		buffer.WriteString(fmt.Sprintf("%v ->", current.data))
	}
	buffer.WriteString("nil \n")
	w.Write(buffer.Bytes())
}
