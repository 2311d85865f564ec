package cache

import (
	"container/list"
	"sync"
)

// Index 是固定容量的 LRU 索引，只管理元数据，不接触正文。
// 淘汰出的条目由调用方负责回收对应存储。
type Index struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = MRU
	items    map[string]*list.Element
}

// NewIndex 创建容量为 capacity 的索引，capacity 小于 1 时按 1 处理。
func NewIndex(capacity int) *Index {
	if capacity < 1 {
		capacity = 1
	}
	return &Index{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get 返回条目并将其标记为最近使用。
func (i *Index) Get(key string) (Entry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	elem, ok := i.items[key]
	if !ok {
		return Entry{}, false
	}
	i.order.MoveToFront(elem)
	return elem.Value.(Entry).Clone(), true
}

// Peek 返回条目但不改变最近使用顺序，供诊断接口使用。
func (i *Index) Peek(key string) (Entry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	elem, ok := i.items[key]
	if !ok {
		return Entry{}, false
	}
	return elem.Value.(Entry).Clone(), true
}

// Set 写入或替换条目并标记为最近使用。新键在容量已满时会淘汰最久未使用的
// 条目，并通过 (evicted, true) 返回；替换已有键永远不会触发淘汰。
func (i *Index) Set(key string, entry Entry) (Entry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry = entry.Clone()
	entry.Key = key
	if elem, ok := i.items[key]; ok {
		elem.Value = entry
		i.order.MoveToFront(elem)
		return Entry{}, false
	}

	var (
		evicted  Entry
		didEvict bool
	)
	if i.order.Len() >= i.capacity {
		if oldest := i.order.Back(); oldest != nil {
			evicted = i.order.Remove(oldest).(Entry)
			delete(i.items, evicted.Key)
			didEvict = true
		}
	}
	i.items[key] = i.order.PushFront(entry)
	return evicted, didEvict
}

// Replace 仅在 key 仍在索引中时更新条目并标记为最近使用，返回是否更新。
// match 非 nil 时还要求当前条目满足 match，用于确认它仍是调用方读到的那一条。
// Replace 从不插入新键，因此也不会触发淘汰。
func (i *Index) Replace(key string, entry Entry, match func(current Entry) bool) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	elem, ok := i.items[key]
	if !ok {
		return false
	}
	if match != nil && !match(elem.Value.(Entry)) {
		return false
	}
	entry = entry.Clone()
	entry.Key = key
	elem.Value = entry
	i.order.MoveToFront(elem)
	return true
}

// SameBody 报告两个条目是否指向同一份已存储正文。
func SameBody(a, b Entry) bool {
	return a.Source == b.Source && a.Path == b.Path && a.Size == b.Size
}

// Delete 移除条目并返回被移除的值。
func (i *Index) Delete(key string) (Entry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	elem, ok := i.items[key]
	if !ok {
		return Entry{}, false
	}
	delete(i.items, key)
	return i.order.Remove(elem).(Entry), true
}

// Entries 按 LRU → MRU 顺序返回所有条目的副本，按此顺序回放 Set 可以还原淘汰顺序。
func (i *Index) Entries() []Entry {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]Entry, 0, i.order.Len())
	for elem := i.order.Back(); elem != nil; elem = elem.Prev() {
		out = append(out, elem.Value.(Entry).Clone())
	}
	return out
}

func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.order.Len()
}

func (i *Index) Capacity() int {
	return i.capacity
}
