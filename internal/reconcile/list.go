package reconcile

import "github.com/idilsaglam/quicklist/internal/model"

// List is an ordered set of items keyed by id. New ids append at the end;
// overwriting an existing id keeps its position.
//
// A nil *List is a valid, empty, inert list.
type List struct {
	items []model.Item
	index map[int64]int
}

func NewList() *List {
	return &List{index: map[int64]int{}}
}

// Seed replaces the contents with loaded, keeping its order. Repeated ids in
// loaded keep the first position and the last field values.
func (l *List) Seed(loaded []model.Item) {
	if l == nil {
		return
	}
	l.items = make([]model.Item, 0, len(loaded))
	l.index = make(map[int64]int, len(loaded))
	for _, it := range loaded {
		l.upsert(it)
	}
}

// Apply merges one event and reports whether the list changed.
func (l *List) Apply(evt model.Event) bool {
	if l == nil {
		return false
	}
	switch evt.Kind {
	case model.EventInsert, model.EventUpdate:
		return l.upsert(evt.Item)
	case model.EventDelete:
		return l.remove(evt.Item.ID)
	}
	return false
}

func (l *List) upsert(it model.Item) bool {
	if l.index == nil {
		l.index = map[int64]int{}
	}
	if i, ok := l.index[it.ID]; ok {
		if l.items[i] == it {
			return false
		}
		l.items[i] = it
		return true
	}
	l.index[it.ID] = len(l.items)
	l.items = append(l.items, it)
	return true
}

func (l *List) remove(id int64) bool {
	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	delete(l.index, id)
	for j := i; j < len(l.items); j++ {
		l.index[l.items[j].ID] = j
	}
	return true
}

// Items returns a copy of the current contents.
func (l *List) Items() []model.Item {
	if l == nil {
		return nil
	}
	out := make([]model.Item, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// Get looks an item up by id.
func (l *List) Get(id int64) (model.Item, bool) {
	if l == nil {
		return model.Item{}, false
	}
	i, ok := l.index[id]
	if !ok {
		return model.Item{}, false
	}
	return l.items[i], true
}
