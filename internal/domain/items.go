package domain

// ItemList keeps order items in insertion order with an id index for constant time lookup.
// The zero value is an empty list.
type ItemList struct {
	order []string
	byID  map[string]OrderItemDraft
}

// NewItemList builds a list from items in display order. Later duplicates replace earlier ones.
func NewItemList(items ...OrderItemDraft) ItemList {
	var list ItemList
	for _, item := range items {
		list = list.Put(item)
	}
	return list
}

// Len returns the number of items.
func (l ItemList) Len() int { return len(l.order) }

// Get returns the item with the given id.
func (l ItemList) Get(id string) (OrderItemDraft, bool) {
	item, ok := l.byID[id]
	if !ok {
		return OrderItemDraft{}, false
	}
	return item.Clone(), true
}

// Has reports whether an item with the id exists.
func (l ItemList) Has(id string) bool {
	_, ok := l.byID[id]
	return ok
}

// Put appends a new item or replaces an existing one in place. The receiver is not modified.
func (l ItemList) Put(item OrderItemDraft) ItemList {
	out := l.Clone()
	if out.byID == nil {
		out.byID = make(map[string]OrderItemDraft)
	}
	if _, exists := out.byID[item.ID]; !exists {
		out.order = append(out.order, item.ID)
	}
	out.byID[item.ID] = item.Clone()
	return out
}

// Remove drops the item with the id. The receiver is not modified.
func (l ItemList) Remove(id string) ItemList {
	if !l.Has(id) {
		return l
	}
	out := l.Clone()
	delete(out.byID, id)
	for i, candidate := range out.order {
		if candidate == id {
			out.order = append(out.order[:i], out.order[i+1:]...)
			break
		}
	}
	return out
}

// All returns copies of the items in display order.
func (l ItemList) All() []OrderItemDraft {
	out := make([]OrderItemDraft, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id].Clone())
	}
	return out
}

// IDs returns item ids in display order.
func (l ItemList) IDs() []string {
	return append([]string(nil), l.order...)
}

// Clone returns a deep copy.
func (l ItemList) Clone() ItemList {
	if len(l.order) == 0 {
		return ItemList{}
	}
	out := ItemList{
		order: append([]string(nil), l.order...),
		byID:  make(map[string]OrderItemDraft, len(l.byID)),
	}
	for id, item := range l.byID {
		out.byID[id] = item.Clone()
	}
	return out
}
