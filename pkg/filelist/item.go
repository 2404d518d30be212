package filelist

import (
	"sort"
	"time"

	"github.com/prizmhq/prizm-client/pkg/api"
)

// Kind identifies which entity an item wraps.
type Kind string

const (
	KindNote     Kind = "note"
	KindTodoList Kind = "todoList"
	KindDocument Kind = "document"
)

// Item is one row of the unified file list. Exactly one of Note, TodoList,
// or Document is set, matching Kind.
type Item struct {
	Kind      Kind
	ID        string
	Title     string
	UpdatedAt time.Time

	Note     *api.Note
	TodoList *api.TodoList
	Document *api.Document
}

// Key returns the identity used for merges: kind-qualified so a note and a
// document sharing an id never collide.
func (it Item) Key() string {
	return string(it.Kind) + ":" + it.ID
}

func noteItem(n *api.Note) Item {
	return Item{Kind: KindNote, ID: n.ID, Title: n.Title, UpdatedAt: n.UpdatedAt, Note: n}
}

func todoListItem(tl *api.TodoList) Item {
	return Item{Kind: KindTodoList, ID: tl.ID, Title: "Todo List", UpdatedAt: tl.UpdatedAt, TodoList: tl}
}

func documentItem(d *api.Document) Item {
	return Item{Kind: KindDocument, ID: d.ID, Title: d.Title, UpdatedAt: d.UpdatedAt, Document: d}
}

// sortItems orders newest-first, with the key as a stable tie-break.
func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].Key() < items[j].Key()
	})
}
