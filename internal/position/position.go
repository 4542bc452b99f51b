// Package position plans the sibling reindexing that keeps every list's item
// positions contiguous and zero-based.
//
// The planner is pure: it never touches storage. Each mutation is described
// as a Batch (a set of range shifts plus exactly one item mutation) that a
// store must commit as a single atomic unit. The same Batch can be replayed
// against an in-memory slice with Apply, which is how clients mirror server
// reindexing for optimistic edits.
package position

import (
	"fmt"
	"sort"

	"github.com/marcus/boardsync/internal/models"
)

// Open marks a shift range with no upper bound.
const Open = -1

// Shift adds Delta to the position of every item in ListID whose position
// lies in [From, To]. To == Open means no upper bound.
type Shift struct {
	ListID string
	From   int
	To     int
	Delta  int
}

// Covers reports whether an item at pos in listID falls inside the shift.
func (s Shift) Covers(listID string, pos int) bool {
	if listID != s.ListID || pos < s.From {
		return false
	}
	return s.To == Open || pos <= s.To
}

func (s Shift) String() string {
	if s.To == Open {
		return fmt.Sprintf("%s[%d..]%+d", s.ListID, s.From, s.Delta)
	}
	return fmt.Sprintf("%s[%d..%d]%+d", s.ListID, s.From, s.To, s.Delta)
}

// Op is the item mutation carried by a Batch.
type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Batch is one atomic unit: the sibling shifts plus the triggering item
// mutation. For OpInsert and OpUpdate, Item is the state after the batch;
// for OpDelete it is the removed item.
type Batch struct {
	Shifts []Shift
	Op     Op
	Item   models.Item
}

// Append returns the tail position of a list holding count items.
func Append(count int) int {
	return count
}

// Clamp bounds pos into [0, max]. A negative max clamps to 0.
func Clamp(pos, max int) int {
	if max < 0 {
		max = 0
	}
	if pos < 0 {
		return 0
	}
	if pos > max {
		return max
	}
	return pos
}

// MoveWithinList returns the shifts for moving the item at oldPos to newPos
// inside the same list. Equal positions need no shifts.
func MoveWithinList(listID string, oldPos, newPos int) []Shift {
	switch {
	case newPos > oldPos:
		return []Shift{{ListID: listID, From: oldPos + 1, To: newPos, Delta: -1}}
	case newPos < oldPos:
		return []Shift{{ListID: listID, From: newPos, To: oldPos - 1, Delta: +1}}
	default:
		return nil
	}
}

// MoveAcrossLists returns the shifts closing the gap at oldPos in fromList and
// opening a slot at newPos in toList.
func MoveAcrossLists(fromList string, oldPos int, toList string, newPos int) []Shift {
	return []Shift{
		{ListID: fromList, From: oldPos + 1, To: Open, Delta: -1},
		{ListID: toList, From: newPos, To: Open, Delta: +1},
	}
}

// RemoveFrom returns the shifts closing the gap left by removing pos.
func RemoveFrom(listID string, pos int) []Shift {
	return []Shift{{ListID: listID, From: pos + 1, To: Open, Delta: -1}}
}

// Insert plans appending item to a list that currently holds count items.
func Insert(item models.Item, count int) Batch {
	item.Position = Append(count)
	return Batch{Op: OpInsert, Item: item}
}

// Move plans relocating before to (toList, toPos). Callers clamp toPos.
// The returned batch has no shifts when the item does not actually move.
func Move(before models.Item, toList string, toPos int) Batch {
	after := before
	after.ListID = toList
	after.Position = toPos

	var shifts []Shift
	if toList != before.ListID {
		shifts = MoveAcrossLists(before.ListID, before.Position, toList, toPos)
	} else {
		shifts = MoveWithinList(toList, before.Position, toPos)
	}
	return Batch{Shifts: shifts, Op: OpUpdate, Item: after}
}

// Remove plans deleting item from its list.
func Remove(item models.Item) Batch {
	return Batch{Shifts: RemoveFrom(item.ListID, item.Position), Op: OpDelete, Item: item}
}

// Moves reports whether the batch changes the item's list or position
// relative to before.
func (b Batch) Moves(before models.Item) bool {
	return b.Item.ListID != before.ListID || b.Item.Position != before.Position
}

// Apply replays b against items and returns a new slice. The triggering item
// is never shifted; it takes the position recorded in b.Item.
func Apply(items []models.Item, b Batch) []models.Item {
	out := make([]models.Item, 0, len(items)+1)
	for _, it := range items {
		if it.ID == b.Item.ID {
			continue
		}
		for _, s := range b.Shifts {
			if s.Covers(it.ListID, it.Position) {
				it.Position += s.Delta
				break
			}
		}
		out = append(out, it)
	}
	if b.Op != OpDelete {
		out = append(out, b.Item)
	}
	return out
}

// Violation describes a list whose positions are not exactly {0..n-1}.
type Violation struct {
	ListID    string
	Positions []int
}

func (v Violation) Error() string {
	return fmt.Sprintf("list %s: positions %v are not contiguous from 0", v.ListID, v.Positions)
}

// Check returns one Violation per list whose item positions break
// contiguity, sorted by list ID. A healthy set returns nil.
func Check(items []models.Item) []Violation {
	byList := make(map[string][]int)
	for _, it := range items {
		byList[it.ListID] = append(byList[it.ListID], it.Position)
	}

	var out []Violation
	for listID, positions := range byList {
		sort.Ints(positions)
		for i, p := range positions {
			if p != i {
				out = append(out, Violation{ListID: listID, Positions: positions})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ListID < out[j].ListID })
	return out
}

// Sort orders items by list ID, then position, then ID.
func Sort(items []models.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.ListID != b.ListID {
			return a.ListID < b.ListID
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ID < b.ID
	})
}

// Renumber is one position change made while compacting a list.
type Renumber struct {
	ItemID      string `json:"itemId"`
	OldPosition int    `json:"oldPosition"`
	NewPosition int    `json:"newPosition"`
}

// Compact returns the renumbering that restores {0..n-1} for one list's
// items, preserving their current order. Items already in place are omitted.
func Compact(items []models.Item) []Renumber {
	sorted := make([]models.Item, len(items))
	copy(sorted, items)
	Sort(sorted)

	var out []Renumber
	for i, it := range sorted {
		if it.Position != i {
			out = append(out, Renumber{ItemID: it.ID, OldPosition: it.Position, NewPosition: i})
		}
	}
	return out
}
