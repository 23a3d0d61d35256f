// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package cube

import (
	"container/list"

	"github.com/pbnjay/memory"
)

// A least recently used cache of open cubes keyed by file name, bounded by a
// memory budget. Not safe for concurrent use; each worker owns its own cache
type Cache struct {
	budget int64
	used   int64
	lru    *list.List
	items  map[string]*list.Element
	open   func(string) (*Cube, error)
}

type cacheEntry struct {
	name string
	cube *Cube
	size int64
}

// Creates a cache with the given budget in MB. A budget of zero or less uses a
// quarter of physical memory
func NewCache(budgetMB int) *Cache {
	budget := int64(budgetMB) << 20
	if budget <= 0 {
		budget = int64(memory.TotalMemory() / 4)
	}
	return &Cache{
		budget: budget,
		lru:    list.New(),
		items:  map[string]*list.Element{},
		open:   ReadFile,
	}
}

// Returns the cube with the given file name, reading it on a miss and evicting
// least recently used cubes to stay within budget. The most recent cube is
// always retained, even if it alone exceeds the budget
func (c *Cache) Get(fileName string) (*Cube, error) {
	if e, ok := c.items[fileName]; ok {
		c.lru.MoveToFront(e)
		return e.Value.(*cacheEntry).cube, nil
	}
	cb, err := c.open(fileName)
	if err != nil {
		return nil, err
	}
	c.Put(fileName, cb)
	return cb, nil
}

// Returns a cached cube without reading on a miss
func (c *Cache) Lookup(fileName string) (*Cube, bool) {
	e, ok := c.items[fileName]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(e)
	return e.Value.(*cacheEntry).cube, true
}

// Inserts a cube that is already in memory
func (c *Cache) Put(fileName string, cb *Cube) {
	if e, ok := c.items[fileName]; ok {
		c.remove(e)
	}
	ent := &cacheEntry{name: fileName, cube: cb, size: int64(len(cb.Data)) * 4}
	c.items[fileName] = c.lru.PushFront(ent)
	c.used += ent.size
	for c.used > c.budget && c.lru.Len() > 1 {
		c.remove(c.lru.Back())
	}
}

func (c *Cache) remove(e *list.Element) {
	ent := e.Value.(*cacheEntry)
	c.lru.Remove(e)
	delete(c.items, ent.name)
	c.used -= ent.size
}

// Number of cached cubes and bytes held
func (c *Cache) Len() int     { return c.lru.Len() }
func (c *Cache) Bytes() int64 { return c.used }
