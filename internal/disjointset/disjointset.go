package disjointset

import "sync"

// DSU is a union-find over the integers [0, n) with union by rank and path compression
type DSU struct {
	root []int
	rank []int
	lock sync.RWMutex
}

// New creates a DSU where every element starts in its own set
func New(n int) *DSU {
	d := &DSU{
		root: make([]int, n),
		rank: make([]int, n),
	}
	for i := range d.root {
		d.root[i] = i
	}
	return d
}

// Add appends a new singleton set and returns its index
func (d *DSU) Add() int {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.root = append(d.root, len(d.root))
	d.rank = append(d.rank, 0)
	return len(d.root) - 1
}

// find finds the root of the set (internal, unlocked - caller must hold lock)
func (d *DSU) find(x int) int {
	for d.root[x] != x {
		d.root[x] = d.root[d.root[x]]
		x = d.root[x]
	}
	return x
}

// Find returns the representative of x's set
func (d *DSU) Find(x int) int {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.find(x)
}

// Union merges two sets
func (d *DSU) Union(x, y int) {
	d.lock.Lock()
	defer d.lock.Unlock()

	rootX := d.find(x)
	rootY := d.find(y)
	if rootX == rootY {
		return
	}

	switch {
	case d.rank[rootX] > d.rank[rootY]:
		d.root[rootY] = rootX
	case d.rank[rootX] < d.rank[rootY]:
		d.root[rootX] = rootY
	default:
		d.root[rootY] = rootX
		d.rank[rootX]++
	}
}

// Connected checks if two elements are in the same set
func (d *DSU) Connected(x, y int) bool {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.find(x) == d.find(y)
}

// Size returns the number of elements
func (d *DSU) Size() int {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return len(d.root)
}

// CountSets returns the number of disjoint sets
func (d *DSU) CountSets() int {
	d.lock.Lock()
	defer d.lock.Unlock()

	roots := make(map[int]struct{})
	for i := range d.root {
		roots[d.find(i)] = struct{}{}
	}
	return len(roots)
}

// Groups returns the members of every set, each in ascending order, ordered by smallest member
func (d *DSU) Groups() [][]int {
	d.lock.Lock()
	defer d.lock.Unlock()

	index := make(map[int]int)
	var groups [][]int
	for i := range d.root {
		r := d.find(i)
		g, ok := index[r]
		if !ok {
			g = len(groups)
			index[r] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}
