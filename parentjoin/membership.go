/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package parentjoin

import (
	"bufio"
	"container/list"
	"sync"

	"github.com/pkg/errors"
	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/caldera-data/retl/orch"
	"github.com/caldera-data/retl/shard"
)

// MembershipCache answers "has this id ever been seen as a parent" by
// lazily loading each shard's deduplicated id file into a cuckoo filter —
// an approximate set (no false negatives, a small false-positive rate) that
// costs a fraction of a Go map's memory per id, which matters when a shard
// holds millions of ids. A false positive only records one extra payload
// that nothing will ever look up. A worker keeps at most cap shards
// resident, evicting the least recently used one.
type MembershipCache struct {
	files []string
	seed  shard.Seed
	cap   int

	mu    sync.Mutex
	order *list.List
	elems map[int]*list.Element
}

type cacheEntry struct {
	idx    int
	filter *cuckoo.Filter
}

func newMembershipCache(files []string, seed shard.Seed, cap int) *MembershipCache {
	if cap <= 0 {
		cap = 1
	}
	return &MembershipCache{
		files: files,
		seed:  seed,
		cap:   cap,
		order: list.New(),
		elems: map[int]*list.Element{},
	}
}

// T1Cache builds a membership cache over the t1 (comment) id shards.
func (s *IDShards) T1Cache(cap int) *MembershipCache {
	return newMembershipCache(s.T1Files, shard.SeedParentT1, cap)
}

// T3Cache builds a membership cache over the t3 (submission) id shards.
func (s *IDShards) T3Cache(cap int) *MembershipCache {
	return newMembershipCache(s.T3Files, shard.SeedParentT3, cap)
}

// CacheCapForFree picks a per-worker shard-cache capacity from the fraction
// of memory currently free: generous when memory is abundant, conservative
// under pressure.
func CacheCapForFree(free float64) int {
	switch {
	case free > 0.50:
		return 256
	case free > 0.20:
		return 128
	default:
		return 64
	}
}

// Contains reports whether id was ever seen as a parent reference, loading
// (and caching) the shard file id routes to as needed.
func (c *MembershipCache) Contains(id string) (bool, error) {
	if len(c.files) == 0 {
		return false, nil
	}
	idx := shard.Index(id, c.seed, len(c.files))

	c.mu.Lock()
	if el, ok := c.elems[idx]; ok {
		c.order.MoveToBack(el)
		f := el.Value.(*cacheEntry).filter
		c.mu.Unlock()
		return f.Lookup([]byte(id)), nil
	}
	c.mu.Unlock()

	filter, err := loadShardFilter(c.files[idx])
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.elems[idx]; ok {
		// another goroutine loaded it first while we were reading the file
		c.order.MoveToBack(el)
		return el.Value.(*cacheEntry).filter.Lookup([]byte(id)), nil
	}
	if c.order.Len() >= c.cap {
		front := c.order.Front()
		if front != nil {
			old := front.Value.(*cacheEntry)
			delete(c.elems, old.idx)
			c.order.Remove(front)
		}
	}
	el := c.order.PushBack(&cacheEntry{idx: idx, filter: filter})
	c.elems[idx] = el
	return filter.Lookup([]byte(id)), nil
}

const minFilterCapacity = 64 * 1024

// loadShardFilter reads a deduplicated id shard and builds a cuckoo filter
// sized at twice the shard's id count, keeping inserts well under the
// filter's load limit. An insert that still fails would mean a silent false
// negative later, so it is an error rather than a degraded filter.
func loadShardFilter(path string) (*cuckoo.Filter, error) {
	f, err := orch.OpenWithBackoff(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	capacity := uint(len(ids)) * 2
	if capacity < minFilterCapacity {
		capacity = minFilterCapacity
	}
	filter := cuckoo.NewFilter(capacity)
	for _, id := range ids {
		if !filter.Insert([]byte(id)) {
			return nil, errors.Errorf("id filter for %s is full at %d entries", path, len(ids))
		}
	}
	return filter, nil
}
