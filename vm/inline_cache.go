package vm

// Property Caching
//
// Every property access site in a subunit gets its own cache. Objects that
// share a Shape share a layout, so "(shape S, prototype P) resolved name at
// holder H, slot N" can be reused for any receiver of shape S and prototype P.
// Most sites see one shape (monomorphic), some a handful (polymorphic), and a
// few many (megamorphic, where caching stops).

// CacheState represents the current state of a property cache.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // No cached lookup yet
	CacheMonomorphic                   // Single shape cached
	CachePolymorphic                   // 2-4 entries
	CacheMegamorphic                   // Too many shapes, use full lookup
)

// MaxPICEntries is the maximum number of entries in a polymorphic cache.
const MaxPICEntries = 4

// PropertyCacheEntry holds a single cached lookup result.
type PropertyCacheEntry struct {
	Shape       *Shape       // Receiver shape
	Proto       *HostObject  // Receiver prototype
	Caps        Capabilities // Receiver capabilities
	Holder      *HostObject  // Object holding the property, nil for own properties
	HolderShape *Shape       // Holder shape at caching time
	Property    Property
}

func (e *PropertyCacheEntry) matches(obj *HostObject) bool {
	if e.Shape != obj.shape || e.Caps != obj.caps {
		return false
	}
	if e.Holder == nil {
		return true
	}
	return e.Holder.shape == e.HolderShape && e.Proto == obj.Prototype()
}

// PropertyCache represents the cache state for a single access site.
// It progresses through states: Empty -> Monomorphic -> Polymorphic -> Megamorphic
type PropertyCache struct {
	State   CacheState
	Entries [MaxPICEntries]PropertyCacheEntry
	Count   int

	Hits   uint64
	Misses uint64
}

// Lookup checks the cache for a resolution valid for obj.
func (pc *PropertyCache) Lookup(obj *HostObject) (*HostObject, Property, bool) {
	if pc.State == CacheMonomorphic || pc.State == CachePolymorphic {
		for i := 0; i < pc.Count; i++ {
			if e := &pc.Entries[i]; e.matches(obj) {
				pc.Hits++
				if e.Holder == nil {
					return obj, e.Property, true
				}
				return e.Holder, e.Property, true
			}
		}
	}
	pc.Misses++
	return nil, Property{}, false
}

// cacheable reports whether a resolution of name on obj at holder stays valid
// for as long as the entry's guards hold. Only the receiver, its direct
// prototype, or a holder reached through frozen intermediates qualify. The
// holder itself may be mutable since its shape is guarded.
func cacheable(obj, holder *HostObject, name string) bool {
	if obj.synth != nil && obj.synth.owns(name) {
		return false
	}
	if holder == obj {
		return true
	}
	proto := obj.Prototype()
	if holder == proto {
		return true
	}
	for o := proto; o != nil; o = o.Prototype() {
		if o == holder {
			return true
		}
		if !o.frozen {
			return false
		}
	}
	return false
}

// Update records a resolution, potentially upgrading the cache state.
func (pc *PropertyCache) Update(obj, holder *HostObject, name string, p Property) {
	if holder == nil || pc.State == CacheMegamorphic || !cacheable(obj, holder, name) {
		return
	}
	entry := PropertyCacheEntry{
		Shape:    obj.shape,
		Proto:    obj.Prototype(),
		Caps:     obj.caps,
		Property: p,
	}
	if holder != obj {
		entry.Holder = holder
		entry.HolderShape = holder.shape
	}

	for i := 0; i < pc.Count; i++ {
		if pc.Entries[i].Shape == entry.Shape && pc.Entries[i].Proto == entry.Proto {
			pc.Entries[i] = entry
			return
		}
	}

	switch {
	case pc.Count == 0:
		pc.State = CacheMonomorphic
	case pc.Count < MaxPICEntries:
		pc.State = CachePolymorphic
	default:
		pc.State = CacheMegamorphic
		pc.Entries = [MaxPICEntries]PropertyCacheEntry{}
		pc.Count = 0
		return
	}
	pc.Entries[pc.Count] = entry
	pc.Count++
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (pc *PropertyCache) HitRate() float64 {
	total := pc.Hits + pc.Misses
	if total == 0 {
		return 0
	}
	return float64(pc.Hits) * 100 / float64(total)
}

// Reset clears the cache back to empty state.
func (pc *PropertyCache) Reset() {
	*pc = PropertyCache{}
}

// CacheStats holds aggregate property cache statistics.
type CacheStats struct {
	Sites       int
	Monomorphic int
	Polymorphic int
	Megamorphic int
	Hits        uint64
	Misses      uint64
}

// HitRate returns the aggregate hit rate percentage.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) * 100 / float64(total)
}
