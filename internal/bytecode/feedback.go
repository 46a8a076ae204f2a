package bytecode

// ICState is an inline cache's lifecycle stage (spec.md §4.3).
type ICState uint8

const (
	ICUninitialized ICState = iota
	ICMonomorphic
	ICPolymorphic
	ICMegamorphic
)

func (s ICState) String() string {
	switch s {
	case ICUninitialized:
		return "uninitialized"
	case ICMonomorphic:
		return "monomorphic"
	case ICPolymorphic:
		return "polymorphic"
	case ICMegamorphic:
		return "megamorphic"
	default:
		return "unknown"
	}
}

// polyLimit is the fixed polymorphic table size spec.md §4.3 names ("e.g. 4").
const polyLimit = 4

// icEntry pairs a shape identity with the property slot it resolves to.
type icEntry struct {
	shapeID uint64
	offset  int
}

// PropertyCache is one property-access site's inline cache: Uninitialized →
// Monomorphic on first hit, Polymorphic on a second distinct shape (up to
// polyLimit entries), Megamorphic once that overflows.
type PropertyCache struct {
	state   ICState
	entries [polyLimit]icEntry
	count   int
}

// Lookup returns the cached slot for shapeID, if the cache currently knows
// it, without changing state.
func (c *PropertyCache) Lookup(shapeID uint64) (offset int, ok bool) {
	for i := 0; i < c.count; i++ {
		if c.entries[i].shapeID == shapeID {
			return c.entries[i].offset, true
		}
	}
	return 0, false
}

// Record feeds back one concrete (shape, offset) observation, transitioning
// the cache's state per spec.md §4.3's IC state machine.
func (c *PropertyCache) Record(shapeID uint64, offset int) {
	if c.state == ICMegamorphic {
		return
	}
	if _, ok := c.Lookup(shapeID); ok {
		return
	}
	switch c.state {
	case ICUninitialized:
		c.entries[0] = icEntry{shapeID, offset}
		c.count = 1
		c.state = ICMonomorphic
	case ICMonomorphic:
		if c.count < polyLimit {
			c.entries[c.count] = icEntry{shapeID, offset}
			c.count++
			c.state = ICPolymorphic
		} else {
			c.state = ICMegamorphic
		}
	case ICPolymorphic:
		if c.count < polyLimit {
			c.entries[c.count] = icEntry{shapeID, offset}
			c.count++
		} else {
			c.state = ICMegamorphic
		}
	}
}

func (c *PropertyCache) State() ICState { return c.state }

// NumericKind distinguishes the fast-path operand kinds an arithmetic site's
// cache discriminates on (spec.md §4.3: "operand numeric kind").
type NumericKind uint8

const (
	NumericUnknown NumericKind = iota
	NumericInt32
	NumericFloat64
	NumericOther
)

// ArithCache is an arithmetic site's type-feedback cache: records up to
// polyLimit distinct operand-kind pairs before falling back to the slow
// path permanently.
type ArithCache struct {
	state ICState
	seen  [polyLimit]struct{ lhs, rhs NumericKind }
	count int
}

func (c *ArithCache) State() ICState { return c.state }

// Record feeds back one (lhs, rhs) operand-kind observation.
func (c *ArithCache) Record(lhs, rhs NumericKind) {
	if c.state == ICMegamorphic {
		return
	}
	for i := 0; i < c.count; i++ {
		if c.seen[i].lhs == lhs && c.seen[i].rhs == rhs {
			return
		}
	}
	switch c.state {
	case ICUninitialized:
		c.seen[0] = struct{ lhs, rhs NumericKind }{lhs, rhs}
		c.count = 1
		c.state = ICMonomorphic
	default:
		if c.count < polyLimit {
			c.seen[c.count] = struct{ lhs, rhs NumericKind }{lhs, rhs}
			c.count++
			c.state = ICPolymorphic
		} else {
			c.state = ICMegamorphic
		}
	}
}

// IsMonomorphicInt32 reports whether this site has only ever seen int32+int32,
// the fast path spec.md §4.3 calls out explicitly ("fast path for int32+int32
// with overflow check falling to double").
func (c *ArithCache) IsMonomorphicInt32() bool {
	return c.state == ICMonomorphic && c.count == 1 &&
		c.seen[0].lhs == NumericInt32 && c.seen[0].rhs == NumericInt32
}

// CallSiteCache tracks the callee identity seen at a call instruction, used
// to decide whether quickening (spec.md §4.3, optional) a CALL to a direct
// dispatch is safe.
type CallSiteCache struct {
	state      ICState
	calleeRefs [polyLimit]uint32
	count      int
}

func (c *CallSiteCache) State() ICState { return c.state }

func (c *CallSiteCache) Record(calleeRef uint32) {
	if c.state == ICMegamorphic {
		return
	}
	for i := 0; i < c.count; i++ {
		if c.calleeRefs[i] == calleeRef {
			return
		}
	}
	switch c.state {
	case ICUninitialized:
		c.calleeRefs[0] = calleeRef
		c.count = 1
		c.state = ICMonomorphic
	default:
		if c.count < polyLimit {
			c.calleeRefs[c.count] = calleeRef
			c.count++
			c.state = ICPolymorphic
		} else {
			c.state = ICMegamorphic
		}
	}
}
