package starlark

import (
	"unsafe"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Approximate in-memory sizes of interpreter values, in bytes.
const (
	wordSize    = 8
	valueSize   = 2 * wordSize // interface header
	sliceHeader = 3 * wordSize
	dictEntry   = 4 * wordSize
	tableHeader = 64
)

// memoryMeter charges a snippet for the values it can reach: the globals
// carried from earlier runs, the module globals and the locals of every
// active Starlark frame. It runs on the
// interpreter goroutine at step checkpoints, so concurrent executions never
// see each other's allocations.
type memoryMeter struct {
	x        *execution
	limit    int64
	maxSteps uint64
	every    uint64
	carried  starlark.StringDict
	peak     int64
}

// install arms the first checkpoint. The meter also enforces maxSteps,
// since it takes over the thread's step hook.
func (m *memoryMeter) install(thread *starlark.Thread) {
	thread.OnMaxSteps = m.checkpoint
	thread.SetMaxExecutionSteps(m.next(0, 0))
}

func (m *memoryMeter) checkpoint(thread *starlark.Thread) {
	steps := thread.ExecutionSteps()
	if m.maxSteps > 0 && steps >= m.maxSteps {
		thread.Cancel("too many steps")
		return
	}
	used, visited := m.measure(thread)
	if used > m.limit {
		m.x.abort("memory")
		thread.Cancel("memory limit exceeded")
		return
	}
	thread.SetMaxExecutionSteps(m.next(steps, visited))
}

// next returns the step count of the following checkpoint. Large heaps are
// walked less often so that metering stays linear in execution steps.
func (m *memoryMeter) next(steps, visited uint64) uint64 {
	n := steps + max(m.every, visited)
	if m.maxSteps > 0 && n > m.maxSteps {
		n = m.maxSteps
	}
	return n
}

func (m *memoryMeter) measure(thread *starlark.Thread) (int64, uint64) {
	s := newSizer(m.limit)
	for _, v := range m.carried {
		s.add(v)
	}
	depth := thread.CallStackDepth()
	for d := depth - 1; d >= 0; d-- {
		fr := thread.DebugFrame(d)
		fn, ok := fr.Callable().(*starlark.Function)
		if !ok {
			continue
		}
		if d == depth-1 {
			for _, v := range fn.Globals() {
				s.add(v)
			}
		}
		for i := 0; ; i++ {
			v, ok := frameLocal(fr, i)
			if !ok {
				break
			}
			s.add(v)
		}
	}
	m.observe(s.total)
	return s.total, s.visited
}

func (m *memoryMeter) observe(used int64) {
	if used > m.peak {
		m.peak = used
	}
}

// frameLocal reads the i'th local of a Starlark frame. The debug API does
// not report how many locals a frame has; reading past the end panics.
func frameLocal(fr starlark.DebugFrame, i int) (v starlark.Value, ok bool) {
	defer func() {
		if recover() != nil {
			v, ok = nil, false
		}
	}()
	return fr.Local(i), true
}

// globalsSize measures the values left in a finished snippet's globals,
// together with any it was given.
func globalsSize(dicts ...starlark.StringDict) int64 {
	s := newSizer(0)
	for _, globals := range dicts {
		for _, v := range globals {
			s.add(v)
		}
	}
	return s.total
}

// sizer sums the approximate footprint of a value graph. Shared containers
// and strings are counted once. With a budget, the walk stops as soon as
// the total exceeds it.
type sizer struct {
	budget  int64
	total   int64
	visited uint64
	seen    map[starlark.Value]struct{}
	strings map[*byte]struct{}
}

func newSizer(budget int64) *sizer {
	return &sizer{
		budget:  budget,
		seen:    make(map[starlark.Value]struct{}),
		strings: make(map[*byte]struct{}),
	}
}

func (s *sizer) over() bool {
	return s.budget > 0 && s.total > s.budget
}

// mark reports whether a reference value is seen for the first time.
func (s *sizer) mark(v starlark.Value) bool {
	if _, ok := s.seen[v]; ok {
		return false
	}
	s.seen[v] = struct{}{}
	return true
}

func (s *sizer) addString(str string) {
	s.total += valueSize
	if len(str) == 0 {
		return
	}
	p := unsafe.StringData(str)
	if _, ok := s.strings[p]; ok {
		return
	}
	s.strings[p] = struct{}{}
	s.total += int64(len(str))
}

func (s *sizer) add(v starlark.Value) {
	if v == nil || s.over() {
		return
	}
	s.visited++
	switch v := v.(type) {
	case starlark.String:
		s.addString(string(v))
	case starlark.Bytes:
		s.addString(string(v))
	case starlark.Int:
		s.total += valueSize
		if _, ok := v.Int64(); !ok {
			s.total += int64(v.BigInt().BitLen()/8) + sliceHeader
		}
	case *starlark.List:
		if !s.mark(v) {
			return
		}
		s.total += sliceHeader + int64(v.Len())*valueSize
		for i := 0; i < v.Len() && !s.over(); i++ {
			s.add(v.Index(i))
		}
	case starlark.Tuple:
		s.total += sliceHeader + int64(len(v))*valueSize
		for _, e := range v {
			s.add(e)
		}
	case *starlark.Dict:
		if !s.mark(v) {
			return
		}
		s.total += tableHeader + int64(v.Len())*dictEntry
		s.addEntries(v.Iterate(), v)
	case *starlark.Set:
		if !s.mark(v) {
			return
		}
		s.total += tableHeader + int64(v.Len())*dictEntry
		s.addEntries(v.Iterate(), nil)
	case *starlarkstruct.Struct:
		if !s.mark(v) {
			return
		}
		for _, name := range v.AttrNames() {
			s.total += dictEntry
			if attr, err := v.Attr(name); err == nil {
				s.add(attr)
			}
		}
	default:
		s.total += valueSize
	}
}

// addEntries walks the keys of a hash table, and the values when d is set.
func (s *sizer) addEntries(it starlark.Iterator, d *starlark.Dict) {
	defer it.Done()
	var k starlark.Value
	for !s.over() && it.Next(&k) {
		s.add(k)
		if d != nil {
			if v, found, err := d.Get(k); err == nil && found {
				s.add(v)
			}
		}
	}
}
