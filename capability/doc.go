// Package capability describes browser profiles and the declarative exposure
// rules that decide which host members a profile can see.
//
// A Descriptor belongs to one runtime member (constructor, getter, setter,
// method or constant) and lists the browser families and version ranges
// that expose it. Matching is a pure function of the descriptor and the
// Profile; nothing in this package consults global state.
package capability
