// Package binding builds capability-filtered prototypes from a statically
// registered member table.
//
// Every native member is registered with a capability descriptor. A Builder
// keeps one Realm per browser profile, and a Realm builds each type's
// Prototype at most once: members whose descriptors match the profile are
// installed, getters and setters of one name are merged into an accessor,
// and the result is frozen. Member implementations never look at the
// profile; all variance is decided here.
package binding
