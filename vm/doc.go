// Package vm implements the host-object runtime.
//
// This package contains:
//   - the tagged Value representation
//   - Shapes: immutable, structurally shared property layouts
//   - HostObjects with weak prototype links and a synthesis hook
//   - the Callable model (native and compiled functions)
//   - CompilationUnits, the bytecode format and the executable registry
//   - the bytecode interpreter with shape-keyed property caches
package vm
