// Package compiler turns script source into installed compilation units.
//
// A compilation moves through Requested, Parsing, Verifying and then
// Installed, or stops at Failed. Parsing uses the goja parser and lowers the
// supported subset of the language into per-function bytecode. Verifying
// checks that bytecode before the unit receives its compilation id and is
// published in the executable registry. A failed compilation publishes
// nothing.
package compiler
