// Package session runs simulated browser windows. A session owns one window
// and one interpreter for one profile; all of its script work runs on a
// single worker goroutine, so sessions never share mutable script state and
// independent sessions run in parallel. Sessions of the same profile share
// a realm of prototypes and a code cache.
package session
