// Package browser defines the standard host type table of the simulated
// browser: EventTarget, Window, Navigator, Document, HTMLCollection,
// XMLHttpRequest and ActiveXObject.
//
// Every member carries a capability descriptor. Where browsers disagree the
// table holds one alternative per family (Document.lastModified#ie and
// Document.lastModified#std); member implementations never look at the
// profile. A Window ties the table to one realm and is the global object of
// a session.
package browser
