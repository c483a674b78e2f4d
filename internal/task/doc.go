// Package task defines the units of work that flow through the crawl engine.
//
// A Task is a fetch request addressed to a named handler. A Data is a
// payload a handler emits for out-of-band processing. Both implement Item,
// the type handlers return.
//
// Tasks are plain values: they hold a serialisable Request snapshot rather
// than a live *http.Request, so they can be cloned for retries and passed
// between goroutines freely.
//
// # Identity
//
// Every task has an identity derived from its handler name and normalized
// URL (see NormalizeURL). The queue keeps a history of identities and
// refuses to admit the same one twice unless the task opts out with
// WithoutDedup.
package task
