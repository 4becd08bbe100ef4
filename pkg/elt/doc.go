// Package elt runs pipelines: it resolves the declared extractor and
// loaders, performs discovery, applies stream selection, and fans the
// extracted record stream out to every loader independently. A loader
// failure is isolated to that loader; an extractor failure ends the
// run.
package elt
