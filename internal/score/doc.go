// Package score loads MEI documents and cuts them into measure ranges.
//
// A Document is read-only after Parse. Slice never mutates the parsed
// tree; it serializes a deep copy with the out-of-range measures removed,
// leaving every non-measure element in place.
package score
