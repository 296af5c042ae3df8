// Package viewcache maintains read-optimized derived views of the track and
// queue stores. Keys are grouped into families; list-shaped families are
// retired by bumping a generation counter instead of wildcard deletion so the
// scheme works on any backend. The cache is never authoritative.
package viewcache
