// Package cache provides a small generic LRU cache. The kernels package
// keeps compiled kernels in one so that pipelines built with the same grid
// and workgroup shape share a single naga compilation.
package cache
