// Package prerender is a request-coalescing cache in front of a slow,
// side-effecting page renderer (a headless browser).
//
// For any key it serves a fresh cached document when one exists; otherwise it
// makes sure exactly one render per key is in flight and lets every other
// caller for that key wait on it. The render worker itself is created lazily,
// recycled when idle and retired on Close.
package prerender
