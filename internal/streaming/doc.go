// Package streaming serves blob bytes over HTTP with single-range support
// and timeout-protected writes, so a stalled or vanished client cannot
// pin a goroutine for the length of a video.
package streaming
