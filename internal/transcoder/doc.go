/*
Package transcoder wraps the external ffmpeg/ffprobe binaries as
streaming operations.

All output is piped: ExtractThumbnail and Transcode return a ReadCloser
over the tool's stdout so large encodes flow straight into blob uploads
without touching local disk. Close on the returned stream waits for the
subprocess and surfaces its exit status, so callers must treat a clean
Close as part of the success condition, not just a drained reader.

Failures are typed: *SpawnError when the tool could not start and
*ExitError (with a bounded stderr tail) when it exited non-zero. Cleanup
kills anything still running, for shutdown.
*/
package transcoder
