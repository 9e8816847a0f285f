/*
Package video defines the metadata model and lifecycle rules for uploaded
videos.

A video moves through three states:

	processing -> processed
	           -> failed -> (retry) -> processing

The record is created in processing when the client confirms a direct
upload. The transcode pipeline then fills in the thumbnail key and one
blob key per produced rendition, and finally flips the status to a
terminal state. Failed records can be re-entered via Restart; processed
records are immutable apart from deletion.

Blob keys are deterministic functions of the video id (SourceKey,
ThumbnailKey, RenditionKey), which makes pipeline retries overwrite
partial output from a previous failed run instead of leaking orphans
under fresh keys.

Lifecycle is the single write path the pipeline uses for metadata
updates. It guards the invariants that matter across concurrent rendition
goroutines: each key is recorded at most once per run, and nothing is
written after the run reaches a terminal state.
*/
package video
