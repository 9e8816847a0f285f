/*
Package pipeline turns one uploaded source file into its public artifacts:
a thumbnail and a fixed set of MP4 renditions.

The Queue accepts fire-and-forget jobs from the upload path and feeds a
bounded worker pool. Each worker hands its job to the Orchestrator, which
signs a read URL for the source, fans out thumbnail extraction and the
rendition encodes concurrently, uploads every output, and records the
resulting blob keys through the video lifecycle. The run ends with the
record marked processed only when every step succeeded; any failure marks
it failed, keeping whatever keys already committed.

Nothing in this package reports back to the original HTTP request.
Progress is observable solely through the record's status.
*/
package pipeline
