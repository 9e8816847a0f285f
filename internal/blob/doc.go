// Package blob abstracts bulk byte storage for sources, renditions and
// thumbnails. The S3 implementation is the production path and issues
// real presigned URLs; the filesystem implementation serves development
// and tests.
package blob
