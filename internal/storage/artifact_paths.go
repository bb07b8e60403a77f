package storage

import "path/filepath"

// Extraction jobs write their artifact to a path the backend derives from
// the job id alone (spec.md §4.7 assigns one Snapshot/Bookmark id per
// extraction attempt before the backend runs). Deriving the same path from
// the id here, rather than threading the backend's returned path through
// the tombstone-cleanup call, lets Store.DeleteSnapshotArtifact/
// DeleteBookmarkArtifact reconstruct where to look even after the record
// itself has been tombstoned out of the repository.

// SnapshotArtifactPath returns the deterministic on-disk path a Snapshot
// extraction backend must write id's image to.
func SnapshotArtifactPath(artifactRoot, id string) string {
	return filepath.Join(artifactRoot, "snapshots", id+".jpg")
}

// BookmarkVideoPath returns the deterministic on-disk path a Bookmark
// extraction backend must write id's clip to.
func BookmarkVideoPath(artifactRoot, id string) string {
	return filepath.Join(artifactRoot, "bookmarks", id+".mp4")
}

// BookmarkThumbnailPath returns the deterministic on-disk path a Bookmark
// extraction backend must write id's thumbnail to.
func BookmarkThumbnailPath(artifactRoot, id string) string {
	return filepath.Join(artifactRoot, "bookmarks", id+"_thumb.jpg")
}
