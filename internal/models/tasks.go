package models

// BatchItem is one URL within a batch task. RowID points back at the pending
// ArchiveArtifact created at submission, which is the item's only durable
// representation.
type BatchItem struct {
	ItemID       string
	Url          string
	RowID        uint
	ArchiverName string
}

// BatchTask is an in-memory unit of work drained by the worker pool. It is
// never persisted; restarts surface its outcome through the pending rows
// carrying the same TaskID.
type BatchTask struct {
	TaskID       string
	ArchiverName string
	Items        []BatchItem
}
