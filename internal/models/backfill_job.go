package models

// BackfillRangeState is the lifecycle state of a resumable range
type BackfillRangeState string

const (
	RangeInitializing BackfillRangeState = "initializing"
	RangeAdvancing    BackfillRangeState = "advancing"
	RangeFinished     BackfillRangeState = "finished"
)

// BackfillRange is the cursor of a resumable range backfill, kept in a Redis hash.
// [FromBlock, ToBlock] is the window in flight; LatestBlock is the last block
// of the last completed window.
type BackfillRange struct {
	ID                  string             `json:"id" redis:"id"`
	FromBlock           uint64             `json:"fromBlock" redis:"from_block"`
	ToBlock             uint64             `json:"toBlock" redis:"to_block"`
	LatestBlock         uint64             `json:"latestBlock" redis:"latest_block"`
	MaxBlock            uint64             `json:"maxBlock" redis:"max_block"`
	ChunkSize           uint64             `json:"chunkSize" redis:"chunk_size"`
	WriteToPrimaryStore bool               `json:"writeToPrimaryStore" redis:"write_to_primary_store"`
	State               BackfillRangeState `json:"state" redis:"state"`
	UpdatedAt           int64              `json:"updatedAt" redis:"updated_at"`
}

// WindowSize returns the number of blocks in the current window
func (r *BackfillRange) WindowSize() uint64 {
	if r.ToBlock < r.FromBlock {
		return 0
	}
	return r.ToBlock - r.FromBlock + 1
}
