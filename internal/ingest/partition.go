package ingest

// Partition splits paths into contiguous batches of ceil(len/workers) files.
// The last batch may be smaller, and fewer than workers batches are returned
// when there are not enough files to fill them. workers < 1 is treated as 1.
func Partition(paths []string, workers int) [][]string {
	if len(paths) == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	size := (len(paths) + workers - 1) / workers
	batches := make([][]string, 0, workers)
	for start := 0; start < len(paths); start += size {
		end := min(start+size, len(paths))
		batches = append(batches, paths[start:end:end])
	}
	return batches
}
