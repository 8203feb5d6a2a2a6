package uploadengine

// Slice splits blob into chunks ordered Blobs of chunkSize bytes each,
// except the last which absorbs the remainder. Pure and deterministic:
// chunk i covers bytes [i*chunkSize, min((i+1)*chunkSize, blob.Size())).
func Slice(blob Blob, chunks int, chunkSize int64) []Blob {
	slices := make([]Blob, chunks)
	size := blob.Size()
	for i := 0; i < chunks; i++ {
		from := int64(i) * chunkSize
		to := from + chunkSize
		if to > size {
			to = size
		}
		slices[i] = blob.Slice(from, to)
	}
	return slices
}
