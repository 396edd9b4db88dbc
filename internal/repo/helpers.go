package repo

// chunkArgLimit bounds the number of bound arguments per statement; SQLite's
// default SQLITE_MAX_VARIABLE_NUMBER is 999.
const chunkArgLimit = 500

// chunkStrings splits vals into slices of at most size elements.
func chunkStrings(vals []string, size int) [][]string {
	if size <= 0 || len(vals) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(vals)+size-1)/size)
	for len(vals) > size {
		chunks = append(chunks, vals[:size])
		vals = vals[size:]
	}
	return append(chunks, vals)
}
