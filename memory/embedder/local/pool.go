package local

// meanPool averages the hidden states of attended tokens. data is laid out
// as [seqLen, hidden].
func meanPool(data []float32, mask []int64, seqLen, hidden int) []float32 {
	out := make([]float32, hidden)
	var attended float32
	for i := 0; i < seqLen && i < len(mask); i++ {
		if mask[i] == 0 {
			continue
		}
		attended++
		offset := i * hidden
		for j := 0; j < hidden; j++ {
			out[j] += data[offset+j]
		}
	}
	if attended == 0 {
		return out
	}
	for j := range out {
		out[j] /= attended
	}
	return out
}
