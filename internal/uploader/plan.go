package uploader

// Part is the byte range [Start, End) of a file sent as one multipart part.
type Part struct {
	Number int32
	Start  int64
	End    int64
}

func (p Part) Size() int64 {
	return p.End - p.Start
}

// PartPlan splits a file into fixed-size parts; only the last may be shorter.
type PartPlan struct {
	FileSize   int64
	PartSize   int64
	TotalParts int
}

func NewPartPlan(fileSize, partSize int64) PartPlan {
	total := int((fileSize + partSize - 1) / partSize)
	return PartPlan{
		FileSize:   fileSize,
		PartSize:   partSize,
		TotalParts: total,
	}
}

// Part returns the 1-indexed part n.
func (p PartPlan) Part(n int) Part {
	start := int64(n-1) * p.PartSize
	end := start + p.PartSize
	if end > p.FileSize {
		end = p.FileSize
	}
	return Part{Number: int32(n), Start: start, End: end}
}
