package tinfl

// Constant tables from RFC 1951 §3.2.5 and §3.2.7.

// clOrder is the order in which code-length-alphabet code lengths are
// stored in a dynamic block header.
var clOrder = [19]uint8{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

var lengthBase = [29]uint16{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31,
	35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258,
}

var lengthExtra = [29]uint8{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
	3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0,
}

var distBase = [30]uint16{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
	257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
}

var distExtra = [30]uint8{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
	7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

var (
	fixedLitLenTable huffmanTable
	fixedDistTable   huffmanTable
)

func init() {
	var litLens [288]uint8
	for i := 0; i < 144; i++ {
		litLens[i] = 8
	}
	for i := 144; i < 256; i++ {
		litLens[i] = 9
	}
	for i := 256; i < 280; i++ {
		litLens[i] = 7
	}
	for i := 280; i < 288; i++ {
		litLens[i] = 8
	}
	if err := fixedLitLenTable.build(litLens[:]); err != nil {
		panic("tinfl: fixed literal/length table failed to build: " + err.Error())
	}

	var distLens [30]uint8
	for i := range distLens {
		distLens[i] = 5
	}
	if err := fixedDistTable.build(distLens[:]); err != nil {
		panic("tinfl: fixed distance table failed to build: " + err.Error())
	}
}
