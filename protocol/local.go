package protocol

// Sort sorts data in place with the recursive bitonic network: the first half
// is sorted ascending, the second half descending, and the resulting bitonic
// sequence is merged in dir.
//
// len(data) must be a power of two. Lengths of zero or one are left untouched.
func Sort[K Key](data []K, dir Direction) {
	n := len(data)
	if n <= 1 {
		return
	}
	half := n / 2
	Sort(data[:half], Ascending)
	Sort(data[half:], Descending)
	Merge(data, dir)
}

// Merge turns a bitonic sequence into a monotonic one in dir. Elements half the
// length apart are compare-exchanged, then both halves are merged recursively
// in the same direction.
func Merge[K Key](data []K, dir Direction) {
	n := len(data)
	if n <= 1 {
		return
	}
	half := n / 2
	compareExchange(data, half, dir)
	Merge(data[:half], dir)
	Merge(data[half:], dir)
}

func compareExchange[K Key](data []K, dist int, dir Direction) {
	for i := 0; i < dist; i++ {
		a, b := data[i], data[i+dist]
		if (dir == Ascending && a > b) || (dir == Descending && a < b) {
			data[i], data[i+dist] = b, a
		}
	}
}
