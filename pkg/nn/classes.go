package nn

const (
	KITTICar        = 0
	KITTIPedestrian = 1
	KITTICyclist    = 2
)

// KITTI classes
var KITTIClasses = []string{
	"car",
	"pedestrian",
	"cyclist",
}

// Cityscape classes
var CityscapeClasses = []string{
	"person",
	"rider",
	"car",
	"truck",
	"bus",
	"train",
	"motorcycle",
	"bicycle",
}

// ClassIndex returns the index of 'name' in 'classes', or -1
func ClassIndex(classes []string, name string) int {
	for i, c := range classes {
		if c == name {
			return i
		}
	}
	return -1
}
