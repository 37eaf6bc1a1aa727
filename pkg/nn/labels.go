package nn

// Manifest lists the images in one image set, along with their labels.
// This is the JSON file format that the dataset readers consume.
type Manifest struct {
	Classes []string       `json:"classes"`
	Images  []*ImageLabels `json:"images"`
}

type ImageLabels struct {
	File    string           `json:"file"` // Relative to the data path
	Objects []LabelledObject `json:"objects"`
}

// LabelledObject is a ground truth object inside an image
type LabelledObject struct {
	Class string      `json:"class"`
	Box   Rect        `json:"box"`            // In pixels of the original image
	Cuts  *[4]float32 `json:"cuts,omitempty"` // Octagon corner cuts (TL, TR, BR, BL), in pixels of the original image
}
