package dataset

import "github.com/cyclopcam/detrain/pkg/nn"

// MatchAnchors assigns each ground truth box to an anchor.
// A box takes the unused anchor with the highest IoU. If no unused anchor overlaps it,
// the box falls back to the unused anchor with the smallest squared distance in
// (cx, cy, w, h) space. No two boxes of one image share an anchor.
// Returns one anchor index per box, or -1 if every anchor is already taken.
func MatchAnchors(anchors []nn.Box, boxes []nn.Box) []int {
	used := make(map[int]bool, len(boxes))
	result := make([]int, len(boxes))
	for j, box := range boxes {
		best := -1
		bestIoU := float32(0)
		for i := range anchors {
			if used[i] {
				continue
			}
			if iou := box.IOU(anchors[i]); iou > bestIoU {
				bestIoU = iou
				best = i
			}
		}
		if best == -1 {
			bestDist := float32(0)
			for i := range anchors {
				if used[i] {
					continue
				}
				if d := box.SquaredDistance(anchors[i]); best == -1 || d < bestDist {
					bestDist = d
					best = i
				}
			}
		}
		result[j] = best
		if best != -1 {
			used[best] = true
		}
	}
	return result
}
