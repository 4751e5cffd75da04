package pagetree

// Layout slot names. Instances without a slot land in the center region.
const (
	SlotHeader = "header"
	SlotFooter = "footer"
	SlotLeft   = "left"
	SlotRight  = "right"
	SlotCenter = "center"
)

var knownSlots = map[string]bool{
	SlotHeader: true,
	SlotFooter: true,
	SlotLeft:   true,
	SlotRight:  true,
	SlotCenter: true,
}

// RouteSlots partitions the root-level instances by their slot assignment.
// Unknown slot names fall back to center rather than dropping the instance.
func (t *Tree) RouteSlots() map[string][]*ComponentInstance {
	regions := make(map[string][]*ComponentInstance)
	for _, node := range t.Components {
		slot := node.Slot
		if !knownSlots[slot] {
			slot = SlotCenter
		}
		regions[slot] = append(regions[slot], node)
	}
	return regions
}
