package pointid

import "testing"

func TestFromFrameID(t *testing.T) {
	id1 := FromFrameID("cam1.mp4_15012026153045125")
	id2 := FromFrameID("cam1.mp4_15012026153045125")
	if id1 != id2 {
		t.Errorf("same frame should give same ID: %q vs %q", id1, id2)
	}
	if !Valid(id1) {
		t.Errorf("ID should be a UUID: %q", id1)
	}
}

func TestFromFrameID_matchesUUID5(t *testing.T) {
	// Reference values for uuid5(NAMESPACE_DNS, name).
	tests := map[string]string{
		"cam1.mp4_15012026153045125": "9516f735-dc7f-5fc5-a85d-47b0980b8a25",
		"v1_a":                       "d8f30f91-b780-5cb3-a31f-ac066d4786bc",
	}
	for frameID, want := range tests {
		if got := FromFrameID(frameID); got != want {
			t.Errorf("FromFrameID(%q) = %s, want %s", frameID, got, want)
		}
	}
}

func TestFromFrameID_differentFrames(t *testing.T) {
	if FromFrameID("v1_a") == FromFrameID("v1_b") {
		t.Error("different frames should give different IDs")
	}
}

func TestValid(t *testing.T) {
	if Valid("not-a-uuid") {
		t.Error("garbage should not be valid")
	}
}
