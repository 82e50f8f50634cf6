//go:build !integration

package unit

import (
	"testing"

	"github.com/Algebraic-Programming/DeployR"
	"github.com/Algebraic-Programming/DeployR/internal/constants"
	"github.com/Algebraic-Programming/DeployR/internal/interfaces"
	"github.com/Algebraic-Programming/DeployR/transport/local"
)

// These tests pin down the public contract without running a deployment.

func TestReservedNames(t *testing.T) {
	if constants.GetTopologyTarget != "[DeployR] Get Topology" {
		t.Errorf("GetTopologyTarget = %q", constants.GetTopologyTarget)
	}
	if deployr.GetTopologyTarget != constants.GetTopologyTarget {
		t.Error("public re-export diverged from the internal constant")
	}
}

func TestSlotKeys(t *testing.T) {
	// Wire-level constants; remote fabrics depend on the exact values.
	if constants.SlotKeySizes != 0 {
		t.Errorf("SlotKeySizes = %d, want 0", constants.SlotKeySizes)
	}
	if constants.SlotKeyCoordSizes != 3 {
		t.Errorf("SlotKeyCoordSizes = %d, want 3", constants.SlotKeyCoordSizes)
	}
	if constants.SlotKeyCoordPayloads != 4 {
		t.Errorf("SlotKeyCoordPayloads = %d, want 4", constants.SlotKeyCoordPayloads)
	}
	if constants.SlotKeyPayload != 5 {
		t.Errorf("SlotKeyPayload = %d, want 5", constants.SlotKeyPayload)
	}
}

func TestTransportInterfaceCompliance(t *testing.T) {
	var _ interfaces.Transport = (*local.Instance)(nil)

	var _ interfaces.Observer = (*deployr.MetricsObserver)(nil)
	var _ interfaces.Observer = deployr.NoOpObserver{}
	var _ interfaces.Observer = (*deployr.RecordingObserver)(nil)
}

func TestCoordCellLayout(t *testing.T) {
	if constants.CoordCellSize != 16 {
		t.Errorf("CoordCellSize = %d, want 16 (two uint64 counters)", constants.CoordCellSize)
	}
	if constants.SizeEntrySize != 16 {
		t.Errorf("SizeEntrySize = %d, want 16 (position + length)", constants.SizeEntrySize)
	}
}
