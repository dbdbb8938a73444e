package hal

import "testing"

func TestIntrStatus_HostBits(t *testing.T) {
	tests := []struct {
		status IntrStatus
		want   uint8
	}{
		{0, 0},
		{IntrRecvDone, 0},
		{IntrSendDone | 0x05, 0x05},
		{IntrAll, 0xFF},
	}
	for _, tt := range tests {
		if got := tt.status.HostBits(); got != tt.want {
			t.Errorf("IntrStatus(%#x).HostBits() = %#x, want %#x", uint32(tt.status), got, tt.want)
		}
	}
}

func TestIntrStatus_Has(t *testing.T) {
	s := IntrRecvDone | 0x01
	if !s.Has(IntrRecvDone) {
		t.Error("Has(IntrRecvDone) = false")
	}
	if s.Has(IntrSendDone) {
		t.Error("Has(IntrSendDone) = true")
	}
	if s.Has(IntrRecvDone | IntrSendDone) {
		t.Error("Has(both) = true")
	}
}

func TestRegisterLayout(t *testing.T) {
	if IntVectorLast-IntVectorFirst+1 != 4 {
		t.Errorf("interrupt vector spans %d registers, want 4", IntVectorLast-IntVectorFirst+1)
	}
	if IntVectorLast >= NumRegisters {
		t.Errorf("interrupt vector outside register file")
	}
}
