package snmptest

import (
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
)

func echo(req *gosnmp.SnmpPacket) *gosnmp.SnmpPacket { return Response(req) }

func TestFaults_DropFirst(t *testing.T) {
	f := NewFaults(1).DropFirst(2)
	h := f.Wrap(echo)
	req := &gosnmp.SnmpPacket{RequestID: 7}

	for i := 0; i < 2; i++ {
		if h(req) != nil {
			t.Fatalf("request %d answered, want dropped", i)
		}
	}
	if resp := h(req); resp == nil || resp.RequestID != 7 {
		t.Errorf("third request = %v, want echo", resp)
	}
	if got := f.Hits()[FaultDrop]; got != 2 {
		t.Errorf("drop hits = %d, want 2", got)
	}
}

func TestFaults_StaleID(t *testing.T) {
	f := NewFaults(1, FaultConfig{Probability: 1, Type: FaultStaleID})
	resp := f.Wrap(echo)(&gosnmp.SnmpPacket{RequestID: 41})
	if resp == nil || resp.RequestID != 42 {
		t.Errorf("response = %v, want request-id 42", resp)
	}
}

func TestFaults_Delay(t *testing.T) {
	f := NewFaults(1, FaultConfig{Probability: 1, Type: FaultDelay, MinDelay: 20 * time.Millisecond, MaxDelay: 30 * time.Millisecond})
	start := time.Now()
	if f.Wrap(echo)(&gosnmp.SnmpPacket{}) == nil {
		t.Fatal("delayed request not answered")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("answered after %v, want at least 20ms", elapsed)
	}
}

func TestFaults_NeverFires(t *testing.T) {
	f := NewFaults(1, FaultConfig{Probability: 0, Type: FaultDrop})
	h := f.Wrap(echo)
	for i := 0; i < 50; i++ {
		if h(&gosnmp.SnmpPacket{}) == nil {
			t.Fatal("request dropped with probability 0")
		}
	}
	if len(f.Hits()) != 0 {
		t.Errorf("Hits() = %v, want none", f.Hits())
	}
}
