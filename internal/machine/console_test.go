package machine

import "testing"

func TestConsoleStatusReflectsInputQueue(t *testing.T) {
	c := NewConsoles(nil)

	if status, _ := c.Status(0); status != 0x00 {
		t.Fatalf("Status(0) = %#x before push, want 0x00", status)
	}

	_ = c.Push(0, 'x')

	if status, _ := c.Status(0); status != 0xFF {
		t.Fatalf("Status(0) = %#x after push, want 0xFF", status)
	}
}

func TestConsoleAtMostOnceDelivery(t *testing.T) {
	c := NewConsoles(nil)

	_ = c.Push(0, 'A')

	b, err := c.ReadChar(0)
	if err != nil || b != 'A' {
		t.Fatalf("ReadChar(0) = %q, %v, want 'A', nil", b, err)
	}

	// No second byte was pushed; a second read must time out to 0x00, not
	// redeliver 'A'.
	b, err = c.ReadChar(0)
	if err != nil || b != 0x00 {
		t.Fatalf("second ReadChar(0) = %q, %v, want 0x00, nil", b, err)
	}
}

func TestConsoleOutputFIFOOrder(t *testing.T) {
	c := NewConsoles(nil)

	for _, b := range []byte("hello") {
		_ = c.WriteChar(0, b, nil)
	}

	for _, want := range []byte("hello") {
		got, ok, err := c.Drain(0)
		if err != nil || !ok {
			t.Fatalf("Drain(0) = %q, %v, %v", got, ok, err)
		}

		if got != want {
			t.Fatalf("Drain(0) = %q, want %q", got, want)
		}
	}
}

func TestConsoleOutputDropsOldestWhenFull(t *testing.T) {
	c := NewConsoles(nil)

	for i := 0; i < ConsoleOutputCapacity+1; i++ {
		_ = c.WriteChar(0, byte(i), nil)
	}

	// The oldest byte (0) should have been evicted; the first byte
	// drained should be 1.
	got, ok, _ := c.Drain(0)
	if !ok || got != 1 {
		t.Fatalf("Drain(0) after overflow = %d, %v, want 1, true", got, ok)
	}
}

func TestConsoleLocalEcho(t *testing.T) {
	c := NewConsoles(nil)

	console, _ := c.Get(3)
	console.LocalEcho = true
	console.Connected = false

	var echoed []byte

	_ = c.WriteChar(3, 'z', func(b byte) { echoed = append(echoed, b) })

	if len(echoed) != 1 || echoed[0] != 'z' {
		t.Fatalf("echoed = %v, want ['z']", echoed)
	}
}

func TestFreeConsoleScansDownward(t *testing.T) {
	c := NewConsoles(nil)

	idx, ok := c.FreeConsole()
	if !ok || idx != NumConsoles-1 {
		t.Fatalf("FreeConsole() = %d, %v, want %d, true", idx, ok, NumConsoles-1)
	}

	_ = c.Connect(idx, 80, 24, "vt100")

	idx2, ok := c.FreeConsole()
	if !ok || idx2 != NumConsoles-2 {
		t.Fatalf("FreeConsole() = %d, %v, want %d, true", idx2, ok, NumConsoles-2)
	}
}

func TestConsoleResetPreservesQueues(t *testing.T) {
	c := NewConsoles(nil)

	_ = c.Connect(0, 80, 24, "vt100")
	_ = c.Push(0, 'A')

	if err := c.Reset(0); err != nil {
		t.Fatalf("Reset(0) = %v", err)
	}

	console, _ := c.Get(0)
	if console.Connected {
		t.Error("Connected = true after Reset, want false")
	}

	b, err := c.ReadChar(0)
	if err != nil || b != 'A' {
		t.Errorf("ReadChar(0) after Reset = %q, %v, want 'A', nil", b, err)
	}
}

func TestConsoleInvalidIndexIsError(t *testing.T) {
	c := NewConsoles(nil)

	if _, err := c.Get(NumConsoles); err == nil {
		t.Fatal("Get(out of range) = nil, want error")
	}
}
