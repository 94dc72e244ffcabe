package hash

import "testing"

func TestBytesDeterministic(t *testing.T) {
	for _, test := range []struct {
		desc string
		data []byte
	}{
		{desc: "empty", data: nil},
		{desc: "short", data: []byte("hi")},
		{desc: "exactly one word", data: []byte("12345678")},
		{desc: "word plus tail", data: []byte("123456789ab")},
		{desc: "multi word", data: []byte("the quick brown fox jumps over the lazy dog")},
	} {
		t.Run(test.desc, func(t *testing.T) {
			a := Bytes(test.data)
			b := Bytes(append([]byte(nil), test.data...))
			if a != b {
				t.Errorf("Bytes(%q) not stable across calls: %d != %d", test.data, a, b)
			}
		})
	}
}

func TestBytesDiffersOnContent(t *testing.T) {
	a := Bytes([]byte("abc"))
	b := Bytes([]byte("abd"))
	if a == b {
		t.Errorf("Bytes(%q) == Bytes(%q), want distinct hashes", "abc", "abd")
	}
}

func TestBytesEmptyIsFixed(t *testing.T) {
	const want = uint64(1234567890)
	if got := Bytes(nil); got != want {
		t.Errorf("Bytes(nil) = %d, want %d (the unfolded seed)", got, want)
	}
}
