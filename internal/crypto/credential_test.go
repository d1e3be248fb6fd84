package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

var fast = Params{Time: 1, Memory: 8 * 1024, Threads: 1}

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal", n)
	}
}

func TestSealVerify(t *testing.T) {
	t.Parallel()

	h := NewHasher(fast)
	sealed, err := h.Seal("correct horse")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !IsSealed(sealed) || strings.Contains(sealed, "correct horse") {
		t.Fatalf("unexpected sealed form %q", sealed)
	}
	if !strings.Contains(sealed, "$m=8192,t=1,p=1$") {
		t.Fatalf("params not recorded: %q", sealed)
	}

	ok, err := Verify("correct horse", sealed)
	if err != nil || !ok {
		t.Fatalf("Verify(correct) = %v, %v", ok, err)
	}
	ok, err = Verify("wrong horse", sealed)
	if err != nil || ok {
		t.Fatalf("Verify(wrong) = %v, %v", ok, err)
	}

	again, err := h.Seal("correct horse")
	if err != nil {
		t.Fatalf("Seal(2): %v", err)
	}
	if again == sealed {
		t.Fatalf("same password sealed twice must differ by salt")
	}
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	for _, s := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$!!$aGFzaA",
	} {
		if _, err := Verify("pw", s); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Verify(%q) err=%v, want ErrMalformed", s, err)
		}
	}
}

func TestNewHasher_Defaults(t *testing.T) {
	t.Parallel()

	h := NewHasher(Params{})
	if h.p != DefaultParams {
		t.Fatalf("params=%+v, want %+v", h.p, DefaultParams)
	}
}
