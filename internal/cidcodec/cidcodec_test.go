package cidcodec

import (
	"errors"
	"testing"
)

func TestChainValueHexEncodedCID(t *testing.T) {
	d := New(nil)
	got, err := d.ChainValue("0x516d5568443771523731436f5269356d733478503145366d44316b59773279636e586f4d763273543871394e434d")
	if err != nil {
		t.Fatalf("ChainValue returned error: %v", err)
	}
	if want := "QmUhD7qR71CoRi5ms4xP1E6mD1kYw2ycnXoMv2sT8q9NCM"; got != want {
		t.Fatalf("decoded %q, want %q", got, want)
	}
}

func TestChainValueLiteralBase16(t *testing.T) {
	d := New(nil)
	in := "f017012202c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae"
	got, err := d.ChainValue(in)
	if err != nil {
		t.Fatalf("ChainValue returned error: %v", err)
	}
	if got != in {
		t.Fatalf("decoded %q, want input returned verbatim", got)
	}
}

func TestChainValuePassthrough(t *testing.T) {
	d := New(nil)
	in := "QmXgZAUc4pB89nNjV8x7h6X1YsvCnKqjGscHpYPSUxQUY4"
	got, err := d.ChainValue(in)
	if err != nil {
		t.Fatalf("ChainValue returned error: %v", err)
	}
	if got != in {
		t.Fatalf("decoded %q, want %q", got, in)
	}
}

func TestChainValueUndecodable(t *testing.T) {
	d := New(nil)
	if _, err := d.ChainValue("0xThisIsNotHex"); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable, got %v", err)
	}
	if _, err := d.ChainValue("   "); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable for blank input, got %v", err)
	}
}

func TestChainValueCIDv1Passthrough(t *testing.T) {
	d := New(nil)
	in := "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"
	got, err := d.ChainValue(in)
	if err != nil {
		t.Fatalf("ChainValue returned error: %v", err)
	}
	if got != in {
		t.Fatalf("decoded %q, want %q", got, in)
	}
}

func TestFileHashCharCodes(t *testing.T) {
	d := New(nil)
	want := "QmUhD7qR71CoRi5ms4xP1E6mD1kYw2ycnXoMv2sT8q9NCM"
	codes := make([]int, 0, len(want))
	for _, r := range want {
		codes = append(codes, int(r))
	}
	got, err := d.FileHash(codes)
	if err != nil {
		t.Fatalf("FileHash returned error: %v", err)
	}
	if got != want {
		t.Fatalf("decoded %q, want %q", got, want)
	}
}

func TestFileHashHexCharCodes(t *testing.T) {
	d := New(nil)
	hexForm := "516d5568443771523731436f5269356d733478503145366d44316b59773279636e586f4d763273543871394e434d"
	codes := make([]int, 0, len(hexForm))
	for _, r := range hexForm {
		codes = append(codes, int(r))
	}
	got, err := d.FileHash(codes)
	if err != nil {
		t.Fatalf("FileHash returned error: %v", err)
	}
	if want := "QmUhD7qR71CoRi5ms4xP1E6mD1kYw2ycnXoMv2sT8q9NCM"; got != want {
		t.Fatalf("decoded %q, want %q", got, want)
	}
}

func TestFileHashEmpty(t *testing.T) {
	d := New(nil)
	if _, err := d.FileHash(nil); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable, got %v", err)
	}
}
