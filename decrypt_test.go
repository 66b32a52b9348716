package zipkit

import "testing"

// encryptBytes is a test-only mirror of decrypter.decryptByte that runs the
// cipher forward (plaintext -> ciphertext) so tests can construct known
// ciphertext without depending on a reference zip tool.
func encryptBytes(d *decrypter, data []byte) []byte {
	out := make([]byte, len(data))
	for i, p := range data {
		k := d.key2 | 2
		out[i] = p ^ byte((k*(k^1))>>8)
		d.updateKeys(p)
	}
	return out
}

func TestDecryptRoundTrip(t *testing.T) {
	pwd := []byte("s3cr3t")
	plain := []byte("hello, encrypted world!")

	enc := newDecrypter(pwd)
	cipher := encryptBytes(enc, append([]byte(nil), plain...))

	dec := newDecrypter(pwd)
	got := dec.decrypt(append([]byte(nil), cipher...))
	if string(got) != string(plain) {
		t.Errorf("decrypt = %q, want %q", got, plain)
	}
}

func TestDecryptWrongPasswordProducesGarbage(t *testing.T) {
	plain := []byte("a secret message")
	enc := newDecrypter([]byte("correct horse"))
	cipher := encryptBytes(enc, append([]byte(nil), plain...))

	dec := newDecrypter([]byte("wrong password"))
	got := dec.decrypt(append([]byte(nil), cipher...))
	if string(got) == string(plain) {
		t.Error("decrypt with wrong password unexpectedly recovered the plaintext")
	}
}

func TestConsumeHeaderAcceptsMatchingCheckByte(t *testing.T) {
	pwd := []byte("hunter2")
	e := &Entry{CRC32: 0xAABBCCDD}

	header := make([]byte, decryptHeaderLen)
	header[decryptHeaderLen-1] = byte(e.CRC32 >> 24)

	enc := newDecrypter(pwd)
	cipher := encryptBytes(enc, header)

	dec := newDecrypter(pwd)
	if err := dec.consumeHeader(cipher, e); err != nil {
		t.Fatalf("consumeHeader: %v", err)
	}
}

func TestConsumeHeaderRejectsWrongPassword(t *testing.T) {
	e := &Entry{CRC32: 0xAABBCCDD}
	header := make([]byte, decryptHeaderLen)
	header[decryptHeaderLen-1] = byte(e.CRC32 >> 24)

	enc := newDecrypter([]byte("right"))
	cipher := encryptBytes(enc, header)

	dec := newDecrypter([]byte("wrong"))
	if err := dec.consumeHeader(cipher, e); err == nil {
		t.Fatal("expected bad password error")
	}
}

func TestConsumeHeaderUsesDataDescriptorCheckByte(t *testing.T) {
	pwd := []byte("pw")
	e := &Entry{RawTime: 0x1234, Flags: flagUseDataDescriptor}

	header := make([]byte, decryptHeaderLen)
	header[decryptHeaderLen-1] = byte(e.RawTime >> 8)

	enc := newDecrypter(pwd)
	cipher := encryptBytes(enc, header)

	dec := newDecrypter(pwd)
	if err := dec.consumeHeader(cipher, e); err != nil {
		t.Fatalf("consumeHeader: %v", err)
	}
}

func TestConsumeHeaderRejectsShortHeader(t *testing.T) {
	dec := newDecrypter([]byte("pw"))
	if err := dec.consumeHeader(make([]byte, 4), &Entry{}); err == nil {
		t.Fatal("expected error for short header")
	}
}
