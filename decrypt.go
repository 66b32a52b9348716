package zipkit

import "hash/crc32"

// decryptHeaderLen is the length of the PKWARE encryption header that
// precedes the ciphertext of an encrypted member, per spec.md §4.4.
const decryptHeaderLen = 12

// decrypter implements the PKWARE traditional (legacy) stream cipher, per
// spec.md §4.4 and libzip2.py's _ZipDecrypter. It is a three-key, byte-at-a-
// time cipher: every plaintext byte produced also feeds back into the key
// state via its own CRC-32 update step.
type decrypter struct {
	key0, key1, key2 uint32
}

// newDecrypter derives the initial key state from pwd, matching
// _ZipDecrypter.__init__.
func newDecrypter(pwd []byte) *decrypter {
	d := &decrypter{key0: 305419896, key1: 591751049, key2: 878082192}
	for _, b := range pwd {
		d.updateKeys(b)
	}
	return d
}

func (d *decrypter) crc32Step(crc uint32, b byte) uint32 {
	return (crc >> 8) ^ crc32.IEEETable[(crc^uint32(b))&0xff]
}

func (d *decrypter) updateKeys(b byte) {
	d.key0 = d.crc32Step(d.key0, b)
	d.key1 = (d.key1 + (d.key0 & 0xff)) * 134775813 + 1
	d.key2 = d.crc32Step(d.key2, byte(d.key1>>24))
}

// decryptByte decrypts one ciphertext byte, advancing the key state with
// the plaintext byte it recovers.
func (d *decrypter) decryptByte(c byte) byte {
	k := d.key2 | 2
	p := c ^ byte((k*(k^1))>>8)
	d.updateKeys(p)
	return p
}

// decrypt decrypts data in place and returns it, matching
// _ZipDecrypter.__call__ applied over a buffer instead of one byte.
func (d *decrypter) decrypt(data []byte) []byte {
	for i, c := range data {
		data[i] = d.decryptByte(c)
	}
	return data
}

// consumeHeader decrypts the 12-byte encryption header and verifies its
// check byte, per spec.md §9 open question 1: the check byte is compared
// against the high byte of the entry's raw DOS time when the data-
// descriptor flag is set, else against the high byte of the CRC-32. This
// preserves libzip2.py's exact (and admittedly surprising) choice rather
// than "fixing" it, since zip writers in the wild rely on either form.
func (d *decrypter) consumeHeader(header []byte, e *Entry) error {
	if len(header) != decryptHeaderLen {
		return newBadZipFile("corrupt encryption header")
	}
	plain := d.decrypt(append([]byte(nil), header...))
	var check byte
	if e.Flags&flagUseDataDescriptor != 0 {
		check = byte(e.RawTime >> 8)
	} else {
		check = byte(e.CRC32 >> 24)
	}
	if plain[decryptHeaderLen-1] != check {
		return newBadPassword(e.Name)
	}
	return nil
}
