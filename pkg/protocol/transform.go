package protocol

// Transform is a reversible, positionally stateless byte transform applied
// to encoded frames before transmission. Implementations must satisfy
// Invert(Apply(b)) == b for any byte independently of its offset, so the
// stream assembler can de-obfuscate partial reads incrementally.
//
// This is a legacy obfuscation hook. It provides no confidentiality.
type Transform interface {
	Apply(data []byte)
	Invert(data []byte)
}

// XORMask XORs every byte with a fixed mask. The wire default is 0xFF.
type XORMask byte

func (m XORMask) Apply(data []byte) {
	for i := range data {
		data[i] ^= byte(m)
	}
}

func (m XORMask) Invert(data []byte) {
	m.Apply(data)
}

// Identity leaves bytes untouched.
type Identity struct{}

func (Identity) Apply(data []byte)  {}
func (Identity) Invert(data []byte) {}
