package id

// Gen generates the number id.
type Gen func() uint64

// KeyGen hands out unique ids, as numbers or as 8 bytes
// ordered keys (see infra.OrderedKeyBytes).
type KeyGen interface {
	Number() uint64
	Key() []byte
}

var (
	_ KeyGen = (*keyDelegator)(nil)
)

type keyDelegator struct {
	number Gen
	key    func() []byte
}

func (id *keyDelegator) Number() uint64 { return id.number() }
func (id *keyDelegator) Key() []byte    { return id.key() }
