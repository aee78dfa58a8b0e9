package types

// PerMessageDeflate configures the minimum frame size, in bytes, worth
// paying the deflate cost for (spec.md §4.7's `.compress(bool)`, mirroring
// the teacher's per-message-deflate option surface).
type PerMessageDeflate struct {
	Threshold int `json:"threshold,omitempty" msgpack:"threshold,omitempty"`
}

// Void is the zero-size value type stored in a Set's backing map.
type Void struct{}

// NULL is the single Void value.
var NULL Void

// noCopy may be added to structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
//
// Note that it must not be embedded, due to the Lock and Unlock methods.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
