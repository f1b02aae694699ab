package request

import "fmt"

type Direction byte

const (
	Read  Direction = 'r'
	Write Direction = 'w'
)

// Expect hints at the cardinality of the resource content.
type Expect byte

const (
	ExpectImage   Expect = 'i'
	ExpectImages  Expect = 'I'
	ExpectVolume  Expect = 'v'
	ExpectVolumes Expect = 'V'
	ExpectAny     Expect = '?'
)

// Mode is the direction of a request plus its expectation hint, written as
// a two letter string such as "ri" or "wI".
type Mode struct {
	Direction Direction
	Expect    Expect
}

// ParseMode accepts "r", "w" or a direction followed by one of "iIvV?".
func ParseMode(s string) (Mode, error) {
	if len(s) == 0 || len(s) > 2 {
		return Mode{}, fmt.Errorf("invalid request mode %q", s)
	}
	m := Mode{Direction: Direction(s[0]), Expect: ExpectAny}
	if m.Direction != Read && m.Direction != Write {
		return Mode{}, fmt.Errorf("invalid request mode %q: must start with r or w", s)
	}
	if len(s) == 2 {
		m.Expect = Expect(s[1])
	}
	if err := m.Expect.validate(); err != nil {
		return Mode{}, fmt.Errorf("invalid request mode %q: %w", s, err)
	}
	return m, nil
}

// MustMode is ParseMode for constant modes.
func MustMode(s string) Mode {
	m, err := ParseMode(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (e Expect) validate() error {
	switch e {
	case ExpectImage, ExpectImages, ExpectVolume, ExpectVolumes, ExpectAny:
		return nil
	}
	return fmt.Errorf("expectation must be one of i, I, v, V or ?, got %q", string(e))
}

func (m Mode) IsRead() bool  { return m.Direction == Read }
func (m Mode) IsWrite() bool { return m.Direction == Write }

func (m Mode) String() string {
	return string([]byte{byte(m.Direction), byte(m.Expect)})
}
