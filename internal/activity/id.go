package activity

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	objectDigits = 10
	verbDigits   = 3
	suffixDigits = objectDigits + verbDigits
	millisDigits = 13
	keyDigits    = millisDigits + suffixDigits

	maxObjectID = 10_000_000_000
	maxVerbID   = 1_000
	maxMillis   = 10_000_000_000_000
)

// ID is an activity's serialization id.
//
// Written out it is the epoch milliseconds of the activity followed by the
// object id left padded to 10 digits and the verb id left padded to 3 digits:
//
//	1373266755000 0000000042 008 -> 1373266755000000000042008
//
// The number does not fit in 64 bits, so it is held as the millisecond prefix
// and the 13 digit suffix. Comparing the pair is the same as comparing the
// integer.
type ID struct {
	millis int64
	suffix uint64
}

// NewID computes the serialization id for the given parts.
func NewID(t time.Time, objectID int64, verbID int) (ID, error) {
	if t.IsZero() {
		return ID{}, fmt.Errorf("%w: cannot serialize an activity without a time", ErrValidation)
	}
	if objectID < 0 || objectID >= maxObjectID {
		return ID{}, fmt.Errorf("%w: object id %d has too many digits", ErrValidation, objectID)
	}
	if verbID < 0 || verbID >= maxVerbID {
		return ID{}, fmt.Errorf("%w: verb id %d has too many digits", ErrValidation, verbID)
	}
	ms := t.UnixMilli()
	if ms < 0 || ms >= maxMillis {
		return ID{}, fmt.Errorf("%w: time %s out of range", ErrValidation, t.Format(time.RFC3339))
	}
	return ID{millis: ms, suffix: uint64(objectID)*maxVerbID + uint64(verbID)}, nil
}

// ParseID parses the decimal form produced by String or Key.
func ParseID(s string) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("%w: empty serialization id", ErrValidation)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ID{}, fmt.Errorf("%w: serialization id %q is not a decimal number", ErrValidation, s)
		}
	}
	trimmed := strings.TrimLeft(s, "0")
	if len(trimmed) > keyDigits {
		return ID{}, fmt.Errorf("%w: serialization id %q has too many digits", ErrValidation, s)
	}
	padded := strings.Repeat("0", keyDigits-len(trimmed)) + trimmed

	ms, err := strconv.ParseInt(padded[:millisDigits], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	suffix, err := strconv.ParseUint(padded[millisDigits:], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return ID{millis: ms, suffix: suffix}, nil
}

// MustParseID is ParseID for constants in tests and fixtures.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) Millis() int64 { return id.millis }

func (id ID) ObjectID() int64 { return int64(id.suffix / maxVerbID) }

func (id ID) VerbID() int { return int(id.suffix % maxVerbID) }

func (id ID) IsZero() bool { return id.millis == 0 && id.suffix == 0 }

// String returns the canonical decimal form.
func (id ID) String() string {
	if id.millis == 0 {
		return strconv.FormatUint(id.suffix, 10)
	}
	return strconv.FormatInt(id.millis, 10) + fmt.Sprintf("%0*d", suffixDigits, id.suffix)
}

// Key returns the id zero padded to a fixed width, so byte order matches
// numeric order. Storage backends use it as member key and sort score.
func (id ID) Key() string {
	return fmt.Sprintf("%0*d%0*d", millisDigits, id.millis, suffixDigits, id.suffix)
}

// Big returns the exact integer value.
func (id ID) Big() *big.Int {
	n, _ := new(big.Int).SetString(id.String(), 10)
	return n
}

// Compare returns -1, 0 or 1.
func (id ID) Compare(other ID) int {
	switch {
	case id.millis < other.millis:
		return -1
	case id.millis > other.millis:
		return 1
	case id.suffix < other.suffix:
		return -1
	case id.suffix > other.suffix:
		return 1
	}
	return 0
}

func (id ID) Less(other ID) bool { return id.Compare(other) < 0 }

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
