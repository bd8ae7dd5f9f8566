// Package fracindex generates fractional index keys for ordering siblings.
//
// A key is an "integer" part followed by an optional fraction, all drawn
// from the base-62 alphabet 0-9A-Za-z. The first character of the integer
// part encodes its length: 'a'..'z' are non-negative integers of 2..27
// characters, 'A'..'Z' are negative integers of 27..2 characters. Keys
// compare with plain byte-wise string comparison, and a key strictly
// between any two distinct keys always exists, so inserting never requires
// renumbering siblings.
//
// The first key handed out is "a0". Fractions never end in '0', which keeps
// every key's successor space non-empty.
package fracindex

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Digits is the ordered base-62 alphabet.
const Digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	zero byte = '0'
	last byte = 'z'
)

// smallestInteger is the minimum integer part; nothing sorts before a key
// that is exactly this value, so it is never handed out on its own.
var smallestInteger = "A" + strings.Repeat(string(zero), 26)

var (
	// ErrInvalidKey is returned for keys that are not well-formed.
	ErrInvalidKey = errors.New("invalid fractional index")

	// ErrOutOfOrder is returned when prev >= next.
	ErrOutOfOrder = errors.New("fractional index bounds out of order")

	// ErrExhausted is returned when the integer range is exhausted at either end.
	ErrExhausted = errors.New("fractional index range exhausted")
)

// Between returns a key that sorts strictly between prev and next.
//
// An empty prev means "before next" (insert first) and an empty next means
// "after prev" (insert last); both empty returns the initial key "a0".
func Between(prev, next string) (string, error) {
	if prev != "" {
		if err := Validate(prev); err != nil {
			return "", err
		}
	}
	if next != "" {
		if err := Validate(next); err != nil {
			return "", err
		}
	}
	if prev != "" && next != "" && prev >= next {
		return "", fmt.Errorf("%w: %q >= %q", ErrOutOfOrder, prev, next)
	}

	if prev == "" {
		if next == "" {
			return "a" + string(zero), nil
		}
		ib, _ := integerPart(next)
		fb := next[len(ib):]
		if ib == smallestInteger {
			return ib + midpoint("", fb, false), nil
		}
		if ib < next {
			return ib, nil
		}
		res, ok := decrementInteger(ib)
		if !ok {
			return "", fmt.Errorf("%w: cannot insert before %q", ErrExhausted, next)
		}
		return res, nil
	}

	if next == "" {
		ia, _ := integerPart(prev)
		fa := prev[len(ia):]
		if i, ok := incrementInteger(ia); ok {
			return i, nil
		}
		return ia + midpoint(fa, "", true), nil
	}

	ia, _ := integerPart(prev)
	fa := prev[len(ia):]
	ib, _ := integerPart(next)
	fb := next[len(ib):]
	if ia == ib {
		return ia + midpoint(fa, fb, false), nil
	}
	i, ok := incrementInteger(ia)
	if !ok {
		return "", fmt.Errorf("%w: cannot increment %q", ErrExhausted, ia)
	}
	if i < next {
		return i, nil
	}
	return ia + midpoint(fa, "", true), nil
}

// BetweenJittered is like Between but appends random base-62 digits when
// doing so keeps the key strictly below next. Two replicas inserting at the
// same position therefore produce different keys with high probability.
func BetweenJittered(prev, next string) (string, error) {
	key, err := Between(prev, next)
	if err != nil {
		return "", err
	}
	for attempt := 0; attempt < 4; attempt++ {
		candidate := key + randomSuffix(3)
		if next == "" || candidate < next {
			return candidate, nil
		}
	}
	return key, nil
}

// NBetween returns n keys in ascending order, all strictly between prev and
// next, spread by repeated bisection.
func NBetween(prev, next string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	if n == 1 {
		k, err := Between(prev, next)
		if err != nil {
			return nil, err
		}
		return []string{k}, nil
	}
	if next == "" {
		keys := make([]string, 0, n)
		cur := prev
		for i := 0; i < n; i++ {
			k, err := Between(cur, "")
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
			cur = k
		}
		return keys, nil
	}
	if prev == "" {
		keys := make([]string, n)
		cur := next
		for i := n - 1; i >= 0; i-- {
			k, err := Between("", cur)
			if err != nil {
				return nil, err
			}
			keys[i] = k
			cur = k
		}
		return keys, nil
	}

	mid := n / 2
	c, err := Between(prev, next)
	if err != nil {
		return nil, err
	}
	left, err := NBetween(prev, c, mid)
	if err != nil {
		return nil, err
	}
	right, err := NBetween(c, next, n-mid-1)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, n)
	keys = append(keys, left...)
	keys = append(keys, c)
	keys = append(keys, right...)
	return keys, nil
}

// Validate reports whether key is a well-formed fractional index.
func Validate(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if key == smallestInteger {
		return fmt.Errorf("%w: %q is the reserved minimum", ErrInvalidKey, key)
	}
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(Digits, key[i]) < 0 {
			return fmt.Errorf("%w: %q has invalid character %q", ErrInvalidKey, key, key[i])
		}
	}
	i, err := integerPart(key)
	if err != nil {
		return err
	}
	f := key[len(i):]
	if f != "" && f[len(f)-1] == zero {
		return fmt.Errorf("%w: %q has a trailing zero", ErrInvalidKey, key)
	}
	return nil
}

// midpoint returns a fraction between a and b, where b == "" with open set
// means no upper bound. Both inputs are fractions without trailing zeros.
func midpoint(a, b string, open bool) string {
	if !open {
		// Strip the common prefix, treating a as zero-padded.
		n := 0
		for n < len(b) && digitAt(a, n) == b[n] {
			n++
		}
		if n > 0 {
			return b[:n] + midpoint(tail(a, n), b[n:], false)
		}
	}

	digitA := 0
	if a != "" {
		digitA = strings.IndexByte(Digits, a[0])
	}
	digitB := len(Digits)
	if !open {
		digitB = strings.IndexByte(Digits, b[0])
	}

	if digitB-digitA > 1 {
		return string(Digits[(digitA+digitB+1)/2])
	}

	// First digits are consecutive.
	if !open && len(b) > 1 {
		return b[:1]
	}
	return string(Digits[digitA]) + midpoint(tail(a, 1), "", true)
}

func digitAt(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return zero
}

func tail(s string, n int) string {
	if n >= len(s) {
		return ""
	}
	return s[n:]
}

func integerLength(head byte) (int, error) {
	switch {
	case head >= 'a' && head <= 'z':
		return int(head-'a') + 2, nil
	case head >= 'A' && head <= 'Z':
		return int('Z'-head) + 2, nil
	default:
		return 0, fmt.Errorf("%w: invalid integer head %q", ErrInvalidKey, head)
	}
}

func integerPart(key string) (string, error) {
	n, err := integerLength(key[0])
	if err != nil {
		return "", err
	}
	if n > len(key) {
		return "", fmt.Errorf("%w: %q is shorter than its integer part", ErrInvalidKey, key)
	}
	return key[:n], nil
}

func incrementInteger(x string) (string, bool) {
	head := x[0]
	digs := []byte(x[1:])
	carry := true
	for i := len(digs) - 1; carry && i >= 0; i-- {
		d := strings.IndexByte(Digits, digs[i]) + 1
		if d == len(Digits) {
			digs[i] = zero
		} else {
			digs[i] = Digits[d]
			carry = false
		}
	}
	if !carry {
		return string(head) + string(digs), true
	}
	switch head {
	case 'Z':
		return "a" + string(zero), true
	case 'z':
		return "", false
	}
	h := head + 1
	if h > 'a' {
		digs = append(digs, zero)
	} else {
		digs = digs[:len(digs)-1]
	}
	return string(h) + string(digs), true
}

func decrementInteger(x string) (string, bool) {
	head := x[0]
	digs := []byte(x[1:])
	borrow := true
	for i := len(digs) - 1; borrow && i >= 0; i-- {
		d := strings.IndexByte(Digits, digs[i]) - 1
		if d == -1 {
			digs[i] = last
		} else {
			digs[i] = Digits[d]
			borrow = false
		}
	}
	if !borrow {
		return string(head) + string(digs), true
	}
	switch head {
	case 'a':
		return "Z" + string(last), true
	case 'A':
		return "", false
	}
	h := head - 1
	if h < 'Z' {
		digs = append(digs, last)
	} else {
		digs = digs[:len(digs)-1]
	}
	return string(h) + string(digs), true
}

// randomSuffix returns n random base-62 digits, the last one non-zero.
func randomSuffix(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		lo := int64(0)
		if i == n-1 {
			lo = 1
		}
		v, err := rand.Int(rand.Reader, big.NewInt(int64(len(Digits))-lo))
		if err != nil {
			buf[i] = Digits[len(Digits)/2]
			continue
		}
		buf[i] = Digits[v.Int64()+lo]
	}
	return string(buf)
}
