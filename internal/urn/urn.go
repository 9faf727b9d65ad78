// Package urn formats MaveDB accession strings.
package urn

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	Prefix          = "urn:mavedb:"
	TemporaryPrefix = "tmp:"

	temporaryLength = 16
	alphanumeric    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxAttempts     = 32
)

var (
	ErrParentTemporary = errors.New("parent urn is temporary")
	ErrExhausted       = errors.New("could not generate a unique temporary urn")
)

// ExistsFunc reports whether a candidate is already taken.
type ExistsFunc func(ctx context.Context, candidate string) (bool, error)

// IsTemporary reports whether s is empty or a tmp: placeholder.
func IsTemporary(s string) bool {
	return s == "" || strings.HasPrefix(s, TemporaryPrefix)
}

// Temporary returns a fresh random placeholder.
func Temporary() (string, error) {
	buf := make([]byte, temporaryLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	out := make([]byte, temporaryLength)
	for i, b := range buf {
		out[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return TemporaryPrefix + string(out), nil
}

// GenerateTemporary draws placeholders until exists reports a free one.
func GenerateTemporary(ctx context.Context, exists ExistsFunc) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		candidate, err := Temporary()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrExhausted
}

// ExperimentSet derives the permanent urn from the set's primary key.
func ExperimentSet(id uint64) string {
	return fmt.Sprintf("%s%08d", Prefix, id)
}

// Experiment appends the letter suffix for the n-th experiment of a set.
func Experiment(parent string, n int) (string, error) {
	if IsTemporary(parent) {
		return "", fmt.Errorf("%w: experiment set %q", ErrParentTemporary, parent)
	}
	return parent + "-" + Letters(n), nil
}

func ScoreSet(parent string, n int) (string, error) {
	if IsTemporary(parent) {
		return "", fmt.Errorf("%w: experiment %q", ErrParentTemporary, parent)
	}
	return parent + "-" + strconv.Itoa(n), nil
}

func Variant(parent string, n int) (string, error) {
	if IsTemporary(parent) {
		return "", fmt.Errorf("%w: score set %q", ErrParentTemporary, parent)
	}
	return parent + "#" + strconv.Itoa(n), nil
}

// TemporaryVariant numbers a variant under an unpublished score set. These
// are replaced when the score set is published.
func TemporaryVariant(parent string, n int) string {
	return parent + "#" + strconv.Itoa(n)
}

// Letters converts n >= 1 to bijective base-26: 1 -> a, 26 -> z, 27 -> aa.
func Letters(n int) string {
	if n < 1 {
		return ""
	}
	var b []byte
	for n > 0 {
		n--
		b = append(b, byte('a'+n%26))
		n /= 26
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
