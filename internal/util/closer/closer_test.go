package closer_test

import (
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"

	"github.com/lattice-io/hostrt/internal/util/closer"
)

type fakeCloser struct {
	closed bool
	err    error
}

func (f *fakeCloser) Close() error {
	f.closed = true
	return f.err
}

func TestCloseQuietlyClosesAndSwallowsError(t *testing.T) {
	c := &fakeCloser{err: errors.New("boom")}
	assert.NotPanics(t, func() {
		closer.CloseQuietly(c, logr.Discard(), "test pipe")
	})
	assert.True(t, c.closed)
}

func TestCloseQuietlyIgnoresNilCloser(t *testing.T) {
	assert.NotPanics(t, func() {
		closer.CloseQuietly(nil, logr.Discard(), "test pipe")
	})
}

func TestCloseQuietlyWithoutLoggerClosesAndSwallowsError(t *testing.T) {
	c := &fakeCloser{err: errors.New("boom")}
	assert.NotPanics(t, func() {
		closer.CloseQuietlyWithoutLogger(c)
	})
	assert.True(t, c.closed)
}

func TestCloseQuietlyWithoutLoggerIgnoresNilCloser(t *testing.T) {
	assert.NotPanics(t, func() {
		closer.CloseQuietlyWithoutLogger(nil)
	})
}
