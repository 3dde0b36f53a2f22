package util

import "testing"

import "github.com/stretchr/testify/assert"

func TestRound(t *testing.T) {
	assert.Equal(t, 4096, Roundup(1, 4096))
	assert.Equal(t, 4096, Roundup(4096, 4096))
	assert.Equal(t, 0, Rounddown(4095, 4096))
	assert.Equal(t, 8192, Rounddown(8193, 4096))
}

func TestReadWriten(t *testing.T) {
	buf := make([]uint8, 16)
	Writen(buf, 8, 0, -2)
	assert.Equal(t, -2, Readn(buf, 8, 0))
	Writen(buf, 4, 8, 0x11223344)
	assert.Equal(t, 0x44, Readn(buf, 1, 8))
	assert.Equal(t, 0x3344, Readn(buf, 2, 8))
	assert.Equal(t, 0x11223344, Readn(buf, 4, 8))
	assert.Panics(t, func() { Readn(buf, 3, 0) })
}
