package tinfo

import "testing"

import "github.com/stretchr/testify/assert"

import "github.com/Starry-Mix-THU/starry-mix/defs"

func TestUseraccessScope(t *testing.T) {
	n := Mknote(3)
	assert.False(t, n.Accessing_user())

	err := n.Useraccess(func() defs.Err_t {
		assert.True(t, n.Accessing_user())
		err := n.Useraccess(func() defs.Err_t {
			return 0
		})
		assert.True(t, n.Accessing_user(), "inner scope must not clear the outer")
		assert.Equal(t, defs.Err_t(0), err)
		return -defs.EFAULT
	})
	assert.Equal(t, -defs.EFAULT, err)
	assert.False(t, n.Accessing_user())
}

func TestUseraccessPanic(t *testing.T) {
	n := Mknote(4)
	assert.Panics(t, func() {
		n.Useraccess(func() defs.Err_t {
			panic("fault")
		})
	})
	assert.False(t, n.Accessing_user())
}

func TestExiting(t *testing.T) {
	n := Mknote(5)
	assert.True(t, n.Mark_exiting())
	assert.False(t, n.Mark_exiting())
	assert.True(t, n.Exiting())
}
