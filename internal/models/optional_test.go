package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptional(t *testing.T) {
	t.Run("zero value is unavailable", func(t *testing.T) {
		var o Optional[int]
		_, ok := o.Get()
		assert.False(t, ok)
		assert.Equal(t, 7, o.OrElse(7))
		assert.Equal(t, "NA", o.String())
	})

	t.Run("some holds value", func(t *testing.T) {
		o := Some(2.5)
		v, ok := o.Get()
		assert.True(t, ok)
		assert.Equal(t, 2.5, v)
		assert.Equal(t, "2.5", o.String())
	})

	t.Run("yaml of none is nil", func(t *testing.T) {
		v, err := None[string]().MarshalYAML()
		assert.NoError(t, err)
		assert.Nil(t, v)
	})
}
