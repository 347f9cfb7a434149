package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Types_QBEMapping(t *testing.T) {
	assert.Equal(t, "w", Integer.QBE())
	assert.Equal(t, "l", Long.QBE())
	assert.Equal(t, "s", Single.QBE())
	assert.Equal(t, "d", Double.QBE())
	assert.Equal(t, "l", String.QBE(), "strings are refcounted handles")
	assert.Equal(t, "l", Record.QBE())
}

func Test_Types_SizesAndAllocs(t *testing.T) {
	assert.Equal(t, 4, Integer.Size())
	assert.Equal(t, 8, Long.Size())
	assert.Equal(t, 4, Single.Size())
	assert.Equal(t, 8, Double.Size())
	assert.Equal(t, "alloc4", Integer.Alloc())
	assert.Equal(t, "alloc8", Double.Alloc())
}

func Test_Types_LoadStoreOps(t *testing.T) {
	assert.Equal(t, "loadsw", Integer.LoadOp())
	assert.Equal(t, "storew", Integer.StoreOp())
	assert.Equal(t, "loadd", Double.LoadOp())
	assert.Equal(t, "stored", Double.StoreOp())
	assert.Equal(t, "loadl", String.LoadOp())
	assert.Equal(t, "storel", String.StoreOp())
}

func Test_Types_FromSigil(t *testing.T) {
	assert.Equal(t, String, FromSigil("A$"))
	assert.Equal(t, Integer, FromSigil("A%"))
	assert.Equal(t, Long, FromSigil("A&"))
	assert.Equal(t, Single, FromSigil("A!"))
	assert.Equal(t, Double, FromSigil("A#"))
	assert.Equal(t, Double, FromSigil("A"), "no sigil defaults to DOUBLE")
}

func Test_Types_FromName(t *testing.T) {
	for name, want := range map[string]Kind{
		"INTEGER": Integer, "long": Long, "Single": Single,
		"DOUBLE": Double, "STRING": String,
	} {
		got, ok := FromName(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := FromName("POINT")
	assert.False(t, ok)
}

func Test_Types_PromotionLadder(t *testing.T) {
	assert.Equal(t, Integer, Promote(Integer, Integer))
	assert.Equal(t, Long, Promote(Integer, Long))
	assert.Equal(t, Single, Promote(Integer, Single))
	assert.Equal(t, Double, Promote(Single, Long), "single with long widens to double")
	assert.Equal(t, Double, Promote(Double, Integer))
	assert.Equal(t, String, Promote(String, String))
}

func Test_Types_ConversionOps(t *testing.T) {
	assert.Equal(t, "extsw", ConvertOp(Integer, Long))
	assert.Equal(t, "swtof", ConvertOp(Integer, Double))
	assert.Equal(t, "sltof", ConvertOp(Long, Single))
	assert.Equal(t, "exts", ConvertOp(Single, Double))
	assert.Equal(t, "truncd", ConvertOp(Double, Single))
	assert.Equal(t, "dtosi", ConvertOp(Double, Integer))
	assert.Equal(t, "stosi", ConvertOp(Single, Long))
	assert.Equal(t, "", ConvertOp(Integer, Integer))
	assert.Equal(t, "", ConvertOp(Long, String), "same register class needs no instruction")
}

func Test_Types_RuntimeSuffixBytes(t *testing.T) {
	assert.Equal(t, byte('%'), Integer.Suffix())
	assert.Equal(t, byte('&'), Long.Suffix())
	assert.Equal(t, byte('!'), Single.Suffix())
	assert.Equal(t, byte('#'), Double.Suffix())
	assert.Equal(t, byte('$'), String.Suffix())
}
