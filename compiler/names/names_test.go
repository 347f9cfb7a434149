package names

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Names_CanonUppercasesAndTagsSigils(t *testing.T) {
	assert.Equal(t, "COUNT", Canon("count"))
	assert.Equal(t, "N_s", Canon("n$"))
	assert.Equal(t, "N_i", Canon("N%"))
	assert.Equal(t, "N_l", Canon("n&"))
	assert.Equal(t, "N_f", Canon("N!"))
	assert.Equal(t, "N_d", Canon("n#"))
}

func Test_Names_SigilKeepsVariablesDistinct(t *testing.T) {
	assert.NotEqual(t, Canon("N"), Canon("N$"))
	assert.NotEqual(t, Canon("N$"), Canon("N%"))
}

func Test_Names_ReservedWordsAreEscaped(t *testing.T) {
	assert.Equal(t, "v_MAIN_", Var("main"))
	assert.Equal(t, "g_POW_", Global("Pow"))
	assert.Equal(t, "fn_MALLOC_", Func("malloc"))
	assert.Equal(t, "v_COUNT", Var("Count"))
}

func Test_Names_BlockLabels(t *testing.T) {
	assert.Equal(t, "b0", Block(0, ""))
	assert.Equal(t, "b3.for.header", Block(3, "for.header"))
	assert.Equal(t, "b7.line.100", Block(7, "line.100"))
}

func Test_Names_BlockLabelSanitizesOddRunes(t *testing.T) {
	assert.Equal(t, "b1.a.b", Block(1, "a b"))
}

func Test_Names_StringConstAndDescriptors(t *testing.T) {
	assert.Equal(t, "str.0", StringConst(0))
	assert.Equal(t, "str.12", StringConst(12))
	assert.Equal(t, "arr_A_i", ArrayDescriptor("a%"))
}
