package errcatalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogLoads(t *testing.T) {
	c := Default()
	require.NotNil(t, c)
	assert.Equal(t, 867, c.Len())
	assert.Len(t, c.HardResetCodes(), 16)
}

func TestLookup(t *testing.T) {
	c := Default()

	e, err := c.Lookup(0x201200)
	require.NoError(t, err)
	assert.Equal(t, "Temp Trip IGBT 3", e.Text)
	assert.Equal(t, "0x201200", e.Hex())
	assert.False(t, e.HardReset)

	e, err = c.Lookup(0x010000)
	require.NoError(t, err)
	assert.True(t, e.HardReset)
	assert.False(t, c.Acknowledgeable(0x010000))

	_, err = c.Lookup(0xFFFFFF)
	assert.ErrorIs(t, err, ErrUnknownErrorCode)
}

func TestAcknowledgeable(t *testing.T) {
	c := Default()
	assert.True(t, c.Acknowledgeable(0x060000))
	assert.False(t, c.Acknowledgeable(0x06000A))
	// unknown codes are acknowledged
	assert.True(t, c.Acknowledgeable(0xFFFFFF))
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, uint32(0x060000), Identifier(0x06000042))
	assert.Equal(t, uint32(0), Identifier(0xFF))
}

func TestParseCode(t *testing.T) {
	v, err := ParseCode("0x060000")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x060000), v)

	v, err = ParseCode("393216")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x060000), v)

	_, err = ParseCode("DSC")
	assert.Error(t, err)
}

func TestLoadKeepsFirstDuplicate(t *testing.T) {
	doc := []byte(`
entries:
  - code: 0x000010
    name: first
    hard_reset: true
    text: " A "
  - code: 16
    name: second
`)
	c, err := Load(doc)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	e, err := c.Lookup(0x10)
	require.NoError(t, err)
	assert.Equal(t, "first", e.Name)
	assert.Equal(t, "A", e.Text)
}

func TestLoadRejectsBadCode(t *testing.T) {
	_, err := Load([]byte("entries:\n  - code: nope\n"))
	assert.Error(t, err)
}
