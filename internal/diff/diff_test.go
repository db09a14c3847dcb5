package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorge-barreto/patchr/internal/scan"
	"github.com/jorge-barreto/patchr/internal/state"
)

func TestFile_Modify(t *testing.T) {
	out := File("a.py", "x = 1\ny = 2\n", "x = 1\ny = 3\n", false)
	assert.Contains(t, out, "--- a/a.py")
	assert.Contains(t, out, "+++ b/a.py")
	assert.Contains(t, out, "-y = 2")
	assert.Contains(t, out, "+y = 3")
}

func TestFile_Unchanged(t *testing.T) {
	assert.Empty(t, File("a.py", "x = 1\n", "x = 1\n", false))
}

func TestFile_New(t *testing.T) {
	out := File("agents/new.py", "", "def run():\n    pass\n", true)
	assert.Contains(t, out, "--- /dev/null")
	assert.Contains(t, out, "+def run():")
}

func TestPatchAndSummarize(t *testing.T) {
	tree := scan.Tree{
		{Path: "main.py", Content: []byte("import agents\n\nagents.run()\n")},
	}
	files := []state.File{
		{Path: "main.py", Content: "import agents\n\nagents.run()\nagents.stop()\n"},
		{Path: "agents/new.py", Content: "def run():\n    pass\n"},
	}
	p := Patch(tree, files)

	st, err := Summarize(p)
	require.NoError(t, err)
	require.Len(t, st.Files, 2)

	// path order
	assert.Equal(t, "agents/new.py", st.Files[0].Path)
	assert.True(t, st.Files[0].New)
	assert.Equal(t, 2, st.Files[0].Added)
	assert.Equal(t, "main.py", st.Files[1].Path)
	assert.False(t, st.Files[1].New)
	assert.Equal(t, 1, st.Files[1].Added)
	assert.Equal(t, 0, st.Files[1].Removed)

	assert.Equal(t, 3, st.Added)
	assert.Equal(t, "2 files changed, +3 -0", st.String())
}

func TestSummarize_Empty(t *testing.T) {
	st, err := Summarize("")
	require.NoError(t, err)
	assert.Empty(t, st.Files)
	assert.Equal(t, "0 files changed, +0 -0", st.String())
}
