package engine

import (
	"bytes"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, fs *FS, p string) []byte {
	t.Helper()
	attr, err := fs.GetAttr(p)
	require.NoError(t, err)
	buf := make([]byte, attr.Size)
	n, err := fs.Read(p, buf, 0)
	require.NoError(t, err)
	return buf[:n]
}

func TestScenario(t *testing.T) {
	fs, _ := setupTestFS(t, 64<<10)

	require.NoError(t, fs.Mkdir("/d"))
	require.NoError(t, fs.Mknod("/d/f"))

	n, err := fs.Write("/d/f", []byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 10)
	n, err = fs.Read("/d/f", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf[:5]))

	attr, err := fs.GetAttr("/d/f")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), attr.Size)
	assert.Equal(t, uint32(1), attr.Nlink)

	require.NoError(t, fs.Unlink("/d/f"))
	require.NoError(t, fs.Rmdir("/d"))

	names, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Empty(t, names)
	require.NoError(t, fs.Check())
}

func TestCreate(t *testing.T) {
	fs, _ := setupTestFS(t, 64<<10)
	require.NoError(t, fs.Mkdir("/dir"))
	require.NoError(t, fs.Mknod("/file"))

	tests := []struct {
		name string
		path string
		dir  bool
		want error
	}{
		{"nested file", "/dir/a", false, nil},
		{"nested dir", "/dir/sub", true, nil},
		{"duplicate file", "/file", false, ErrAlreadyExists},
		{"dir over file", "/file", true, ErrAlreadyExists},
		{"file over dir", "/dir", false, ErrAlreadyExists},
		{"missing parent", "/nope/a", false, ErrNotFound},
		{"file parent", "/file/a", true, ErrNotADirectory},
		{"root", "/", true, ErrInvalidArgument},
		{"root file", "/", false, ErrInvalidArgument},
		{"empty path", "", false, ErrInvalidArgument},
		{"dot", "/dir/.", false, ErrInvalidArgument},
		{"dotdot", "/dir/..", true, ErrInvalidArgument},
		{"longest name", "/" + strings.Repeat("n", NameMax), false, nil},
		{"name too long", "/" + strings.Repeat("n", NameMax+1), false, ErrNameTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.dir {
				err = fs.Mkdir(tt.path)
			} else {
				err = fs.Mknod(tt.path)
			}
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
	require.NoError(t, fs.Check())
}

func TestCreateNormalizesSlashes(t *testing.T) {
	fs, _ := setupTestFS(t, 64<<10)
	require.NoError(t, fs.Mkdir("//a/"))
	require.NoError(t, fs.Mknod("/a///b"))

	attr, err := fs.GetAttr("a/b")
	require.NoError(t, err)
	assert.False(t, attr.IsDir())
}

func TestCreateUpdatesParentTimes(t *testing.T) {
	fs, _ := setupTestFS(t, 64<<10)
	require.NoError(t, fs.Mkdir("/d"))
	before, err := fs.GetAttr("/d")
	require.NoError(t, err)

	require.NoError(t, fs.Mknod("/d/f"))
	after, err := fs.GetAttr("/d")
	require.NoError(t, err)
	assert.True(t, after.Mtime.After(before.Mtime))
	assert.True(t, after.Ctime.After(before.Ctime))
	assert.Equal(t, before.Atime, after.Atime)
}

func TestManyChildren(t *testing.T) {
	fs, _ := setupTestFS(t, 1<<20)
	require.NoError(t, fs.Mkdir("/d"))

	var want []string
	for i := 0; i < 100; i++ {
		name := "f" + strings.Repeat("x", i%7) + string(rune('a'+i%26)) + string(rune('0'+i/26))
		want = append(want, name)
		require.NoError(t, fs.Mknod("/d/"+name))
	}
	names, err := fs.ReadDir("/d")
	require.NoError(t, err)
	sort.Strings(want)
	sort.Strings(names)
	assert.Equal(t, want, names)

	for _, name := range want[:50] {
		require.NoError(t, fs.Unlink("/d/"+name))
	}
	names, err = fs.ReadDir("/d")
	require.NoError(t, err)
	sort.Strings(names)
	assert.Equal(t, want[50:], names)
	require.NoError(t, fs.Check())
}

func TestReadDir(t *testing.T) {
	fs, _ := setupTestFS(t, 64<<10)
	require.NoError(t, fs.Mknod("/f"))

	_, err := fs.ReadDir("/f")
	assert.ErrorIs(t, err, ErrNotADirectory)
	_, err = fs.ReadDir("/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	names, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, names)

	// The caller owns the slice.
	names[0] = "changed"
	names, err = fs.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, names)
}

func TestUnlink(t *testing.T) {
	fs, _ := setupTestFS(t, 64<<10)
	require.NoError(t, fs.Mkdir("/d"))
	require.NoError(t, fs.Mknod("/d/f"))
	_, err := fs.Write("/d/f", bytes.Repeat([]byte{1}, 3000), 0)
	require.NoError(t, err)
	usedBefore, _ := fs.Usage()

	assert.ErrorIs(t, fs.Unlink("/d"), ErrIsADirectory)
	assert.ErrorIs(t, fs.Unlink("/"), ErrIsADirectory)
	assert.ErrorIs(t, fs.Unlink("/d/missing"), ErrNotFound)
	assert.ErrorIs(t, fs.Unlink("/missing/f"), ErrNotFound)

	require.NoError(t, fs.Unlink("/d/f"))
	_, err = fs.GetAttr("/d/f")
	assert.ErrorIs(t, err, ErrNotFound)

	usedAfter, _ := fs.Usage()
	assert.Less(t, usedAfter, usedBefore)
}

func TestRmdir(t *testing.T) {
	fs, _ := setupTestFS(t, 64<<10)
	require.NoError(t, fs.Mkdir("/d"))
	require.NoError(t, fs.Mknod("/d/f"))

	assert.ErrorIs(t, fs.Rmdir("/d"), ErrDirectoryNotEmpty)
	assert.ErrorIs(t, fs.Rmdir("/d/f"), ErrNotADirectory)
	assert.ErrorIs(t, fs.Rmdir("/missing"), ErrNotFound)
	assert.ErrorIs(t, fs.Rmdir("/"), ErrInvalidArgument)

	require.NoError(t, fs.Unlink("/d/f"))
	require.NoError(t, fs.Rmdir("/d"))

	// Create then remove on the same empty path always succeeds.
	for i := 0; i < 10; i++ {
		require.NoError(t, fs.Mkdir("/d"))
		require.NoError(t, fs.Rmdir("/d"))
	}
	require.NoError(t, fs.Check())
}

func TestReadWrite(t *testing.T) {
	fs, _ := setupTestFS(t, 256<<10)
	require.NoError(t, fs.Mknod("/f"))

	tests := []struct {
		name string
		off  int64
		data []byte
	}{
		{"start", 0, []byte("hello world")},
		{"overwrite", 6, []byte("there")},
		{"past end", 100, []byte("gap")},
		{"large", 5000, bytes.Repeat([]byte("0123456789"), 2000)},
		{"inside", 3, []byte("XY")},
	}
	var model []byte
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := fs.Write("/f", tt.data, tt.off)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), n)

			end := int(tt.off) + len(tt.data)
			if end > len(model) {
				model = append(model, make([]byte, end-len(model))...)
			}
			copy(model[tt.off:], tt.data)

			got := make([]byte, len(tt.data))
			n, err = fs.Read("/f", got, tt.off)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), n)
			assert.Equal(t, tt.data, got)

			assert.Equal(t, model, readAll(t, fs, "/f"))
		})
	}

	// The gap left by the write past the end reads as zero.
	gap := make([]byte, 100-11)
	_, err := fs.Read("/f", gap, 11)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, len(gap)), gap)
	require.NoError(t, fs.Check())
}

func TestReadEdges(t *testing.T) {
	fs, _ := setupTestFS(t, 64<<10)
	require.NoError(t, fs.Mknod("/f"))
	require.NoError(t, fs.Mkdir("/d"))
	_, err := fs.Write("/f", []byte("abc"), 0)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := fs.Read("/f", buf, 3)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = fs.Read("/f", buf, 1000)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = fs.Read("/f", buf, 1)
	require.NoError(t, err)
	assert.Equal(t, "bc", string(buf[:n]))

	_, err = fs.Read("/d", buf, 0)
	assert.ErrorIs(t, err, ErrIsADirectory)
	_, err = fs.Read("/missing", buf, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Read("/f", buf, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWriteEdges(t *testing.T) {
	fs, _ := setupTestFS(t, 16<<10)
	require.NoError(t, fs.Mknod("/f"))
	require.NoError(t, fs.Mkdir("/d"))

	_, err := fs.Write("/d", []byte("x"), 0)
	assert.ErrorIs(t, err, ErrIsADirectory)
	_, err = fs.Write("/missing", []byte("x"), 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Write("/f", []byte("x"), -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	n, err := fs.Write("/f", nil, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = fs.Write("/f", []byte("x"), 1<<40)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	_, err = fs.Write("/f", make([]byte, 12<<10), 0)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	attr, err := fs.GetAttr("/f")
	require.NoError(t, err)
	assert.Zero(t, attr.Size)
}

func TestWriteUpdatesTimes(t *testing.T) {
	fs, _ := setupTestFS(t, 64<<10)
	require.NoError(t, fs.Mknod("/f"))
	before, err := fs.GetAttr("/f")
	require.NoError(t, err)

	_, err = fs.Write("/f", []byte("x"), 0)
	require.NoError(t, err)
	after, err := fs.GetAttr("/f")
	require.NoError(t, err)
	assert.True(t, after.Mtime.After(before.Mtime))
	assert.Equal(t, before.Atime, after.Atime)
}

func TestTruncate(t *testing.T) {
	fs, _ := setupTestFS(t, 256<<10)
	require.NoError(t, fs.Mknod("/f"))
	require.NoError(t, fs.Mkdir("/d"))
	content := []byte("The quick brown fox jumps over the lazy dog")
	_, err := fs.Write("/f", content, 0)
	require.NoError(t, err)

	tests := []struct {
		name string
		size int64
	}{
		{"shrink", 9},
		{"grow within class", 40},
		{"grow", 5000},
		{"shrink class", 100},
		{"same", 100},
		{"empty", 0},
		{"regrow", 64},
	}
	model := append([]byte(nil), content...)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, fs.Truncate("/f", tt.size))
			if int(tt.size) <= len(model) {
				model = model[:tt.size]
			} else {
				model = append(model, make([]byte, int(tt.size)-len(model))...)
			}

			attr, err := fs.GetAttr("/f")
			require.NoError(t, err)
			assert.Equal(t, uint64(tt.size), attr.Size)
			assert.Equal(t, model, readAll(t, fs, "/f"))
		})
	}

	assert.ErrorIs(t, fs.Truncate("/f", -1), ErrInvalidArgument)
	assert.ErrorIs(t, fs.Truncate("/d", 0), ErrIsADirectory)
	assert.ErrorIs(t, fs.Truncate("/missing", 0), ErrNotFound)
	assert.ErrorIs(t, fs.Truncate("/f", 1<<40), ErrOutOfSpace)
	require.NoError(t, fs.Check())
}

func TestOpen(t *testing.T) {
	fs, _ := setupTestFS(t, 64<<10)
	require.NoError(t, fs.Mknod("/f"))
	require.NoError(t, fs.Mkdir("/d"))

	kind, err := fs.Open("/f")
	require.NoError(t, err)
	assert.Equal(t, KindFile, kind)

	kind, err = fs.Open("/d")
	require.NoError(t, err)
	assert.Equal(t, KindDirectory, kind)

	kind, err = fs.Open("/")
	require.NoError(t, err)
	assert.Equal(t, KindDirectory, kind)

	_, err = fs.Open("/missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Open("/f/x")
	assert.ErrorIs(t, err, ErrNotADirectory)
}

func TestUtimens(t *testing.T) {
	fs, _ := setupTestFS(t, 64<<10)
	require.NoError(t, fs.Mknod("/f"))
	require.NoError(t, fs.Mkdir("/d"))
	before, err := fs.GetAttr("/f")
	require.NoError(t, err)

	at := time.Unix(1_000_000, 42)
	mt := time.Unix(2_000_000, 999_999_999)
	require.NoError(t, fs.Utimens("/f", TimespecOf(at), TimespecOf(mt)))
	attr, err := fs.GetAttr("/f")
	require.NoError(t, err)
	assert.True(t, at.Equal(attr.Atime))
	assert.True(t, mt.Equal(attr.Mtime))
	assert.True(t, attr.Ctime.After(before.Ctime))

	t.Run("omit", func(t *testing.T) {
		require.NoError(t, fs.Utimens("/f", TimeOmit, TimespecOf(at)))
		attr, err := fs.GetAttr("/f")
		require.NoError(t, err)
		assert.True(t, at.Equal(attr.Atime))
		assert.True(t, at.Equal(attr.Mtime))
	})

	t.Run("now", func(t *testing.T) {
		require.NoError(t, fs.Utimens("/f", TimeNow, TimeOmit))
		attr, err := fs.GetAttr("/f")
		require.NoError(t, err)
		assert.True(t, attr.Atime.After(at))
		assert.True(t, at.Equal(attr.Mtime))
		assert.Equal(t, attr.Atime, attr.Ctime)
	})

	t.Run("directory", func(t *testing.T) {
		require.NoError(t, fs.Utimens("/d", TimespecOf(at), TimespecOf(at)))
	})

	t.Run("rejected", func(t *testing.T) {
		assert.ErrorIs(t, fs.Utimens("/", TimeNow, TimeNow), ErrInvalidArgument)
		assert.ErrorIs(t, fs.Utimens("/missing", TimeNow, TimeNow), ErrNotFound)
		assert.ErrorIs(t, fs.Utimens("/f", Timespec{Nsec: -1}, TimeOmit), ErrInvalidArgument)
		assert.ErrorIs(t, fs.Utimens("/f", TimeOmit, Timespec{Nsec: int64(time.Second)}), ErrInvalidArgument)
	})
}

func TestStatfs(t *testing.T) {
	fs, _ := setupTestFS(t, 64<<10)

	var st Statfs
	require.NoError(t, fs.Statfs(&st))
	assert.Equal(t, uint64(BlockSize), st.BlockSize)
	assert.Equal(t, uint64(64), st.Blocks)
	assert.Equal(t, uint64(NameMax), st.NameMax)
	assert.Equal(t, st.BlocksFree, st.BlocksAvail)
	free := st.BlocksFree

	require.NoError(t, fs.Mknod("/f"))
	_, err := fs.Write("/f", make([]byte, 8<<10), 0)
	require.NoError(t, err)
	require.NoError(t, fs.Statfs(&st))
	assert.Less(t, st.BlocksFree, free)

	require.NoError(t, fs.Unlink("/f"))
	require.NoError(t, fs.Statfs(&st))
	assert.Equal(t, free, st.BlocksFree)

	assert.ErrorIs(t, fs.Statfs(nil), ErrInvalidArgument)
}

func TestAttrOwner(t *testing.T) {
	fs, _ := setupTestFS(t, 64<<10, WithOwner(1000, 100))
	require.NoError(t, fs.Mknod("/f"))

	attr, err := fs.GetAttr("/f")
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), attr.Uid)
	assert.Equal(t, uint32(100), attr.Gid)
	assert.Equal(t, 0o644, int(attr.Mode.Perm()))
	assert.NotZero(t, attr.Ino)

	root, err := fs.GetAttr("/")
	require.NoError(t, err)
	assert.True(t, root.Mode.IsDir())
	assert.NotEqual(t, root.Ino, attr.Ino)
}
