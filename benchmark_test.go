package layfs

import (
	"fmt"
	"strings"
	"testing"
)

func BenchmarkResolve(b *testing.B) {
	tm := newTestMount(b)
	tm.writeBase(b, "/dir/file.txt", "content")
	tm.writeOverlay(b, "/dir/other.txt", "content")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tm.Resolver().Resolve("/dir/file.txt"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReadFile(b *testing.B) {
	tm := newTestMount(b)
	tm.writeBase(b, "/data.bin", strings.Repeat("x", 64<<10))
	buf := make([]byte, 32<<10)

	b.SetBytes(64 << 10)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, err := tm.CreateOrOpen(OpenRequest{Path: "/data.bin", Access: AccessReadData, Disposition: Open})
		if err != nil {
			b.Fatal(err)
		}
		for off := int64(0); ; {
			n, err := tm.Read(h, buf, off)
			if err != nil {
				b.Fatal(err)
			}
			if n == 0 {
				break
			}
			off += int64(n)
		}
		tm.Close(h)
	}
}

func BenchmarkWriteFile(b *testing.B) {
	tm := newTestMount(b)
	data := []byte(strings.Repeat("y", 4<<10))

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, err := tm.CreateOrOpen(OpenRequest{
			Path:        fmt.Sprintf("/w%d", i%100),
			Access:      AccessWriteData,
			Disposition: Create,
		})
		if err != nil {
			b.Fatal(err)
		}
		if _, err := tm.Write(h, data, 0); err != nil {
			b.Fatal(err)
		}
		tm.Close(h)
	}
}

// BenchmarkCopyUp measures the first write-intent open of base files
func BenchmarkCopyUp(b *testing.B) {
	for _, size := range []int{1 << 10, 1 << 20} {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			tm := newTestMount(b)
			content := strings.Repeat("z", size)
			for i := 0; i < b.N; i++ {
				tm.writeBase(b, fmt.Sprintf("/f%d", i), content)
			}

			b.SetBytes(int64(size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				h, err := tm.CreateOrOpen(OpenRequest{
					Path:        fmt.Sprintf("/f%d", i),
					Access:      AccessWriteData,
					Disposition: Open,
				})
				if err != nil {
					b.Fatal(err)
				}
				tm.Close(h)
			}
		})
	}
}

func BenchmarkListEntries(b *testing.B) {
	tm := newTestMount(b)
	for i := 0; i < 100; i++ {
		tm.writeBase(b, fmt.Sprintf("/dir/base%03d.txt", i), "b")
		if i%2 == 0 {
			tm.writeOverlay(b, fmt.Sprintf("/dir/base%03d.txt", i), "o")
		}
		if i%10 == 0 {
			tm.writeOverlay(b, fmt.Sprintf("/dir/new%03d.txt", i), "n")
		}
	}
	h := tm.open(b, OpenRequest{Path: "/dir", Access: AccessReadData, Disposition: Open, Directory: true})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		list, err := tm.ListEntries(h, "*.txt")
		if err != nil {
			b.Fatal(err)
		}
		if len(list) != 110 {
			b.Fatalf("got %d entries", len(list))
		}
	}
}
