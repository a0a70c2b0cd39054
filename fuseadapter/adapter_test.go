package fuseadapter

import (
	"syscall"
	"testing"

	"github.com/tinyfs/xv6fs"
)

func TestErrnoForMapsSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want syscall.Errno
	}{
		{nil, 0},
		{xv6fs.ErrNotFound, syscall.ENOENT},
		{xv6fs.ErrExist, syscall.EEXIST},
		{xv6fs.ErrIsDir, syscall.EISDIR},
		{xv6fs.ErrNotDir, syscall.ENOTDIR},
		{xv6fs.ErrNotEmpty, syscall.ENOTEMPTY},
		{xv6fs.ErrNameTooLong, syscall.ENAMETOOLONG},
		{xv6fs.ErrIO, syscall.EIO},
	}
	for _, c := range cases {
		if got := errnoFor(c.err); got != c.want {
			t.Errorf("errnoFor(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := newPool(2)
	active := make(chan struct{}, 2)
	done := make(chan struct{})

	go func() {
		p.execute(func() syscall.Errno {
			active <- struct{}{}
			<-done
			return 0
		})
	}()
	go func() {
		p.execute(func() syscall.Errno {
			active <- struct{}{}
			<-done
			return 0
		})
	}()

	<-active
	<-active
	if p.sem.TryAcquire(1) {
		t.Fatalf("pool of size 2 admitted a third concurrent operation")
	}
	close(done)
}
