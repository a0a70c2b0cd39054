package xv6fs

import "sync"

// Log implements the write-ahead log of spec.md §4.3: a fixed-size region
// of the disk that batches the writes of one or more concurrently
// outstanding transactions into a single, crash-atomic group commit.
//
// The scheme is the xv6/original_source log.rs one: a transaction records
// which blocks it touched; when the last outstanding transaction ends, the
// log writes the touched blocks to the log region, persists a header
// recording how many and which, installs them to their home location, then
// clears the header. A crash at any point before the header write leaves
// the home blocks untouched; a crash after leaves a header recovery replays
// from.
type Log struct {
	dev   *Device
	cache *BufferCache
	sb    *superblock

	mu          sync.Mutex
	cond        *sync.Cond
	committing  bool
	outstanding int
	blocks      []uint32 // distinct block numbers touched by outstanding transactions
	index       map[uint32]int
}

// NewLog returns a log for the region described by sb, and immediately
// recovers any committed-but-not-installed transaction found in the log
// header.
func NewLog(dev *Device, cache *BufferCache, sb *superblock) *Log {
	l := &Log{dev: dev, cache: cache, sb: sb, index: make(map[uint32]int)}
	l.cond = sync.NewCond(&l.mu)
	l.recover()
	return l
}

func (l *Log) readHead() logHeader {
	b := l.cache.Get(l.sb.LogStart)
	h := unmarshalLogHeader(b.Data()[:])
	l.cache.Release(b)
	return h
}

func (l *Log) writeHead(h logHeader) {
	b := l.cache.Get(l.sb.LogStart)
	*b.Data() = h.marshal()
	b.MarkDirty()
	l.cache.WriteBack(b)
	l.cache.Release(b)
}

// recover replays any transaction left committed in the log header at
// mount time, then clears the header. Run once, before any transaction is
// admitted.
func (l *Log) recover() {
	h := l.readHead()
	if h.N == 0 {
		return
	}
	if h.N >= LOGSIZE {
		fatalf("xv6fs: log header records %d blocks, log holds at most %d", h.N, LOGSIZE-1)
	}
	for i := uint32(0); i < h.N; i++ {
		l.installOne(i, h.Blocks[i])
	}
	l.writeHead(logHeader{})
}

func (l *Log) installOne(logIndex uint32, home uint32) {
	lb := l.cache.Get(l.sb.LogStart + 1 + logIndex)
	data := *lb.Data()
	l.cache.Release(lb)

	hb := l.cache.Get(home)
	*hb.Data() = data
	hb.MarkDirty()
	l.cache.WriteBack(hb)
	l.cache.Release(hb)
}

// Transaction is a scoped handle on one logical write operation. Begin
// blocks until the transaction can be admitted without exceeding the log's
// capacity; End must be called exactly once, typically via defer, since Go
// has no destructors to enforce this automatically.
type Transaction struct {
	log  *Log
	done bool
}

// Begin admits a new transaction, blocking while a commit is in progress or
// while admitting it could cause the log to overflow: spec.md bounds the
// number of concurrently outstanding transactions to LOGSIZE/MAXOPBLOCKS.
func (l *Log) Begin() *Transaction {
	l.mu.Lock()
	for {
		full := l.committing || (len(l.blocks)+(l.outstanding+1)*MAXOPBLOCKS > LOGSIZE)
		if !full {
			break
		}
		l.cond.Wait()
	}
	l.outstanding++
	l.mu.Unlock()
	return &Transaction{log: l}
}

// Write logs a dirty write to blockno as part of txn. Multiple writes to
// the same block within the set of outstanding transactions absorb into a
// single logged copy, so log space is consumed per distinct block, not per
// write call. Returns ErrTxnFull if logging this block would exceed
// LOGSIZE-1 distinct blocks; spec.md allows surfacing this as an ordinary
// error instead of the source's panic, see DESIGN.md.
func (t *Transaction) Write(blockno uint32) error {
	l := t.log
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[blockno]; ok {
		return nil
	}
	if len(l.blocks) >= LOGSIZE-1 {
		return ErrTxnFull
	}
	l.index[blockno] = len(l.blocks)
	l.blocks = append(l.blocks, blockno)
	return nil
}

// End releases txn's outstanding slot. If txn was the last outstanding
// transaction, it performs the grouped commit (write log, write header,
// install, clear header) before returning. In either case it wakes every
// waiter in Begin so they can recheck admission.
func (t *Transaction) End() {
	if t.done {
		return
	}
	t.done = true

	l := t.log
	l.mu.Lock()
	l.outstanding--
	doCommit := l.outstanding == 0 && len(l.blocks) > 0
	if doCommit {
		l.committing = true
	}
	l.mu.Unlock()

	if doCommit {
		l.commit()
		l.mu.Lock()
		l.blocks = nil
		l.index = make(map[uint32]int)
		l.committing = false
		l.mu.Unlock()
	}

	l.cond.Broadcast()
}

// commit performs the four-step grouped commit of spec.md §4.3: write the
// log body, write the log header, install to home locations, clear the
// header. It must run with no other transaction able to log new blocks,
// which End guarantees by only calling it once outstanding reaches zero.
func (l *Log) commit() {
	var h logHeader
	h.N = uint32(len(l.blocks))
	for i, blockno := range l.blocks {
		h.Blocks[i] = blockno

		src := l.cache.Get(blockno)
		data := *src.Data()
		l.cache.Release(src)

		dst := l.cache.Get(l.sb.LogStart + 1 + uint32(i))
		*dst.Data() = data
		dst.MarkDirty()
		l.cache.WriteBack(dst)
		l.cache.Release(dst)
	}

	l.writeHead(h)

	for i, blockno := range l.blocks {
		l.installOne(uint32(i), blockno)
	}

	l.writeHead(logHeader{})
}
