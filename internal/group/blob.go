package group

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // shared filesystem driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // in-memory driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"

	"github.com/withObsrvr/column-distributor/internal/logging"
)

// DefaultPollInterval is how often a Blob member checks for peer contributions.
const DefaultPollInterval = 500 * time.Millisecond

// contribution is one member's share of a reduction, stored as JSON.
type contribution struct {
	Rank   int     `json:"rank"`
	Values []int64 `json:"values"`
}

// joinRecord announces a live member to rank 0 for the current attempt.
type joinRecord struct {
	Rank  int    `json:"rank"`
	Nonce string `json:"nonce"`
}

// epochRecord is published by rank 0 once every member has joined. Members
// recognise the epoch of their own attempt by finding their nonce in it.
type epochRecord struct {
	Epoch     int            `json:"epoch"`
	Members   map[int]string `json:"members"`
	StartedAt time.Time      `json:"started_at"`
}

// abortRecord is written once by the first member to abort.
type abortRecord struct {
	Rank      int       `json:"rank"`
	Reason    string    `json:"reason"`
	AbortedAt time.Time `json:"aborted_at"`
}

// Blob is a member of a process group whose collectives go through a bucket
// every member can read and write: a shared filesystem or an object store.
//
// Every launch of a run is a new attempt with its own epoch, so a relaunch
// with the same run id never sees the reductions or abort marker of an
// earlier attempt. Members agree on the epoch lazily, before their first
// collective. Layout under the bucket, for run id R and epoch E:
//
//	runs/R/join/rank-<rank>.json
//	runs/R/epoch.json
//	runs/R/epochs/E/reduce/<seq>/rank-<rank>.json
//	runs/R/epochs/E/abort.json
type Blob struct {
	bucket *blob.Bucket
	owned  bool
	prefix string
	rank   int
	size   int
	poll   time.Duration
	nonce  string
	log    *slog.Logger

	joinMu sync.Mutex
	epoch  int // 0 until joined

	mu  sync.Mutex
	seq int
}

// BlobOptions tunes a Blob member.
type BlobOptions struct {
	PollInterval time.Duration
}

// OpenBlob opens bucketURL (file://, mem://, gs://, s3://) and joins the group
// of run runID as the given rank. Every member of the run must use the same
// bucket and run id.
func OpenBlob(ctx context.Context, bucketURL, runID string, rank, size int, opts BlobOptions) (*Blob, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open group bucket %s: %w", bucketURL, err)
	}
	g, err := NewBlob(bucket, runID, rank, size, opts)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	g.owned = true
	return g, nil
}

// NewBlob joins the group of run runID on an already opened bucket. The
// caller keeps ownership of the bucket.
func NewBlob(bucket *blob.Bucket, runID string, rank, size int, opts BlobOptions) (*Blob, error) {
	if runID == "" {
		return nil, errors.New("blob group requires a run id shared by all members")
	}
	if size < 1 {
		return nil, fmt.Errorf("blob group size must be at least 1, got %d", size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("blob group rank %d out of range [0, %d)", rank, size)
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	return &Blob{
		bucket: bucket,
		prefix: "runs/" + runID + "/",
		rank:   rank,
		size:   size,
		poll:   poll,
		nonce:  uuid.NewString(),
		log:    logging.RankLogger("group", runID, rank, size),
	}, nil
}

func (g *Blob) Rank() int { return g.rank }
func (g *Blob) Size() int { return g.size }

// Epoch returns the attempt this member joined, or 0 before its first
// collective.
func (g *Blob) Epoch() int {
	g.joinMu.Lock()
	defer g.joinMu.Unlock()
	return g.epoch
}

func (g *Blob) joinKey(rank int) string {
	return fmt.Sprintf("%sjoin/rank-%06d.json", g.prefix, rank)
}

func (g *Blob) epochKey() string {
	return g.prefix + "epoch.json"
}

func (g *Blob) epochPrefix(epoch int) string {
	return fmt.Sprintf("%sepochs/%06d/", g.prefix, epoch)
}

func (g *Blob) reducePrefix(epoch, seq int) string {
	return fmt.Sprintf("%sreduce/%06d/", g.epochPrefix(epoch), seq)
}

func (g *Blob) abortKey(epoch int) string {
	return g.epochPrefix(epoch) + "abort.json"
}

// join returns the epoch of the current attempt, running the handshake on
// first use. Rank 0 clears the join records of earlier attempts, waits for a
// record from every other rank and publishes the next epoch with their
// nonces. The other ranks keep their record in place until they find their
// nonce in the published epoch.
func (g *Blob) join(ctx context.Context) (int, error) {
	g.joinMu.Lock()
	defer g.joinMu.Unlock()

	if g.epoch > 0 {
		return g.epoch, nil
	}

	var (
		epoch int
		err   error
	)
	if g.rank == 0 {
		epoch, err = g.lead(ctx)
	} else {
		epoch, err = g.follow(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("join group: %w", err)
	}

	g.epoch = epoch
	g.log.Debug("joined group", "epoch", epoch)
	return epoch, nil
}

func (g *Blob) lead(ctx context.Context) (int, error) {
	prev, err := g.readEpoch(ctx)
	if err != nil {
		return 0, err
	}

	stale, err := g.list(ctx, g.prefix+"join/")
	if err != nil {
		return 0, err
	}
	for _, key := range stale {
		if err := g.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return 0, fmt.Errorf("clear join record %s: %w", key, err)
		}
	}

	members := map[int]string{0: g.nonce}
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	for {
		for r := 1; r < g.size; r++ {
			if _, ok := members[r]; ok {
				continue
			}
			data, err := g.bucket.ReadAll(ctx, g.joinKey(r))
			if gcerrors.Code(err) == gcerrors.NotFound {
				continue
			}
			if err != nil {
				return 0, fmt.Errorf("read join record of rank %d: %w", r, err)
			}
			var rec joinRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return 0, fmt.Errorf("parse join record of rank %d: %w", r, err)
			}
			members[r] = rec.Nonce
		}
		if len(members) == g.size {
			break
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}

	next := epochRecord{Epoch: prev.Epoch + 1, Members: members, StartedAt: time.Now().UTC()}
	data, err := json.Marshal(next)
	if err != nil {
		return 0, fmt.Errorf("marshal epoch: %w", err)
	}
	if err := g.bucket.WriteAll(ctx, g.epochKey(), data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return 0, fmt.Errorf("write epoch: %w", err)
	}
	return next.Epoch, nil
}

func (g *Blob) follow(ctx context.Context) (int, error) {
	record, err := json.Marshal(joinRecord{Rank: g.rank, Nonce: g.nonce})
	if err != nil {
		return 0, fmt.Errorf("marshal join record: %w", err)
	}

	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	for {
		cur, err := g.readEpoch(ctx)
		if err != nil {
			return 0, err
		}
		if cur.Members[g.rank] == g.nonce {
			return cur.Epoch, nil
		}

		// Rank 0 may have cleared our record along with the stale ones.
		exists, err := g.bucket.Exists(ctx, g.joinKey(g.rank))
		if err != nil {
			return 0, fmt.Errorf("check join record: %w", err)
		}
		if !exists {
			if err := g.bucket.WriteAll(ctx, g.joinKey(g.rank), record, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
				return 0, fmt.Errorf("write join record: %w", err)
			}
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// readEpoch returns the last published epoch, or a zero record if none.
func (g *Blob) readEpoch(ctx context.Context) (epochRecord, error) {
	var rec epochRecord
	data, err := g.bucket.ReadAll(ctx, g.epochKey())
	if gcerrors.Code(err) == gcerrors.NotFound {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("read epoch: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parse epoch: %w", err)
	}
	return rec, nil
}

// AllreduceSum publishes this member's values for the next reduction and
// polls until every member has published, then sums all contributions.
func (g *Blob) AllreduceSum(ctx context.Context, values []int64) ([]int64, error) {
	epoch, err := g.join(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	seq := g.seq
	g.seq++
	g.mu.Unlock()

	if err := g.checkAbort(ctx, epoch); err != nil {
		return nil, err
	}

	prefix := g.reducePrefix(epoch, seq)
	data, err := json.Marshal(contribution{Rank: g.rank, Values: values})
	if err != nil {
		return nil, fmt.Errorf("marshal contribution: %w", err)
	}
	key := fmt.Sprintf("%srank-%06d.json", prefix, g.rank)
	if err := g.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return nil, fmt.Errorf("write contribution %s: %w", key, err)
	}

	start := time.Now()
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	for {
		keys, err := g.list(ctx, prefix)
		if err != nil {
			return nil, err
		}
		if len(keys) >= g.size {
			g.log.Debug("reduction complete", "epoch", epoch, "seq", seq, "waited", time.Since(start).String())
			return g.sum(ctx, keys, len(values))
		}

		if err := g.checkAbort(ctx, epoch); err != nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (g *Blob) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := g.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (g *Blob) sum(ctx context.Context, keys []string, n int) ([]int64, error) {
	total := make([]int64, n)
	seen := make(map[int]bool, len(keys))

	for _, key := range keys {
		data, err := g.bucket.ReadAll(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read contribution %s: %w", key, err)
		}
		var c contribution
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse contribution %s: %w", key, err)
		}
		if seen[c.Rank] {
			return nil, fmt.Errorf("duplicate contribution from rank %d in %s", c.Rank, key)
		}
		seen[c.Rank] = true
		if len(c.Values) != n {
			return nil, fmt.Errorf("%w: rank %d sent %d values, expected %d", ErrLengthMismatch, c.Rank, len(c.Values), n)
		}
		for i, v := range c.Values {
			total[i] += v
		}
	}

	if len(seen) != g.size {
		return nil, fmt.Errorf("reduction saw %d distinct ranks, expected %d", len(seen), g.size)
	}
	return total, nil
}

func (g *Blob) checkAbort(ctx context.Context, epoch int) error {
	data, err := g.bucket.ReadAll(ctx, g.abortKey(epoch))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil
		}
		return fmt.Errorf("check abort marker: %w", err)
	}

	var rec abortRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return &AbortError{Rank: -1, Reason: "unreadable abort marker"}
	}
	return &AbortError{Rank: rec.Rank, Reason: rec.Reason}
}

// Abort writes the abort marker of the current attempt. Members polling in
// AllreduceSum fail with ErrAborted on their next check. The first marker
// written wins. A later attempt of the same run is not affected.
func (g *Blob) Abort(ctx context.Context, cause error) error {
	epoch, err := g.join(ctx)
	if err != nil {
		return err
	}

	exists, err := g.bucket.Exists(ctx, g.abortKey(epoch))
	if err != nil {
		return fmt.Errorf("check abort marker: %w", err)
	}
	if exists {
		return nil
	}

	data, err := json.Marshal(abortRecord{Rank: g.rank, Reason: reason(cause), AbortedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal abort marker: %w", err)
	}
	if err := g.bucket.WriteAll(ctx, g.abortKey(epoch), data, nil); err != nil {
		return fmt.Errorf("write abort marker: %w", err)
	}
	g.log.Warn("group aborted", "epoch", epoch, "reason", reason(cause))
	return nil
}

// Close releases the bucket if OpenBlob opened it.
func (g *Blob) Close() error {
	if g.owned && g.bucket != nil {
		return g.bucket.Close()
	}
	return nil
}
