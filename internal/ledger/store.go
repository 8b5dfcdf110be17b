package ledger

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/suPer8Hu/branchchat/internal/common"
)

// Key layout:
//
//	meta/<stream id>               -> JSON meta
//	chunk/<stream id>/<%020d seq>  -> raw chunk bytes
//
// Metas live in their own namespace so the watchdog and the collector can
// scan them without walking chunk data.
const (
	metaPrefix  = "meta/"
	chunkPrefix = "chunk/"
)

func metaKey(id string) []byte {
	return []byte(metaPrefix + id)
}

func chunkKey(id string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", chunkPrefix, id, seq))
}

func chunkPrefixFor(id string) []byte {
	return []byte(chunkPrefix + id + "/")
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

type meta struct {
	Status       Status    `json:"status"`
	Cursor       uint64    `json:"cursor"`
	Writer       string    `json:"writer,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastAppendAt time.Time `json:"last_append_at,omitempty"`
}

// claim checks that writer may mutate the entry and records it as the
// owner when the entry is still pending. An empty writer is the supervisor
// and may touch any non-terminal entry.
func (m *meta) claim(writer string) error {
	if m.Status.Terminal() {
		return errors.Wrapf(common.ErrInvalidState, "stream is %s", m.Status)
	}
	if writer == "" {
		return nil
	}
	if m.Writer != "" && m.Writer != writer {
		return errors.Wrap(common.ErrInvalidState, "stream is claimed by another producer")
	}
	m.Writer = writer
	return nil
}

func loadMeta(r pebble.Reader, id string) (*meta, error) {
	v, closer, err := r.Get(metaKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, errors.Wrapf(common.ErrNotFound, "stream %s", id)
		}
		return nil, errors.Wrapf(err, "load stream %s", id)
	}
	defer closer.Close()

	var m meta
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, errors.Wrapf(err, "decode stream %s", id)
	}
	return &m, nil
}

func encodeMeta(m *meta) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode stream meta")
	}
	return b, nil
}

// readChunks concatenates chunks [from, to) of stream id.
func readChunks(r pebble.Reader, id string, from, to uint64) (string, error) {
	if from >= to {
		return "", nil
	}
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: chunkKey(id, from),
		UpperBound: chunkKey(id, to),
	})
	if err != nil {
		return "", errors.Wrapf(err, "iterate stream %s", id)
	}
	defer iter.Close()

	var out []byte
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, iter.Value()...)
	}
	if err := iter.Error(); err != nil {
		return "", errors.Wrapf(err, "iterate stream %s", id)
	}
	return string(out), nil
}

type metaVisitor func(id string, m *meta) error

// scanMetas walks every stream meta in key order.
func scanMetas(r pebble.Reader, visit metaVisitor) error {
	prefix := []byte(metaPrefix)
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return errors.Wrap(err, "iterate stream metas")
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Key()[len(prefix):])
		var m meta
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return errors.Wrapf(err, "decode stream %s", id)
		}
		if err := visit(id, &m); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return iter.Error()
}
