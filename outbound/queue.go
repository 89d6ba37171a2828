/*
NAME
  queue.go

DESCRIPTION
  queue.go watches a message-source text file for appended lines and
  turns them into outbound frame items, tagging each with a per-node
  message id. Growth is detected primarily via fsnotify, falling back
  to mtime polling for editors or NFS mounts that don't deliver
  reliable write events, matching the source's polling design.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package outbound watches the message-source file (spec.md §6's
// message-source contract) and turns newly appended lines into frame
// items ready for the MAC state machine to transmit.
package outbound

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ausocean/tonemac/config"
	"github.com/ausocean/tonemac/frame"
)

// Kind identifies whether an Item is destined for one peer or all of
// them.
type Kind int

const (
	Broadcast Kind = iota
	Unicast
)

// Item is one message pulled off the queue, already tagged with the
// message id this node will use on the wire.
type Item struct {
	Text    string        // original payload text, for the [SENT] log line
	Payload []byte        // Text packed into 4-bit nibbles (frame.DATA.Payload)
	Kind    Kind
	Dest    config.NodeId // valid only when Kind == Unicast
	MsgID   uint8         // 2-bit, assigned in submission order, wraps mod 4
}

// Queue polls a message-source file, default path ".buffer", for
// appended lines of the form "<text> <target>".
type Queue struct {
	cfg  config.Config
	path string

	watcher *fsnotify.Watcher
	offset  int64
	modTime time.Time

	nextMsgID uint8
	items     []Item
}

// New returns a Queue reading path, watched via fsnotify on its parent
// directory (the file itself need not exist yet).
func New(cfg config.Config, path string) (*Queue, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("outbound: fsnotify.NewWatcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("outbound: watching %s: %w", dir, err)
	}
	return &Queue{cfg: cfg, path: path, watcher: w}, nil
}

// Close stops the underlying fsnotify watcher.
func (q *Queue) Close() error { return q.watcher.Close() }

// Poll checks for newly appended lines, consuming any pending fsnotify
// event for path and otherwise falling back to an mtime comparison, so
// that a write this process's watcher missed is still picked up on the
// next call.
func (q *Queue) Poll() error {
	select {
	case ev, ok := <-q.watcher.Events:
		if ok && filepath.Clean(ev.Name) == filepath.Clean(q.path) && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
			return q.readNew()
		}
	case err, ok := <-q.watcher.Errors:
		if ok {
			q.cfg.Logger.Warning("outbound: watcher error", "error", err.Error())
		}
	default:
	}
	return q.pollModTime()
}

func (q *Queue) pollModTime() error {
	info, err := os.Stat(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.ModTime().After(q.modTime) {
		return nil
	}
	q.modTime = info.ModTime()
	return q.readNew()
}

func (q *Queue) readNew() error {
	f, err := os.Open(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	if _, err := f.Seek(q.offset, io.SeekStart); err != nil {
		return fmt.Errorf("outbound: seeking %s: %w", q.path, err)
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		q.offset += int64(len(scanner.Bytes())) + 1
		if err := q.accept(line); err != nil {
			q.cfg.Logger.Warning("outbound: skipping malformed line", "line", line, "error", err.Error())
		}
	}
	return scanner.Err()
}

// accept parses one "<text> <target>" line and, unless target is -1,
// enqueues it, per spec.md §4.H/§6.
func (q *Queue) accept(line string) error {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return fmt.Errorf("want 2 whitespace-separated fields, got %d", len(fields))
	}
	text, targetField := fields[0], fields[1]

	target, err := strconv.Atoi(targetField)
	if err != nil {
		return fmt.Errorf("bad target %q: %w", targetField, err)
	}
	if target == -1 {
		return nil
	}

	payload, err := NibblesFromText(text)
	if err != nil {
		return fmt.Errorf("encoding payload %q: %w", text, err)
	}

	item := Item{Text: text, Payload: payload, MsgID: q.nextMsgID}
	q.nextMsgID = (q.nextMsgID + 1) & 0b11

	switch {
	case target == 0:
		item.Kind = Broadcast
	case target >= 1 && target <= 3:
		item.Kind = Unicast
		item.Dest = config.NodeId(target)
	default:
		return fmt.Errorf("target %d out of range", target)
	}

	q.items = append(q.items, item)
	return nil
}

// Pop removes and returns the oldest queued item, if any. The MAC
// state machine holds onto a popped item across retries itself; Pop is
// not called again for the same message until it is either delivered
// or abandoned.
func (q *Queue) Pop() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len reports the number of items waiting to be popped.
func (q *Queue) Len() int { return len(q.items) }

// ErrTextTooLong is returned by NibblesFromText when text would not
// fit the 15-nibble payload field.
var ErrTextTooLong = errors.New("outbound: text too long for one DATA frame")

// NibblesFromText packs text's bytes two nibbles each (high nibble
// first), the byte-to-wire-symbol convention of spec.md §3's
// OutboundItem.
func NibblesFromText(text string) ([]byte, error) {
	if len(text) == 0 || 2*len(text) > frame.MaxPayloadNibbles {
		return nil, ErrTextTooLong
	}
	nibbles := make([]byte, 0, 2*len(text))
	for _, b := range []byte(text) {
		nibbles = append(nibbles, b>>4, b&0xF)
	}
	return nibbles, nil
}

// TextFromNibbles is the inverse of NibblesFromText. An odd nibble
// count cannot represent a whole number of bytes and is an error.
func TextFromNibbles(nibbles []byte) (string, error) {
	if len(nibbles)%2 != 0 {
		return "", fmt.Errorf("outbound: odd nibble count %d cannot pack to bytes", len(nibbles))
	}
	out := make([]byte, len(nibbles)/2)
	for i := range out {
		out[i] = nibbles[2*i]<<4 | nibbles[2*i+1]
	}
	return string(out), nil
}
