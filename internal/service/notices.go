package service

import (
	"errors"
	"sync"
	"time"

	"orbix/internal/apperrors"
)

const maxNotices = 20

// Notice is a dismissible, user-facing message produced by a failure.
type Notice struct {
	Kind    apperrors.Kind `json:"kind"`
	Op      string         `json:"op,omitempty"`
	Message string         `json:"message"`
	At      time.Time      `json:"at"`
}

type noticeBoard struct {
	now func() time.Time

	mu    sync.Mutex
	items []Notice
}

// add records err when its kind is user-visible. Only the newest notices are kept.
func (b *noticeBoard) add(err error) {
	if err == nil {
		return
	}
	kind := apperrors.KindOf(err)
	if !apperrors.UserVisible(kind) {
		return
	}
	n := Notice{Kind: kind, Message: err.Error(), At: b.now()}
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		n.Op = ae.Op
		if ae.Err != nil {
			n.Message = ae.Err.Error()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, n)
	if len(b.items) > maxNotices {
		b.items = append([]Notice(nil), b.items[len(b.items)-maxNotices:]...)
	}
}

func (b *noticeBoard) list() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Notice(nil), b.items...)
}

func (b *noticeBoard) clear() {
	b.mu.Lock()
	b.items = nil
	b.mu.Unlock()
}
